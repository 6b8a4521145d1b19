package trust

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yksanjo/agent-identity-hub/internal/storage"
)

// recentWindow is how many activity entries the per-type detectors inspect.
const recentWindow = 100

// Detector runs the heuristic anomaly checks. Each check is stateless and
// independent: it either yields one anomaly of its type or nothing.
type Detector struct {
	db *storage.DB

	// OnAnomaly, when set, is invoked for every persisted anomaly.
	OnAnomaly func(*storage.Anomaly)
}

// NewDetector creates an anomaly detector over the given store.
func NewDetector(db *storage.DB) *Detector {
	return &Detector{db: db}
}

// Detect runs all five checks for an agent, persists every anomaly found,
// and appends a matching activity entry. The appended entries feed back
// into the trust engine's activity and penalty terms on the next
// recalculation.
func (d *Detector) Detect(agentID string) ([]*storage.Anomaly, error) {
	recent, err := d.db.ListRecentActivities(agentID, recentWindow)
	if err != nil {
		return nil, fmt.Errorf("detect anomalies: %w", err)
	}
	rels, err := d.db.ListRelationshipsForAgent(agentID)
	if err != nil {
		return nil, fmt.Errorf("detect anomalies: %w", err)
	}

	now := time.Now().Unix()
	var found []*storage.Anomaly

	checks := []func() *storage.Anomaly{
		func() *storage.Anomaly { return d.checkUnusualAccess(agentID, now) },
		func() *storage.Anomaly { return checkTrustManipulation(recent) },
		func() *storage.Anomaly { return checkCapabilityEscalation(recent) },
		func() *storage.Anomaly { return checkCollusion(agentID, rels) },
		func() *storage.Anomaly { return checkBehaviorDeviation(recent) },
	}
	for _, check := range checks {
		a := check()
		if a == nil {
			continue
		}
		a.ID = uuid.New().String()
		a.AgentID = agentID
		a.DetectedAt = now
		if err := d.db.InsertAnomaly(a); err != nil {
			log.Printf("[anomaly] persist %s for %s: %v", a.Type, agentID, err)
			continue
		}
		act := &storage.Activity{
			ID:          uuid.New().String(),
			AgentID:     agentID,
			Type:        storage.ActivityAnomalyDetected,
			Description: fmt.Sprintf("%s anomaly detected (%s)", a.Type, a.Severity),
			Timestamp:   now,
			Metadata:    map[string]any{"anomaly_id": a.ID, "anomaly_type": string(a.Type)},
		}
		if err := d.db.AppendActivity(act); err != nil {
			log.Printf("[anomaly] append activity for %s: %v", agentID, err)
		}
		if d.OnAnomaly != nil {
			d.OnAnomaly(a)
		}
		found = append(found, a)
	}
	return found, nil
}

// Anomalies returns an agent's anomaly history.
func (d *Detector) Anomalies(agentID string, unresolvedOnly bool) ([]*storage.Anomaly, error) {
	return d.db.ListAnomalies(agentID, unresolvedOnly)
}

// Resolve marks an anomaly resolved, clearing its trust penalty.
func (d *Detector) Resolve(id, resolution string) error {
	return d.db.ResolveAnomaly(id, resolution, time.Now().Unix())
}

// checkUnusualAccess flags more than 50 activity events in the trailing
// hour.
func (d *Detector) checkUnusualAccess(agentID string, now int64) *storage.Anomaly {
	count, err := d.db.CountActivitiesSince(agentID, now-3600)
	if err != nil {
		log.Printf("[anomaly] count activities for %s: %v", agentID, err)
		return nil
	}
	if count <= 50 {
		return nil
	}
	return &storage.Anomaly{
		Type:              storage.AnomalyUnusualAccess,
		Severity:          storage.SeverityHigh,
		Confidence:        min64(float64(count)/100, 1),
		Indicators:        []string{fmt.Sprintf("%d activity events in the last hour (threshold: 50)", count)},
		RecommendedAction: "rate_limit",
	}
}

// checkTrustManipulation flags three or more trust score updates among the
// five most recent activities.
func checkTrustManipulation(recent []*storage.Activity) *storage.Anomaly {
	n := len(recent)
	if n > 5 {
		n = 5
	}
	updates := 0
	for _, a := range recent[:n] {
		if a.Type == storage.ActivityTrustScoreUpdated {
			updates++
		}
	}
	if updates < 3 {
		return nil
	}
	return &storage.Anomaly{
		Type:              storage.AnomalyTrustManipulation,
		Severity:          storage.SeverityMedium,
		Confidence:        0.7,
		Indicators:        []string{fmt.Sprintf("%d of the last %d activities are trust score updates", updates, n)},
		RecommendedAction: "review",
	}
}

// checkCapabilityEscalation flags any capability grant whose metadata
// mentions admin.
func checkCapabilityEscalation(recent []*storage.Activity) *storage.Anomaly {
	for _, a := range recent {
		if a.Type != storage.ActivityCapabilityGranted {
			continue
		}
		meta, err := json.Marshal(a.Metadata)
		if err != nil {
			continue
		}
		if strings.Contains(string(meta), "admin") {
			return &storage.Anomaly{
				Type:              storage.AnomalyCapabilityEscalation,
				Severity:          storage.SeverityHigh,
				Confidence:        0.8,
				Indicators:        []string{"capability grant mentioning admin: " + a.ID},
				RecommendedAction: "revoke_capability",
			}
		}
	}
	return nil
}

// checkCollusion flags an agent touching more than 20 distinct other agents
// through relationships.
func checkCollusion(agentID string, rels []*storage.Relationship) *storage.Anomaly {
	unique := make(map[string]bool)
	for _, r := range rels {
		if r.SourceAgentID != agentID {
			unique[r.SourceAgentID] = true
		}
		if r.TargetAgentID != agentID {
			unique[r.TargetAgentID] = true
		}
	}
	if len(unique) <= 20 {
		return nil
	}
	return &storage.Anomaly{
		Type:              storage.AnomalyCollusionPattern,
		Severity:          storage.SeverityMedium,
		Confidence:        min64(float64(len(unique))/50, 1),
		Indicators:        []string{fmt.Sprintf("relationships with %d distinct agents (threshold: 20)", len(unique))},
		RecommendedAction: "investigate",
	}
}

// checkBehaviorDeviation flags a high standard deviation across per-type
// activity counts once at least ten activities exist.
func checkBehaviorDeviation(recent []*storage.Activity) *storage.Anomaly {
	if len(recent) < 10 {
		return nil
	}
	counts := make(map[storage.ActivityType]int)
	for _, a := range recent {
		counts[a.Type]++
	}
	var sum float64
	for _, n := range counts {
		sum += float64(n)
	}
	mean := sum / float64(len(counts))
	var variance float64
	for _, n := range counts {
		diff := float64(n) - mean
		variance += diff * diff
	}
	variance /= float64(len(counts))
	stdDev := math.Sqrt(variance)
	if stdDev <= 5 {
		return nil
	}
	return &storage.Anomaly{
		Type:              storage.AnomalyBehaviorDeviation,
		Severity:          storage.SeverityLow,
		Confidence:        min64(stdDev/10, 1),
		Indicators:        []string{fmt.Sprintf("activity type distribution std dev %.2f (threshold: 5)", stdDev)},
		RecommendedAction: "monitor",
	}
}
