// Package trust computes composite trust scores and runs heuristic anomaly
// detection over agent activity and relationship data.
package trust

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yksanjo/agent-identity-hub/internal/storage"
)

// Config holds the tunable parameters of the trust calculation.
type Config struct {
	AttestationWeight  float64 `yaml:"attestation_weight"`
	ActivityWeight     float64 `yaml:"activity_weight"`
	RelationshipWeight float64 `yaml:"relationship_weight"`
	AgeWeight          float64 `yaml:"age_weight"`
	ReputationWeight   float64 `yaml:"reputation_weight"`
	BoostRate          float64 `yaml:"boost_rate"`
	DecayRate          float64 `yaml:"decay_rate"`
}

// DefaultConfig returns the production trust parameters.
func DefaultConfig() Config {
	return Config{
		AttestationWeight:  0.3,
		ActivityWeight:     0.2,
		RelationshipWeight: 0.2,
		AgeWeight:          0.1,
		ReputationWeight:   0.2,
		BoostRate:          0.05,
		DecayRate:          0.1,
	}
}

// severityMultiplier maps anomaly severity to its trust penalty factor.
func severityMultiplier(s storage.Severity) float64 {
	switch s {
	case storage.SeverityCritical:
		return 0.3
	case storage.SeverityHigh:
		return 0.2
	case storage.SeverityMedium:
		return 0.1
	case storage.SeverityLow:
		return 0.05
	default:
		return 0
	}
}

// Engine computes composite trust scores. Recalculations for different
// agents proceed independently; recalculations for the same agent are
// serialized on a per-agent lock so the read-compute-write cannot lose an
// update.
type Engine struct {
	db  *storage.DB
	cfg Config

	// OnScore, when set, is invoked after every persisted recalculation.
	// Used by the event feed.
	OnScore func(agentID string, score float64)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a trust engine with the given parameters.
func NewEngine(db *storage.DB, cfg Config) *Engine {
	return &Engine{db: db, cfg: cfg, locks: make(map[string]*sync.Mutex)}
}

// agentLock returns the serialization lock for one agent.
func (e *Engine) agentLock(agentID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[agentID] = l
	}
	return l
}

// Calculate recomputes an agent's composite trust score, persists a history
// record, and overwrites the stored score. Deterministic for identical
// input snapshots; the result is always in [0,1].
func (e *Engine) Calculate(agentID string) (*storage.TrustScoreRecord, error) {
	l := e.agentLock(agentID)
	l.Lock()
	defer l.Unlock()

	agent, err := e.db.GetAgent(agentID)
	if err != nil {
		return nil, fmt.Errorf("trust calculate: %w", err)
	}

	now := time.Now().Unix()
	factors := map[string]float64{}

	attScore, err := e.attestationScore(agent.DID)
	if err != nil {
		return nil, err
	}
	actScore, err := e.activityScore(agentID, now)
	if err != nil {
		return nil, err
	}
	relScore, err := e.relationshipScore(agentID)
	if err != nil {
		return nil, err
	}
	ageScore := e.ageScore(agent.CreatedAt, now)
	repScore := e.reputationScore(agent.Reputation)

	factors["attestation"] = attScore
	factors["activity"] = actScore
	factors["relationship"] = relScore
	factors["age"] = ageScore
	factors["reputation"] = repScore

	score := e.cfg.AttestationWeight*attScore +
		e.cfg.ActivityWeight*actScore +
		e.cfg.RelationshipWeight*relScore +
		e.cfg.AgeWeight*ageScore +
		e.cfg.ReputationWeight*repScore

	// Recency boost/decay over a one-week horizon.
	recency := 0.0
	if agent.LastActiveAt > 0 {
		hours := float64(now-agent.LastActiveAt) / 3600
		recency = 1 - hours/168
		if recency < 0 {
			recency = 0
		}
	}
	factors["recency"] = recency
	if recency >= 0.5 {
		score += e.cfg.BoostRate * recency
	} else {
		score -= e.cfg.DecayRate * (0.5 - recency)
	}

	penalty, err := e.anomalyPenalty(agentID)
	if err != nil {
		return nil, err
	}
	factors["anomaly_penalty"] = penalty
	score -= penalty

	score = clamp01(score)

	record := &storage.TrustScoreRecord{
		ID:           uuid.New().String(),
		AgentID:      agentID,
		Score:        score,
		Factors:      factors,
		CalculatedAt: now,
	}
	if err := e.db.InsertTrustScore(record); err != nil {
		log.Printf("[trust] persist score for %s: %v", agentID, err)
		return nil, err
	}
	if err := e.db.UpdateAgentTrustScore(agentID, score, now); err != nil {
		log.Printf("[trust] update agent score for %s: %v", agentID, err)
		return nil, err
	}

	act := &storage.Activity{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		Type:        storage.ActivityTrustScoreUpdated,
		Description: fmt.Sprintf("trust score recalculated: %.3f", score),
		Timestamp:   now,
		Metadata:    map[string]any{"score": score},
	}
	if err := e.db.AppendActivity(act); err != nil {
		log.Printf("[trust] append activity for %s: %v", agentID, err)
	}

	if e.OnScore != nil {
		e.OnScore(agentID, score)
	}
	return record, nil
}

// History returns trust score records for an agent, newest first.
func (e *Engine) History(agentID string, limit int) ([]*storage.TrustScoreRecord, error) {
	return e.db.ListTrustScores(agentID, limit)
}

// attestationScore starts at the 0.5 neutral baseline and rewards trust
// assertions and identity verifications, capped at 1.
func (e *Engine) attestationScore(did string) (float64, error) {
	counts, err := e.db.CountAttestationsByType(did)
	if err != nil {
		return 0, fmt.Errorf("trust attestation score: %w", err)
	}
	score := 0.5
	score += min64(0.1*float64(counts[storage.AttTrustAssertion]), 0.3)
	score += min64(0.05*float64(counts[storage.AttIdentityVerification]), 0.2)
	if score > 1 {
		score = 1
	}
	return score, nil
}

// activityScore rates the last seven days of activity by the ratio of
// positive events (capability grants, attestations issued) to negative ones
// (anomalies, revocations). No activity at all is neutral; a silent week on
// a previously active agent scores 0.3.
func (e *Engine) activityScore(agentID string, now int64) (float64, error) {
	total, err := e.db.CountActivitiesSince(agentID, 0)
	if err != nil {
		return 0, fmt.Errorf("trust activity score: %w", err)
	}
	if total == 0 {
		return 0.5, nil
	}

	weekAgo := now - 7*24*3600
	recent, err := e.db.ListActivitiesSince(agentID, weekAgo)
	if err != nil {
		return 0, fmt.Errorf("trust activity score: %w", err)
	}
	if len(recent) == 0 {
		return 0.3, nil
	}

	var positive, negative int
	for _, a := range recent {
		switch a.Type {
		case storage.ActivityCapabilityGranted, storage.ActivityAttestationIssued:
			positive++
		case storage.ActivityAnomalyDetected, storage.ActivityCapabilityRevoked:
			negative++
		}
	}
	if positive+negative == 0 {
		return 0.5, nil
	}
	return 0.5 + 0.5*float64(positive)/float64(positive+negative), nil
}

// relationshipScore is the mean trust level over all incoming and outgoing
// edges, neutral when the agent has none.
func (e *Engine) relationshipScore(agentID string) (float64, error) {
	rels, err := e.db.ListRelationshipsForAgent(agentID)
	if err != nil {
		return 0, fmt.Errorf("trust relationship score: %w", err)
	}
	if len(rels) == 0 {
		return 0.5, nil
	}
	var sum float64
	for _, r := range rels {
		sum += r.TrustLevel
	}
	return sum / float64(len(rels)), nil
}

// ageScore saturates at 90 days.
func (e *Engine) ageScore(createdAt, now int64) float64 {
	days := float64(now-createdAt) / 86400
	if days < 0 {
		days = 0
	}
	return min64(days/90, 1)
}

// reputationScore maps the signed reputation range [-1000, 1000] onto [0,1].
func (e *Engine) reputationScore(reputation int64) float64 {
	return clamp01(float64(reputation+1000) / 2000)
}

// anomalyPenalty sums severity-weighted confidence over unresolved
// anomalies, capped at 0.5.
func (e *Engine) anomalyPenalty(agentID string) (float64, error) {
	anomalies, err := e.db.ListAnomalies(agentID, true)
	if err != nil {
		return 0, fmt.Errorf("trust anomaly penalty: %w", err)
	}
	var penalty float64
	for _, a := range anomalies {
		penalty += severityMultiplier(a.Severity) * a.Confidence
	}
	if penalty > 0.5 {
		penalty = 0.5
	}
	return penalty, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
