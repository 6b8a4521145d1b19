package storage

import (
	"fmt"
	"testing"
	"time"
)

// seedRelationship creates a directed edge between two seeded agents.
func seedRelationship(t *testing.T, db *DB, id string, source, target *Agent, typ RelationshipType) *Relationship {
	t.Helper()
	now := time.Now().Unix()
	r := &Relationship{
		ID:                id,
		SourceAgentID:     source.ID,
		TargetAgentID:     target.ID,
		Type:              typ,
		TrustLevel:        0.5,
		Permissions:       []string{"message"},
		EstablishedAt:     now,
		LastInteractionAt: now,
	}
	if err := db.CreateRelationship(r); err != nil {
		t.Fatalf("seedRelationship: %v", err)
	}
	return r
}

func TestRelationship_RoundTrip(t *testing.T) {
	db := testDB(t)
	a := seedAgent(t, db, 1)
	b := seedAgent(t, db, 2)
	r := seedRelationship(t, db, "rel-1", a, b, RelSupervises)

	got, err := db.GetRelationship(r.ID)
	if err != nil {
		t.Fatalf("GetRelationship: %v", err)
	}
	if got.Type != RelSupervises {
		t.Errorf("Type = %q, want supervises", got.Type)
	}
	if got.SourceAgentID != a.ID || got.TargetAgentID != b.ID {
		t.Errorf("edge = %s->%s, want %s->%s", got.SourceAgentID, got.TargetAgentID, a.ID, b.ID)
	}
	if len(got.Permissions) != 1 || got.Permissions[0] != "message" {
		t.Errorf("Permissions = %v", got.Permissions)
	}
}

func TestCreateRelationship_DuplicateEdge(t *testing.T) {
	db := testDB(t)
	a := seedAgent(t, db, 1)
	b := seedAgent(t, db, 2)
	seedRelationship(t, db, "rel-1", a, b, RelDelegatesTo)

	dup := &Relationship{
		ID: "rel-2", SourceAgentID: a.ID, TargetAgentID: b.ID,
		Type: RelDelegatesTo, TrustLevel: 0.9,
		EstablishedAt: time.Now().Unix(), LastInteractionAt: time.Now().Unix(),
	}
	if err := db.CreateRelationship(dup); err == nil {
		t.Fatal("expected unique constraint error for duplicate (source, target, type)")
	}
	// Same pair with a different type is a distinct edge.
	seedRelationship(t, db, "rel-3", a, b, RelVerifies)
}

func TestListRelationshipsForAgent_BothDirections(t *testing.T) {
	db := testDB(t)
	a := seedAgent(t, db, 1)
	b := seedAgent(t, db, 2)
	c := seedAgent(t, db, 3)
	seedRelationship(t, db, "rel-1", a, b, RelDelegatesTo)
	seedRelationship(t, db, "rel-2", c, a, RelVerifies)
	seedRelationship(t, db, "rel-3", b, c, RelCommunicatesWith)

	rels, err := db.ListRelationshipsForAgent(a.ID)
	if err != nil {
		t.Fatalf("ListRelationshipsForAgent: %v", err)
	}
	if len(rels) != 2 {
		t.Fatalf("expected 2 edges touching %s, got %d", a.ID, len(rels))
	}
}

func TestTouchRelationship_BumpsCounter(t *testing.T) {
	db := testDB(t)
	a := seedAgent(t, db, 1)
	b := seedAgent(t, db, 2)
	r := seedRelationship(t, db, "rel-1", a, b, RelDelegatesTo)

	at := time.Now().Unix() + 100
	if err := db.TouchRelationship(r.ID, at); err != nil {
		t.Fatalf("TouchRelationship: %v", err)
	}
	if err := db.TouchRelationship(r.ID, at+1); err != nil {
		t.Fatalf("TouchRelationship: %v", err)
	}

	got, err := db.GetRelationship(r.ID)
	if err != nil {
		t.Fatalf("GetRelationship: %v", err)
	}
	if got.InteractionCount != 2 {
		t.Errorf("InteractionCount = %d, want 2", got.InteractionCount)
	}
	if got.LastInteractionAt != at+1 {
		t.Errorf("LastInteractionAt = %d, want %d", got.LastInteractionAt, at+1)
	}
}

func TestActivities_OrderAndWindow(t *testing.T) {
	db := testDB(t)
	a := seedAgent(t, db, 1)

	base := time.Now().Unix()
	for i := 0; i < 5; i++ {
		act := &Activity{
			ID:        fmt.Sprintf("act-%d", i),
			AgentID:   a.ID,
			Type:      ActivityCapabilityGranted,
			Timestamp: base + int64(i),
			Metadata:  map[string]any{"seq": i},
		}
		if err := db.AppendActivity(act); err != nil {
			t.Fatalf("AppendActivity: %v", err)
		}
	}

	recent, err := db.ListRecentActivities(a.ID, 3)
	if err != nil {
		t.Fatalf("ListRecentActivities: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3, got %d", len(recent))
	}
	if recent[0].ID != "act-4" {
		t.Errorf("newest first: got %s, want act-4", recent[0].ID)
	}

	since, err := db.ListActivitiesSince(a.ID, base+3)
	if err != nil {
		t.Fatalf("ListActivitiesSince: %v", err)
	}
	if len(since) != 2 {
		t.Fatalf("expected 2 since base+3, got %d", len(since))
	}

	n, err := db.CountActivitiesSince(a.ID, base+1)
	if err != nil {
		t.Fatalf("CountActivitiesSince: %v", err)
	}
	if n != 4 {
		t.Errorf("count = %d, want 4", n)
	}
}
