package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedAgent creates an agent with its identity record and the initial
// activity entry, returning the agent.
func seedAgent(t *testing.T, db *DB, n int) *Agent {
	t.Helper()
	now := time.Now().Unix()
	a := &Agent{
		ID:           fmt.Sprintf("agent-%03d", n),
		DID:          fmt.Sprintf("did:agent:%03d", n),
		Name:         fmt.Sprintf("Agent %d", n),
		Type:         AgentWorker,
		PublicKey:    []byte("test-pub-key"),
		TrustScore:   0.5,
		Status:       AgentActive,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActiveAt: now,
	}
	ident := &Identity{
		DID:       a.DID,
		AgentID:   a.ID,
		Document:  []byte(`{"id":"` + a.DID + `"}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
	act := &Activity{
		ID:          a.ID + "-created",
		AgentID:     a.ID,
		Type:        ActivityAgentCreated,
		Description: "agent registered",
		Timestamp:   now,
	}
	if err := db.CreateAgentWithIdentity(a, ident, act); err != nil {
		t.Fatalf("seedAgent: %v", err)
	}
	return a
}

func TestNewDB_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}
}

func TestNewDB_AllTablesExist(t *testing.T) {
	db := testDB(t)

	expected := []string{
		"agents", "identities", "capabilities", "delegations",
		"attestations", "relationships", "activities", "trust_scores", "anomalies",
	}
	for _, table := range expected {
		var name string
		err := db.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestDB_Close(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var name string
	err = db.db.QueryRow("SELECT 1").Scan(&name)
	if err == nil {
		t.Fatal("expected error after Close, got nil")
	}
}
