package storage

import (
	"database/sql"
	"fmt"
)

// --- Relationship CRUD ---

// CreateRelationship inserts a directed relationship edge. The schema's
// UNIQUE (source, target, type) constraint rejects duplicate edges.
func (d *DB) CreateRelationship(r *Relationship) error {
	perms, err := marshalJSON(r.Permissions)
	if err != nil {
		return fmt.Errorf("create relationship: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO relationships (id, source_agent_id, target_agent_id, type, trust_level, permissions, established_at, last_interaction_at, interaction_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SourceAgentID, r.TargetAgentID, string(r.Type), r.TrustLevel,
		perms, r.EstablishedAt, r.LastInteractionAt, r.InteractionCount,
	)
	if err != nil {
		return fmt.Errorf("create relationship: %w", err)
	}
	return nil
}

// GetRelationship retrieves a relationship by ID.
func (d *DB) GetRelationship(id string) (*Relationship, error) {
	row := d.db.QueryRow(
		`SELECT id, source_agent_id, target_agent_id, type, trust_level, permissions, established_at, last_interaction_at, interaction_count
		 FROM relationships WHERE id = ?`, id)
	r, err := scanRelationship(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("get relationship: %w", err)
	}
	return r, nil
}

// ListRelationshipsForAgent returns all edges where the agent is either the
// source or the target.
func (d *DB) ListRelationshipsForAgent(agentID string) ([]*Relationship, error) {
	rows, err := d.db.Query(
		`SELECT id, source_agent_id, target_agent_id, type, trust_level, permissions, established_at, last_interaction_at, interaction_count
		 FROM relationships WHERE source_agent_id = ? OR target_agent_id = ?
		 ORDER BY established_at`, agentID, agentID)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var rels []*Relationship
	for rows.Next() {
		r, err := scanRelationship(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// TouchRelationship bumps the interaction counter and timestamp on an edge.
func (d *DB) TouchRelationship(id string, at int64) error {
	res, err := d.db.Exec(
		`UPDATE relationships SET interaction_count = interaction_count + 1, last_interaction_at = ? WHERE id = ?`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("touch relationship: %w", err)
	}
	return requireRows(res, "touch relationship")
}

func scanRelationship(scan func(...any) error) (*Relationship, error) {
	r := &Relationship{}
	var typ string
	var perms sql.NullString
	err := scan(&r.ID, &r.SourceAgentID, &r.TargetAgentID, &typ, &r.TrustLevel,
		&perms, &r.EstablishedAt, &r.LastInteractionAt, &r.InteractionCount)
	if err != nil {
		return nil, err
	}
	r.Type = RelationshipType(typ)
	if err := unmarshalJSON(perms, &r.Permissions); err != nil {
		return nil, err
	}
	return r, nil
}

// --- Activity log ---

// AppendActivity appends an entry to the activity log.
func (d *DB) AppendActivity(a *Activity) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin append activity: %w", err)
	}
	defer tx.Rollback()
	if err := insertActivity(tx, a); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append activity: %w", err)
	}
	return nil
}

// insertActivity writes an activity row inside an existing transaction so
// callers can bundle the append with other writes.
func insertActivity(tx *sql.Tx, a *Activity) error {
	meta, err := marshalJSON(a.Metadata)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	related, err := marshalJSON(a.RelatedAgentIDs)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	_, err = tx.Exec(
		`INSERT INTO activities (id, agent_id, type, description, timestamp, metadata, related_agent_ids)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AgentID, string(a.Type), a.Description, a.Timestamp, meta, related,
	)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListRecentActivities returns the most recent activity entries for an
// agent, newest first, up to limit.
func (d *DB) ListRecentActivities(agentID string, limit int) ([]*Activity, error) {
	rows, err := d.db.Query(
		`SELECT id, agent_id, type, description, timestamp, metadata, related_agent_ids
		 FROM activities WHERE agent_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var acts []*Activity
	for rows.Next() {
		a := &Activity{}
		var typ string
		var meta, related sql.NullString
		if err := rows.Scan(&a.ID, &a.AgentID, &typ, &a.Description, &a.Timestamp, &meta, &related); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Type = ActivityType(typ)
		if err := unmarshalJSON(meta, &a.Metadata); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if err := unmarshalJSON(related, &a.RelatedAgentIDs); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		acts = append(acts, a)
	}
	return acts, rows.Err()
}

// ListActivitiesSince returns all activity entries for an agent with a
// timestamp at or after since, newest first.
func (d *DB) ListActivitiesSince(agentID string, since int64) ([]*Activity, error) {
	rows, err := d.db.Query(
		`SELECT id, agent_id, type, description, timestamp, metadata, related_agent_ids
		 FROM activities WHERE agent_id = ? AND timestamp >= ? ORDER BY timestamp DESC, id DESC`,
		agentID, since)
	if err != nil {
		return nil, fmt.Errorf("list activities since: %w", err)
	}
	defer rows.Close()

	var acts []*Activity
	for rows.Next() {
		a := &Activity{}
		var typ string
		var meta, related sql.NullString
		if err := rows.Scan(&a.ID, &a.AgentID, &typ, &a.Description, &a.Timestamp, &meta, &related); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Type = ActivityType(typ)
		if err := unmarshalJSON(meta, &a.Metadata); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if err := unmarshalJSON(related, &a.RelatedAgentIDs); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		acts = append(acts, a)
	}
	return acts, rows.Err()
}

// CountActivitiesSince counts activity entries for an agent since the given
// unix timestamp.
func (d *DB) CountActivitiesSince(agentID string, since int64) (int, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM activities WHERE agent_id = ? AND timestamp >= ?`,
		agentID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count activities: %w", err)
	}
	return n, nil
}
