package storage

import (
	"database/sql"
	"fmt"
)

// --- Agent CRUD ---

// CreateAgentWithIdentity inserts an agent, its identity, and the creation
// activity in one transaction. A failure after any insert rolls back the
// whole unit, so an agent can never exist without its identity.
func (d *DB) CreateAgentWithIdentity(a *Agent, ident *Identity, act *Activity) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin create agent: %w", err)
	}
	defer tx.Rollback()

	caps, err := marshalJSON(a.Capabilities)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	meta, err := marshalJSON(a.Metadata)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO agents (id, did, name, type, public_key, trust_score, reputation, status, capabilities, metadata, created_at, updated_at, last_active_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DID, a.Name, string(a.Type), a.PublicKey, a.TrustScore, a.Reputation,
		string(a.Status), caps, meta, a.CreatedAt, a.UpdatedAt, a.LastActiveAt,
	)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO identities (did, agent_id, document, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ident.DID, ident.AgentID, ident.Document, ident.CreatedAt, ident.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}

	if act != nil {
		if err := insertActivity(tx, act); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID.
func (d *DB) GetAgent(id string) (*Agent, error) {
	return d.scanAgent(d.db.QueryRow(
		`SELECT id, did, name, type, public_key, trust_score, reputation, status, capabilities, metadata, created_at, updated_at, last_active_at
		 FROM agents WHERE id = ?`, id))
}

// GetAgentByDID retrieves an agent by its DID.
func (d *DB) GetAgentByDID(did string) (*Agent, error) {
	return d.scanAgent(d.db.QueryRow(
		`SELECT id, did, name, type, public_key, trust_score, reputation, status, capabilities, metadata, created_at, updated_at, last_active_at
		 FROM agents WHERE did = ?`, did))
}

func (d *DB) scanAgent(row *sql.Row) (*Agent, error) {
	a := &Agent{}
	var typ, status string
	var caps, meta sql.NullString
	err := row.Scan(&a.ID, &a.DID, &a.Name, &typ, &a.PublicKey, &a.TrustScore,
		&a.Reputation, &status, &caps, &meta, &a.CreatedAt, &a.UpdatedAt, &a.LastActiveAt)
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	a.Type = AgentType(typ)
	a.Status = AgentStatus(status)
	if err := unmarshalJSON(caps, &a.Capabilities); err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	if err := unmarshalJSON(meta, &a.Metadata); err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns agents matching the optional status and type filters,
// newest first, with limit/offset pagination. A zero limit means no limit.
func (d *DB) ListAgents(status AgentStatus, typ AgentType, limit, offset int) ([]*Agent, error) {
	query := `SELECT id, did, name, type, public_key, trust_score, reputation, status, capabilities, metadata, created_at, updated_at, last_active_at
		 FROM agents WHERE 1=1`
	args := []any{}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	if typ != "" {
		query += " AND type = ?"
		args = append(args, string(typ))
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a := &Agent{}
		var atyp, astatus string
		var caps, meta sql.NullString
		if err := rows.Scan(&a.ID, &a.DID, &a.Name, &atyp, &a.PublicKey, &a.TrustScore,
			&a.Reputation, &astatus, &caps, &meta, &a.CreatedAt, &a.UpdatedAt, &a.LastActiveAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.Type = AgentType(atyp)
		a.Status = AgentStatus(astatus)
		if err := unmarshalJSON(caps, &a.Capabilities); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		if err := unmarshalJSON(meta, &a.Metadata); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgent updates the mutable fields of an agent record. TrustScore and
// LastActiveAt have dedicated setters and are not touched here.
func (d *DB) UpdateAgent(a *Agent) error {
	caps, err := marshalJSON(a.Capabilities)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	meta, err := marshalJSON(a.Metadata)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	res, err := d.db.Exec(
		`UPDATE agents SET name = ?, status = ?, reputation = ?, capabilities = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		a.Name, string(a.Status), a.Reputation, caps, meta, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return requireRows(res, "update agent")
}

// UpdateAgentTrustScore overwrites the stored trust score for an agent.
func (d *DB) UpdateAgentTrustScore(id string, score float64, updatedAt int64) error {
	res, err := d.db.Exec(
		`UPDATE agents SET trust_score = ?, updated_at = ? WHERE id = ?`,
		score, updatedAt, id,
	)
	if err != nil {
		return fmt.Errorf("update trust score: %w", err)
	}
	return requireRows(res, "update trust score")
}

// TouchAgent records the last time an agent was active.
func (d *DB) TouchAgent(id string, lastActiveAt int64) error {
	res, err := d.db.Exec(
		`UPDATE agents SET last_active_at = ? WHERE id = ?`,
		lastActiveAt, id,
	)
	if err != nil {
		return fmt.Errorf("touch agent: %w", err)
	}
	return requireRows(res, "touch agent")
}

// DeleteAgent removes an agent and cascades to its identity, relationships,
// activities, capabilities, attestations, trust history, and anomalies.
func (d *DB) DeleteAgent(id string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete agent: %w", err)
	}
	defer tx.Rollback()

	a, err := d.GetAgent(id)
	if err != nil {
		return err
	}

	cascades := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM identities WHERE agent_id = ?`, []any{id}},
		{`DELETE FROM relationships WHERE source_agent_id = ? OR target_agent_id = ?`, []any{id, id}},
		{`DELETE FROM activities WHERE agent_id = ?`, []any{id}},
		{`DELETE FROM trust_scores WHERE agent_id = ?`, []any{id}},
		{`DELETE FROM anomalies WHERE agent_id = ?`, []any{id}},
		{`DELETE FROM capabilities WHERE subject = ? OR issuer = ?`, []any{a.DID, a.DID}},
		{`DELETE FROM attestations WHERE subject = ? OR issuer = ?`, []any{a.DID, a.DID}},
	}
	for _, c := range cascades {
		if _, err := tx.Exec(c.query, c.args...); err != nil {
			return fmt.Errorf("delete agent cascade: %w", err)
		}
	}

	res, err := tx.Exec(`DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete agent rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete agent: %w", sql.ErrNoRows)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete agent: %w", err)
	}
	return nil
}

// --- Identity CRUD ---

// GetIdentity retrieves an identity (DID document) by DID.
func (d *DB) GetIdentity(did string) (*Identity, error) {
	ident := &Identity{}
	err := d.db.QueryRow(
		`SELECT did, agent_id, document, created_at, updated_at FROM identities WHERE did = ?`, did,
	).Scan(&ident.DID, &ident.AgentID, &ident.Document, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return ident, nil
}

// UpdateIdentityDocument replaces the stored DID document.
func (d *DB) UpdateIdentityDocument(did string, document []byte, updatedAt int64) error {
	res, err := d.db.Exec(
		`UPDATE identities SET document = ?, updated_at = ? WHERE did = ?`,
		document, updatedAt, did,
	)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	return requireRows(res, "update identity")
}

// DeleteIdentity removes a DID document. Used by DID deactivation.
func (d *DB) DeleteIdentity(did string) error {
	res, err := d.db.Exec(`DELETE FROM identities WHERE did = ?`, did)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return requireRows(res, "delete identity")
}

// ListIdentityDIDs returns all locally registered DIDs.
func (d *DB) ListIdentityDIDs() ([]string, error) {
	rows, err := d.db.Query(`SELECT did FROM identities ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var dids []string
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		dids = append(dids, did)
	}
	return dids, rows.Err()
}

// requireRows translates a zero-row update/delete into sql.ErrNoRows.
func requireRows(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, sql.ErrNoRows)
	}
	return nil
}
