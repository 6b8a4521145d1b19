package storage

import (
	"database/sql"
	"fmt"
)

// --- Capability CRUD ---

// CreateCapability inserts a capability grant.
func (d *DB) CreateCapability(c *Capability) error {
	actions, err := marshalJSON(c.Actions)
	if err != nil {
		return fmt.Errorf("create capability: %w", err)
	}
	resources, err := marshalJSON(c.Resources)
	if err != nil {
		return fmt.Errorf("create capability: %w", err)
	}
	conditions, err := marshalJSON(c.Conditions)
	if err != nil {
		return fmt.Errorf("create capability: %w", err)
	}
	if conditions == nil {
		conditions = "[]"
	}

	_, err = d.db.Exec(
		`INSERT INTO capabilities (id, subject, issuer, actions, resources, conditions, not_before, expiration, issued_at, status, revoked_at, revoked_by, revoke_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Subject, c.Issuer, actions, resources, conditions,
		c.NotBefore, c.Expiration, c.IssuedAt, string(c.Status),
		c.RevokedAt, c.RevokedBy, c.RevokeReason,
	)
	if err != nil {
		return fmt.Errorf("create capability: %w", err)
	}
	return nil
}

// GetCapability retrieves a capability by ID.
func (d *DB) GetCapability(id string) (*Capability, error) {
	row := d.db.QueryRow(
		`SELECT id, subject, issuer, actions, resources, conditions, not_before, expiration, issued_at, status, revoked_at, revoked_by, revoke_reason
		 FROM capabilities WHERE id = ?`, id)
	c, err := scanCapability(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("get capability: %w", err)
	}
	return c, nil
}

// ListCapabilities returns capabilities filtered by subject and/or issuer
// DID, newest first. Empty filters match everything.
func (d *DB) ListCapabilities(subject, issuer string, limit int) ([]*Capability, error) {
	query := `SELECT id, subject, issuer, actions, resources, conditions, not_before, expiration, issued_at, status, revoked_at, revoked_by, revoke_reason
		 FROM capabilities WHERE 1=1`
	args := []any{}
	if subject != "" {
		query += " AND subject = ?"
		args = append(args, subject)
	}
	if issuer != "" {
		query += " AND issuer = ?"
		args = append(args, issuer)
	}
	query += " ORDER BY issued_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list capabilities: %w", err)
	}
	defer rows.Close()

	var caps []*Capability
	for rows.Next() {
		c, err := scanCapability(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan capability: %w", err)
		}
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

// RevokeCapability marks a capability revoked. Revoking an already-revoked
// capability rewrites the same terminal state, so the operation is idempotent
// from the caller's point of view.
func (d *DB) RevokeCapability(id, revokedBy, reason string, revokedAt int64) error {
	res, err := d.db.Exec(
		`UPDATE capabilities
		 SET status = ?, revoked_at = COALESCE(revoked_at, ?), revoked_by = COALESCE(NULLIF(revoked_by, ''), ?), revoke_reason = COALESCE(NULLIF(revoke_reason, ''), ?)
		 WHERE id = ?`,
		string(CapabilityRevoked), revokedAt, revokedBy, reason, id,
	)
	if err != nil {
		return fmt.Errorf("revoke capability: %w", err)
	}
	return requireRows(res, "revoke capability")
}

// MarkExpiredCapabilities flips active capabilities whose expiration has
// passed to the expired status. Returns the number of rows updated.
func (d *DB) MarkExpiredCapabilities(now int64) (int, error) {
	res, err := d.db.Exec(
		`UPDATE capabilities SET status = ? WHERE status = ? AND expiration <= ?`,
		string(CapabilityExpired), string(CapabilityActive), now,
	)
	if err != nil {
		return 0, fmt.Errorf("mark expired capabilities: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark expired capabilities: %w", err)
	}
	return int(n), nil
}

func scanCapability(scan func(...any) error) (*Capability, error) {
	c := &Capability{}
	var status string
	var actions, resources, conditions sql.NullString
	var revokedBy, revokeReason sql.NullString
	var revokedAt sql.NullInt64
	err := scan(&c.ID, &c.Subject, &c.Issuer, &actions, &resources, &conditions,
		&c.NotBefore, &c.Expiration, &c.IssuedAt, &status, &revokedAt, &revokedBy, &revokeReason)
	if err != nil {
		return nil, err
	}
	c.Status = CapabilityStatus(status)
	if err := unmarshalJSON(actions, &c.Actions); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(resources, &c.Resources); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(conditions, &c.Conditions); err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		c.RevokedAt = &revokedAt.Int64
	}
	c.RevokedBy = revokedBy.String
	c.RevokeReason = revokeReason.String
	return c, nil
}

// --- Delegation CRUD ---

// CreateDelegation inserts a delegation record.
func (d *DB) CreateDelegation(del *Delegation) error {
	actions, err := marshalJSON(del.Actions)
	if err != nil {
		return fmt.Errorf("create delegation: %w", err)
	}
	resources, err := marshalJSON(del.Resources)
	if err != nil {
		return fmt.Errorf("create delegation: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO delegations (id, capability_id, delegator, delegatee, actions, resources, expiration, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		del.ID, del.CapabilityID, del.Delegator, del.Delegatee,
		actions, resources, del.Expiration, del.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create delegation: %w", err)
	}
	return nil
}

// ListDelegations returns all delegations of a capability, newest first.
func (d *DB) ListDelegations(capabilityID string) ([]*Delegation, error) {
	rows, err := d.db.Query(
		`SELECT id, capability_id, delegator, delegatee, actions, resources, expiration, created_at
		 FROM delegations WHERE capability_id = ? ORDER BY created_at DESC`, capabilityID)
	if err != nil {
		return nil, fmt.Errorf("list delegations: %w", err)
	}
	defer rows.Close()

	var dels []*Delegation
	for rows.Next() {
		del := &Delegation{}
		var actions, resources sql.NullString
		if err := rows.Scan(&del.ID, &del.CapabilityID, &del.Delegator, &del.Delegatee,
			&actions, &resources, &del.Expiration, &del.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delegation: %w", err)
		}
		if err := unmarshalJSON(actions, &del.Actions); err != nil {
			return nil, fmt.Errorf("scan delegation: %w", err)
		}
		if err := unmarshalJSON(resources, &del.Resources); err != nil {
			return nil, fmt.Errorf("scan delegation: %w", err)
		}
		dels = append(dels, del)
	}
	return dels, rows.Err()
}
