package storage

import (
	"database/sql"
	"fmt"
)

// --- Attestation CRUD ---

// CreateAttestation inserts an attestation.
func (d *DB) CreateAttestation(a *Attestation) error {
	claims, err := marshalJSON(a.Claims)
	if err != nil {
		return fmt.Errorf("create attestation: %w", err)
	}
	proof, err := marshalJSON(a.Proof)
	if err != nil {
		return fmt.Errorf("create attestation: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO attestations (id, type, issuer, subject, claims, issued_at, expires_at, revoked_at, revoked_by, revoke_reason, proof)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Type), a.Issuer, a.Subject, claims,
		a.IssuedAt, a.ExpiresAt, a.RevokedAt, a.RevokedBy, a.RevokeReason, proof,
	)
	if err != nil {
		return fmt.Errorf("create attestation: %w", err)
	}
	return nil
}

// GetAttestation retrieves an attestation by ID.
func (d *DB) GetAttestation(id string) (*Attestation, error) {
	row := d.db.QueryRow(
		`SELECT id, type, issuer, subject, claims, issued_at, expires_at, revoked_at, revoked_by, revoke_reason, proof
		 FROM attestations WHERE id = ?`, id)
	a, err := scanAttestation(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("get attestation: %w", err)
	}
	return a, nil
}

// ListAttestations returns attestations filtered by subject and/or issuer
// DID and optional type, newest first.
func (d *DB) ListAttestations(subject, issuer string, typ AttestationType, limit int) ([]*Attestation, error) {
	query := `SELECT id, type, issuer, subject, claims, issued_at, expires_at, revoked_at, revoked_by, revoke_reason, proof
		 FROM attestations WHERE 1=1`
	args := []any{}
	if subject != "" {
		query += " AND subject = ?"
		args = append(args, subject)
	}
	if issuer != "" {
		query += " AND issuer = ?"
		args = append(args, issuer)
	}
	if typ != "" {
		query += " AND type = ?"
		args = append(args, string(typ))
	}
	query += " ORDER BY issued_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attestations: %w", err)
	}
	defer rows.Close()

	var atts []*Attestation
	for rows.Next() {
		a, err := scanAttestation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan attestation: %w", err)
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// RevokeAttestation records the revocation of an attestation. The revocation
// fields are set at most once; a second call leaves the original record.
func (d *DB) RevokeAttestation(id, revokedBy, reason string, revokedAt int64) error {
	res, err := d.db.Exec(
		`UPDATE attestations
		 SET revoked_at = COALESCE(revoked_at, ?), revoked_by = COALESCE(NULLIF(revoked_by, ''), ?), revoke_reason = COALESCE(NULLIF(revoke_reason, ''), ?)
		 WHERE id = ?`,
		revokedAt, revokedBy, reason, id,
	)
	if err != nil {
		return fmt.Errorf("revoke attestation: %w", err)
	}
	return requireRows(res, "revoke attestation")
}

// CountAttestationsByType returns per-type attestation counts for a subject
// DID. Used by the stats endpoint and the trust engine.
func (d *DB) CountAttestationsByType(subject string) (map[AttestationType]int, error) {
	rows, err := d.db.Query(
		`SELECT type, COUNT(*) FROM attestations WHERE subject = ? GROUP BY type`, subject)
	if err != nil {
		return nil, fmt.Errorf("count attestations: %w", err)
	}
	defer rows.Close()

	counts := make(map[AttestationType]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan attestation count: %w", err)
		}
		counts[AttestationType(typ)] = n
	}
	return counts, rows.Err()
}

func scanAttestation(scan func(...any) error) (*Attestation, error) {
	a := &Attestation{}
	var typ string
	var claims, proof sql.NullString
	var revokedBy, revokeReason sql.NullString
	var expiresAt, revokedAt sql.NullInt64
	err := scan(&a.ID, &typ, &a.Issuer, &a.Subject, &claims,
		&a.IssuedAt, &expiresAt, &revokedAt, &revokedBy, &revokeReason, &proof)
	if err != nil {
		return nil, err
	}
	a.Type = AttestationType(typ)
	if err := unmarshalJSON(claims, &a.Claims); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(proof, &a.Proof); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		a.ExpiresAt = &expiresAt.Int64
	}
	if revokedAt.Valid {
		a.RevokedAt = &revokedAt.Int64
	}
	a.RevokedBy = revokedBy.String
	a.RevokeReason = revokeReason.String
	return a, nil
}
