package storage

import (
	"database/sql"
	"fmt"
)

// --- Trust score history ---

// InsertTrustScore appends a trust score record.
func (d *DB) InsertTrustScore(r *TrustScoreRecord) error {
	factors, err := marshalJSON(r.Factors)
	if err != nil {
		return fmt.Errorf("insert trust score: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO trust_scores (id, agent_id, score, factors, calculated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.AgentID, r.Score, factors, r.CalculatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trust score: %w", err)
	}
	return nil
}

// ListTrustScores returns trust score history for an agent, newest first.
func (d *DB) ListTrustScores(agentID string, limit int) ([]*TrustScoreRecord, error) {
	query := `SELECT id, agent_id, score, factors, calculated_at
		 FROM trust_scores WHERE agent_id = ? ORDER BY calculated_at DESC`
	args := []any{agentID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trust scores: %w", err)
	}
	defer rows.Close()

	var records []*TrustScoreRecord
	for rows.Next() {
		r := &TrustScoreRecord{}
		var factors sql.NullString
		if err := rows.Scan(&r.ID, &r.AgentID, &r.Score, &factors, &r.CalculatedAt); err != nil {
			return nil, fmt.Errorf("scan trust score: %w", err)
		}
		if err := unmarshalJSON(factors, &r.Factors); err != nil {
			return nil, fmt.Errorf("scan trust score: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Anomaly records ---

// InsertAnomaly persists a detected anomaly.
func (d *DB) InsertAnomaly(a *Anomaly) error {
	indicators, err := marshalJSON(a.Indicators)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO anomalies (id, agent_id, type, severity, confidence, indicators, recommended_action, detected_at, resolved_at, resolution)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AgentID, string(a.Type), string(a.Severity), a.Confidence,
		indicators, a.RecommendedAction, a.DetectedAt, a.ResolvedAt, a.Resolution,
	)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

// ListAnomalies returns anomalies for an agent, newest first. When
// unresolvedOnly is set, resolved anomalies are excluded.
func (d *DB) ListAnomalies(agentID string, unresolvedOnly bool) ([]*Anomaly, error) {
	query := `SELECT id, agent_id, type, severity, confidence, indicators, recommended_action, detected_at, resolved_at, resolution
		 FROM anomalies WHERE agent_id = ?`
	if unresolvedOnly {
		query += " AND resolved_at IS NULL"
	}
	query += " ORDER BY detected_at DESC"

	rows, err := d.db.Query(query, agentID)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []*Anomaly
	for rows.Next() {
		a := &Anomaly{}
		var typ, severity string
		var indicators, action, resolution sql.NullString
		var resolvedAt sql.NullInt64
		if err := rows.Scan(&a.ID, &a.AgentID, &typ, &severity, &a.Confidence,
			&indicators, &action, &a.DetectedAt, &resolvedAt, &resolution); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		a.Type = AnomalyType(typ)
		a.Severity = Severity(severity)
		a.RecommendedAction = action.String
		a.Resolution = resolution.String
		if err := unmarshalJSON(indicators, &a.Indicators); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		if resolvedAt.Valid {
			a.ResolvedAt = &resolvedAt.Int64
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, rows.Err()
}

// ResolveAnomaly marks an anomaly resolved, clearing its trust penalty on
// the next recalculation.
func (d *DB) ResolveAnomaly(id, resolution string, resolvedAt int64) error {
	res, err := d.db.Exec(
		`UPDATE anomalies SET resolved_at = ?, resolution = ? WHERE id = ? AND resolved_at IS NULL`,
		resolvedAt, resolution, id,
	)
	if err != nil {
		return fmt.Errorf("resolve anomaly: %w", err)
	}
	return requireRows(res, "resolve anomaly")
}
