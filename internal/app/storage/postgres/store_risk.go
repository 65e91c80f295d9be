package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-run/core/internal/app/domain/risk"
)

func (s *Store) CreateRule(ctx context.Context, r risk.Rule) (risk.Rule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_rules (id, action_type, max_count, window_seconds, is_active)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.ActionType, r.MaxCount, int(r.Window.Seconds()), r.IsActive)
	if err != nil {
		return risk.Rule{}, err
	}
	return r, nil
}

const ruleSelect = `SELECT id, action_type, max_count, window_seconds, is_active FROM risk_rules`

func scanRule(row rowScanner) (risk.Rule, error) {
	var (
		r             risk.Rule
		windowSeconds int
	)
	if err := row.Scan(&r.ID, &r.ActionType, &r.MaxCount, &windowSeconds, &r.IsActive); err != nil {
		return risk.Rule{}, err
	}
	r.Window = time.Duration(windowSeconds) * time.Second
	return r, nil
}

func (s *Store) ListActiveRules(ctx context.Context, actionType string) ([]risk.Rule, error) {
	rows, err := s.db.QueryContext(ctx, ruleSelect+`
		WHERE is_active AND ($1 = '' OR action_type = $1)
	`, actionType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []risk.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetRule(ctx context.Context, id string) (risk.Rule, error) {
	return scanRule(s.db.QueryRowContext(ctx, ruleSelect+` WHERE id = $1`, id))
}

func (s *Store) RecordViolation(ctx context.Context, v risk.Violation) (risk.Violation, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.DetectedAt.IsZero() {
		v.DetectedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_violations (id, account_id, rule_id, job_id, violation_type, severity, detected_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, v.ID, v.AccountID, v.RuleID, toNullString(v.JobID), v.ViolationType, v.Severity, v.DetectedAt, toNullTime(v.ResolvedAt))
	if err != nil {
		return risk.Violation{}, err
	}
	return v, nil
}

const violationSelect = `
	SELECT id, account_id, rule_id, job_id, violation_type, severity, detected_at, resolved_at
	FROM risk_violations`

func scanViolation(row rowScanner) (risk.Violation, error) {
	var (
		v          risk.Violation
		jobID      sql.NullString
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&v.ID, &v.AccountID, &v.RuleID, &jobID, &v.ViolationType, &v.Severity,
		&v.DetectedAt, &resolvedAt); err != nil {
		return risk.Violation{}, err
	}
	v.JobID = jobID.String
	v.ResolvedAt = resolvedAt.Time
	return v, nil
}

func (s *Store) GetViolation(ctx context.Context, id string) (risk.Violation, error) {
	return scanViolation(s.db.QueryRowContext(ctx, violationSelect+` WHERE id = $1`, id))
}

func (s *Store) ListViolations(ctx context.Context, accountID string, onlyUnresolved bool, since time.Time) ([]risk.Violation, error) {
	rows, err := s.db.QueryContext(ctx, violationSelect+`
		WHERE account_id = $1
		  AND (NOT $2 OR resolved_at IS NULL)
		  AND detected_at >= $3
		ORDER BY detected_at DESC
	`, accountID, onlyUnresolved, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []risk.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) ResolveViolation(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE risk_violations SET resolved_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errNotFound
	}
	return nil
}

func (s *Store) SaveScore(ctx context.Context, sc risk.Score) (risk.Score, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.CalculatedAt.IsZero() {
		sc.CalculatedAt = time.Now().UTC()
	}
	if sc.Factors == nil {
		sc.Factors = map[string]string{}
	}
	factors, err := json.Marshal(sc.Factors)
	if err != nil {
		return risk.Score{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_scores (id, account_id, value, level, factors, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sc.ID, sc.AccountID, sc.Value, sc.Level, factors, sc.CalculatedAt)
	if err != nil {
		return risk.Score{}, err
	}
	return sc, nil
}

func (s *Store) LatestScore(ctx context.Context, accountID string) (risk.Score, bool, error) {
	var (
		sc      risk.Score
		factors []byte
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, value, level, factors, calculated_at
		FROM risk_scores WHERE account_id = $1 ORDER BY calculated_at DESC LIMIT 1
	`, accountID)
	if err := row.Scan(&sc.ID, &sc.AccountID, &sc.Value, &sc.Level, &factors, &sc.CalculatedAt); err != nil {
		if err == sql.ErrNoRows {
			return risk.Score{}, false, nil
		}
		return risk.Score{}, false, err
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &sc.Factors); err != nil {
			return risk.Score{}, false, err
		}
	}
	return sc, true, nil
}
