package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/lattice-run/core/internal/app/domain/risk"
)

func TestStoreCreateRuleInsertsGeneratedID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(".*INSERT INTO risk_rules.*").
		WillReturnResult(sqlmock.NewResult(1, 1))

	r, err := store.CreateRule(context.Background(), risk.Rule{ActionType: "LIKE_POST", MaxCount: 10, Window: time.Hour, IsActive: true})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if r.ID == "" {
		t.Fatalf("expected a generated rule id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreListActiveRulesScansWindowSecondsIntoDuration(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("(?s).*FROM risk_rules.*WHERE is_active.*").
		WithArgs("LIKE_POST").
		WillReturnRows(sqlmock.NewRows([]string{"id", "action_type", "max_count", "window_seconds", "is_active"}).
			AddRow("rule-1", "LIKE_POST", 10, 3600, true))

	rules, err := store.ListActiveRules(context.Background(), "LIKE_POST")
	if err != nil {
		t.Fatalf("list active rules: %v", err)
	}
	if len(rules) != 1 || rules[0].Window != time.Hour {
		t.Fatalf("unexpected rules: %#v", rules)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreRecordViolationAndListUnresolved(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(".*INSERT INTO risk_violations.*").
		WillReturnResult(sqlmock.NewResult(1, 1))

	v, err := store.RecordViolation(context.Background(), risk.Violation{
		AccountID: "acct-1", RuleID: "rule-1", ViolationType: "RATE_LIMIT", Severity: risk.SeverityHigh,
	})
	if err != nil {
		t.Fatalf("record violation: %v", err)
	}
	if v.ID == "" {
		t.Fatalf("expected a generated violation id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}

	now := time.Now().UTC()
	mock.ExpectQuery("(?s).*FROM risk_violations.*WHERE account_id = .*").
		WithArgs("acct-1", true, now).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "rule_id", "job_id", "violation_type", "severity", "detected_at", "resolved_at",
		}).AddRow("violation-1", "acct-1", "rule-1", nil, "RATE_LIMIT", string(risk.SeverityHigh), now, nil))

	violations, err := store.ListViolations(context.Background(), "acct-1", true, now)
	if err != nil {
		t.Fatalf("list violations: %v", err)
	}
	if len(violations) != 1 || violations[0].JobID != "" {
		t.Fatalf("unexpected violations: %#v", violations)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreLatestScoreReturnsFalseWhenNoneRecorded(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(".*FROM risk_scores WHERE account_id = .*").
		WithArgs("acct-1").
		WillReturnError(sql.ErrNoRows)

	_, found, err := store.LatestScore(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("latest score: %v", err)
	}
	if found {
		t.Fatalf("expected found=false when no score has been recorded")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
