// Package risk implements the Risk Oracle: the single authority answering
// whether execution is currently permitted for an account, and why. The
// Oracle has veto-only authority; it never mutates jobs.
package risk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lattice-run/core/infrastructure/ratelimit"
	core "github.com/lattice-run/core/internal/app/core/service"
	"github.com/lattice-run/core/internal/app/domain/account"
	"github.com/lattice-run/core/internal/app/domain/risk"
	"github.com/lattice-run/core/internal/app/metrics"
	"github.com/lattice-run/core/internal/app/storage"
	"github.com/lattice-run/core/pkg/logger"
)

// violationWindow bounds how far back an unresolved violation still
// contributes to the risk score.
const violationWindow = 7 * 24 * time.Hour

var severityWeight = map[risk.Severity]float64{
	risk.SeverityLow:      0.1,
	risk.SeverityMedium:   0.3,
	risk.SeverityHigh:     0.6,
	risk.SeverityCritical: 1.0,
}

// Service is the Risk Oracle.
type Service struct {
	base     *core.Base
	store    storage.RiskStore
	accounts storage.AccountStore
	log      *logger.Logger

	limitersMu sync.Mutex
	limiters   map[string]*ratelimit.RateLimiter
}

// New creates a configured risk oracle.
func New(accountsSvc interface {
	Exists(ctx context.Context, accountID string) error
}, store storage.RiskStore, accounts storage.AccountStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("risk")
	}
	return &Service{
		base:     core.NewBase(accountsSvc.Exists),
		store:    store,
		accounts: accounts,
		log:      log,
		limiters: make(map[string]*ratelimit.RateLimiter),
	}
}

// CreateRule registers a new rate-limit rule for an action type.
func (s *Service) CreateRule(ctx context.Context, actionType string, maxCount int, window time.Duration) (risk.Rule, error) {
	actionType = strings.TrimSpace(actionType)
	if actionType == "" {
		return risk.Rule{}, fmt.Errorf("action_type is required")
	}
	if maxCount <= 0 {
		return risk.Rule{}, fmt.Errorf("max_count must be positive")
	}
	return s.store.CreateRule(ctx, risk.Rule{ActionType: actionType, MaxCount: maxCount, Window: window, IsActive: true})
}

// ListActiveRules lists active rules, optionally filtered by action type.
func (s *Service) ListActiveRules(ctx context.Context, actionType string) ([]risk.Rule, error) {
	return s.store.ListActiveRules(ctx, strings.TrimSpace(actionType))
}

// RecordViolation validates the referenced account and rule and writes a
// Violation row.
func (s *Service) RecordViolation(ctx context.Context, accountID, ruleID, jobID, violationType string, severity risk.Severity) (risk.Violation, error) {
	accountID, err := s.base.NormalizeAccount(ctx, accountID)
	if err != nil {
		return risk.Violation{}, err
	}
	if _, err := s.store.GetRule(ctx, ruleID); err != nil {
		return risk.Violation{}, fmt.Errorf("rule validation failed: %w", err)
	}

	v, err := s.store.RecordViolation(ctx, risk.Violation{
		AccountID:     accountID,
		RuleID:        ruleID,
		JobID:         jobID,
		ViolationType: strings.TrimSpace(violationType),
		Severity:      severity,
		DetectedAt:    time.Now().UTC(),
	})
	if err != nil {
		return risk.Violation{}, err
	}
	if _, scoreErr := s.CalculateRiskScore(ctx, accountID); scoreErr != nil {
		s.log.WithError(scoreErr).WithField("account_id", accountID).Warn("failed to recalculate risk score after violation")
	}
	return v, nil
}

// CalculateRiskScore is a pure function of unresolved violations within the
// trailing window and the account's current health status. It persists the
// computed score and returns it.
func (s *Service) CalculateRiskScore(ctx context.Context, accountID string) (risk.Score, error) {
	accountID, err := s.base.NormalizeAccount(ctx, accountID)
	if err != nil {
		return risk.Score{}, err
	}

	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return risk.Score{}, err
	}

	since := time.Now().UTC().Add(-violationWindow)
	violations, err := s.store.ListViolations(ctx, accountID, true, since)
	if err != nil {
		return risk.Score{}, err
	}

	var value float64
	for _, v := range violations {
		value += severityWeight[v.Severity]
	}
	switch acct.HealthStatus {
	case account.HealthSuspended:
		value += 0.5
	case account.HealthDegraded:
		value += 0.2
	}
	if value > 1 {
		value = 1
	}
	if value < 0 {
		value = 0
	}

	score := risk.Score{
		AccountID:    accountID,
		Value:        value,
		Level:        risk.LevelFor(value),
		CalculatedAt: time.Now().UTC(),
	}
	saved, err := s.store.SaveScore(ctx, score)
	if err == nil {
		metrics.RecordRiskScore(string(saved.Level), saved.Value)
	}
	return saved, err
}

// IsExecutionAllowed is the critical veto predicate consulted by the Job
// Dispatcher and the Agent Registry's heartbeat path.
func (s *Service) IsExecutionAllowed(ctx context.Context, accountID string) (risk.Verdict, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return risk.Verdict{}, fmt.Errorf("account_id is required")
	}

	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return risk.Verdict{Allowed: false, Reason: risk.ReasonSessionInvalid}, nil
	}
	if acct.ValidationStatus == account.ValidationExpired || acct.ValidationStatus == account.ValidationDisconnected {
		return risk.Verdict{Allowed: false, Reason: risk.ReasonSessionInvalid}, nil
	}
	if acct.HealthStatus == account.HealthSuspended {
		return risk.Verdict{Allowed: false, Reason: risk.ReasonRiskPause}, nil
	}

	latest, ok, err := s.store.LatestScore(ctx, accountID)
	if err != nil {
		return risk.Verdict{}, err
	}
	if ok && latest.Level == risk.LevelCritical {
		return risk.Verdict{Allowed: false, Reason: risk.ReasonRiskPause}, nil
	}
	if acct.UserPaused {
		return risk.Verdict{Allowed: false, Reason: risk.ReasonUserPaused}, nil
	}
	return risk.Verdict{Allowed: true, Reason: risk.ReasonNone}, nil
}

// CheckRateLimit enforces every active Rule for actionType against accountID,
// consulted by the Job Dispatcher before a job is created. Each call draws
// one token from a per-account, per-rule token bucket sized to the rule's
// maxCount/window; a drained bucket records a violation and vetoes.
func (s *Service) CheckRateLimit(ctx context.Context, accountID, actionType string) (risk.Verdict, error) {
	accountID, err := s.base.NormalizeAccount(ctx, accountID)
	if err != nil {
		return risk.Verdict{}, err
	}
	actionType = strings.TrimSpace(actionType)
	if actionType == "" {
		return risk.Verdict{Allowed: true, Reason: risk.ReasonNone}, nil
	}

	rules, err := s.store.ListActiveRules(ctx, actionType)
	if err != nil {
		return risk.Verdict{}, err
	}
	for _, rule := range rules {
		if rule.MaxCount <= 0 || rule.Window <= 0 {
			continue
		}
		if s.limiterFor(accountID, rule).LimitExceeded() {
			if _, err := s.RecordViolation(ctx, accountID, rule.ID, "", "RATE_LIMIT_EXCEEDED", risk.SeverityMedium); err != nil {
				s.log.WithError(err).WithField("account_id", accountID).Warn("failed to record rate-limit violation")
			}
			return risk.Verdict{Allowed: false, Reason: risk.ReasonRateLimited, Limit: rule.MaxCount, Window: rule.Window}, nil
		}
	}
	return risk.Verdict{Allowed: true, Reason: risk.ReasonNone}, nil
}

// limiterFor returns the token bucket for accountID's use of rule, creating
// one sized to the rule's allowance on first use.
func (s *Service) limiterFor(accountID string, rule risk.Rule) *ratelimit.RateLimiter {
	key := accountID + "|" + rule.ID
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	if l, ok := s.limiters[key]; ok {
		return l
	}
	l := ratelimit.New(ratelimit.RateLimitConfig{
		RequestsPerSecond: float64(rule.MaxCount) / rule.Window.Seconds(),
		Burst:             rule.MaxCount,
		Window:            rule.Window,
	})
	s.limiters[key] = l
	return l
}

// GetViolation fetches a single violation by ID.
func (s *Service) GetViolation(ctx context.Context, id string) (risk.Violation, error) {
	return s.store.GetViolation(ctx, id)
}

// ListViolations lists an account's violations, most recent first.
func (s *Service) ListViolations(ctx context.Context, accountID string, onlyUnresolved bool) ([]risk.Violation, error) {
	accountID, err := s.base.NormalizeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.store.ListViolations(ctx, accountID, onlyUnresolved, time.Time{})
}

// LatestScore returns the most recently calculated risk score for an
// account, if one exists.
func (s *Service) LatestScore(ctx context.Context, accountID string) (risk.Score, bool, error) {
	accountID, err := s.base.NormalizeAccount(ctx, accountID)
	if err != nil {
		return risk.Score{}, false, err
	}
	return s.store.LatestScore(ctx, accountID)
}

// AcknowledgeViolation sets resolvedAt on a violation.
func (s *Service) AcknowledgeViolation(ctx context.Context, violationID string) error {
	violationID = strings.TrimSpace(violationID)
	if violationID == "" {
		return fmt.Errorf("violation_id is required")
	}
	if _, err := s.store.GetViolation(ctx, violationID); err != nil {
		return err
	}
	return s.store.ResolveViolation(ctx, violationID, time.Now().UTC())
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "risk",
		Domain:       "risk",
		Layer:        core.LayerEngine,
		Capabilities: []string{"scoring", "veto", "violations"},
	}
}
