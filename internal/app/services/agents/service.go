// Package agents implements the Agent Registry: the at-most-one
// account↔agent binding and the scoped bearer tokens agents authenticate
// with.
package agents

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	core "github.com/lattice-run/core/internal/app/core/service"
	"github.com/lattice-run/core/internal/app/domain/agent"
	"github.com/lattice-run/core/internal/app/domain/audit"
	"github.com/lattice-run/core/internal/app/metrics"
	"github.com/lattice-run/core/internal/app/storage"
	"github.com/lattice-run/core/internal/crypto"
	"github.com/lattice-run/core/pkg/logger"
)

// DefaultPollIntervalSeconds is the platform policy constant recommended to a
// newly registered agent.
const DefaultPollIntervalSeconds = 15

// RiskVerdict is the execution-allowed predicate the agent registry asks the
// Risk Oracle for on every heartbeat, and returns to the caller so the agent
// can cease execution when it flips to disallowed.
type RiskVerdict struct {
	Allowed bool
	Reason  string
}

// RiskChecker is the subset of the Risk Oracle the Agent Registry consults.
type RiskChecker interface {
	IsExecutionAllowed(ctx context.Context, accountID string) (RiskVerdict, error)
}

// Service is the Agent Registry.
type Service struct {
	base     *core.Base
	store    storage.AgentStore
	accounts storage.AccountStore
	audit    storage.AuditStore
	risk     RiskChecker
	tokenTTL time.Duration
	log      *logger.Logger
}

// New creates a configured agent registry.
func New(accountsSvc interface {
	Exists(ctx context.Context, accountID string) error
}, store storage.AgentStore, accounts storage.AccountStore, auditStore storage.AuditStore, risk RiskChecker, tokenTTL time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("agents")
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		base:     core.NewBase(accountsSvc.Exists),
		store:    store,
		accounts: accounts,
		audit:    auditStore,
		risk:     risk,
		tokenTTL: tokenTTL,
		log:      log,
	}
}

// Register binds an agent process to an account, minting a fresh bearer
// token and revoking any prior one atomically.
func (s *Service) Register(ctx context.Context, userID, accountID, agentVersion, platform string) (ag agent.Agent, plaintextToken string, pollIntervalSeconds int, err error) {
	accountID, err = s.base.NormalizeAccount(ctx, accountID)
	if err != nil {
		return agent.Agent{}, "", 0, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return agent.Agent{}, "", 0, fmt.Errorf("user_id is required")
	}

	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return agent.Agent{}, "", 0, err
	}
	if acct.UserID != userID {
		return agent.Agent{}, "", 0, fmt.Errorf("account %s does not belong to user %s", accountID, userID)
	}

	existing, err := s.store.GetAgentByAccount(ctx, accountID)
	now := time.Now().UTC()
	if err == nil {
		ag = existing
		ag.State = agent.StateRegistered
		ag.AgentVersion = strings.TrimSpace(agentVersion)
		ag.Platform = strings.TrimSpace(platform)
		ag.LastHeartbeatAt = now
		ag, err = s.store.UpsertAgent(ctx, ag)
	} else {
		ag, err = s.store.UpsertAgent(ctx, agent.Agent{
			AccountID:       accountID,
			State:           agent.StateRegistered,
			AgentVersion:    strings.TrimSpace(agentVersion),
			Platform:        strings.TrimSpace(platform),
			RegisteredAt:    now,
			LastHeartbeatAt: now,
		})
	}
	if err != nil {
		return agent.Agent{}, "", 0, err
	}

	raw, err := crypto.GenerateRandomBytes(32)
	if err != nil {
		return agent.Agent{}, "", 0, fmt.Errorf("generate token: %w", err)
	}
	plaintextToken = hex.EncodeToString(raw)
	_, err = s.store.IssueToken(ctx, agent.Token{
		AgentID:   ag.ID,
		AccountID: accountID,
		TokenHash: crypto.Hash256([]byte(plaintextToken)),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.tokenTTL),
	})
	if err != nil {
		return agent.Agent{}, "", 0, err
	}

	s.appendAuditEvent(ctx, ag, "AGENT_REGISTERED")
	s.log.WithField("agent_id", ag.ID).WithField("account_id", accountID).Info("agent registered")
	return ag, plaintextToken, DefaultPollIntervalSeconds, nil
}

// Heartbeat records liveness and returns the current execution verdict.
func (s *Service) Heartbeat(ctx context.Context, plaintextToken string, reportedStatus string, currentJobID string) (RiskVerdict, error) {
	ag, err := s.ValidateToken(ctx, plaintextToken)
	if err != nil {
		return RiskVerdict{}, err
	}

	var next agent.State
	switch reportedStatus {
	case "EXECUTING":
		next = agent.StateActive
	case "IDLE", "PAUSED":
		next = agent.StateIdle
	default:
		return RiskVerdict{}, fmt.Errorf("unknown reported status %q", reportedStatus)
	}

	now := time.Now().UTC()
	if err := s.store.UpdateAgentHeartbeat(ctx, ag.ID, next, now); err != nil {
		return RiskVerdict{}, err
	}

	if s.risk == nil {
		metrics.RecordHeartbeat(true)
		return RiskVerdict{Allowed: true}, nil
	}
	verdict, err := s.risk.IsExecutionAllowed(ctx, ag.AccountID)
	if err == nil {
		metrics.RecordHeartbeat(verdict.Allowed)
	}
	return verdict, err
}

// GetByAccount fetches the agent currently bound to an account, if any.
func (s *Service) GetByAccount(ctx context.Context, accountID string) (agent.Agent, error) {
	accountID, err := s.base.NormalizeAccount(ctx, accountID)
	if err != nil {
		return agent.Agent{}, err
	}
	return s.store.GetAgentByAccount(ctx, accountID)
}

// ValidateToken resolves a plaintext bearer token to its owning agent,
// rejecting expired or unknown tokens.
func (s *Service) ValidateToken(ctx context.Context, plaintextToken string) (agent.Agent, error) {
	plaintextToken = strings.TrimSpace(plaintextToken)
	if plaintextToken == "" {
		return agent.Agent{}, fmt.Errorf("token is required")
	}
	tok, err := s.store.GetTokenByHash(ctx, crypto.Hash256([]byte(plaintextToken)))
	if err != nil {
		return agent.Agent{}, fmt.Errorf("token not found")
	}
	now := time.Now().UTC()
	if tok.Revoked() || tok.Expired(now) {
		return agent.Agent{}, fmt.Errorf("token is no longer valid")
	}
	return s.store.GetAgent(ctx, tok.AgentID)
}

// Revoke marks a token revoked so the next heartbeat fails authentication.
func (s *Service) Revoke(ctx context.Context, plaintextToken string) error {
	plaintextToken = strings.TrimSpace(plaintextToken)
	if plaintextToken == "" {
		return fmt.Errorf("token is required")
	}
	tok, err := s.store.GetTokenByHash(ctx, crypto.Hash256([]byte(plaintextToken)))
	if err != nil {
		return fmt.Errorf("token not found")
	}
	return s.store.RevokeToken(ctx, tok.ID, time.Now().UTC())
}

func (s *Service) appendAuditEvent(ctx context.Context, ag agent.Agent, eventType string) {
	if s.audit == nil {
		return
	}
	_, err := s.audit.Append(ctx, audit.Entry{
		Domain:     "agents",
		EventType:  eventType,
		EntityType: "Agent",
		EntityID:   ag.ID,
		ActorType:  audit.ActorSystem,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		s.log.WithError(err).WithField("agent_id", ag.ID).Warn("failed to append audit entry")
	}
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "agents",
		Domain:       "agents",
		Layer:        core.LayerSecurity,
		Capabilities: []string{"registry", "tokens", "liveness"},
	}
}
