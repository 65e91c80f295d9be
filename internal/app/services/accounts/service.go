// Package accounts implements the Account Registry: the one-per-user binding
// between a platform user and the social-networking profile an agent
// automates against.
package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	core "github.com/lattice-run/core/internal/app/core/service"
	"github.com/lattice-run/core/internal/app/domain/account"
	"github.com/lattice-run/core/internal/app/domain/audit"
	"github.com/lattice-run/core/internal/app/storage"
	"github.com/lattice-run/core/pkg/logger"
)

// Service is the Account Registry.
type Service struct {
	store storage.AccountStore
	audit storage.AuditStore
	log   *logger.Logger
}

// New creates a configured account registry.
func New(store storage.AccountStore, auditStore storage.AuditStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{store: store, audit: auditStore, log: log}
}

// CreateAccount provisions the one account a user is allowed to hold.
func (s *Service) CreateAccount(ctx context.Context, userID, profileURL, displayName string) (account.Account, error) {
	userID = strings.TrimSpace(userID)
	profileURL = strings.TrimSpace(profileURL)
	displayName = strings.TrimSpace(displayName)
	if userID == "" {
		return account.Account{}, fmt.Errorf("user_id is required")
	}
	if profileURL == "" {
		return account.Account{}, fmt.Errorf("profile_url is required")
	}

	if _, err := s.store.GetAccountByUserID(ctx, userID); err == nil {
		return account.Account{}, fmt.Errorf("user %s already has an account", userID)
	}

	acct := account.Account{
		UserID:           userID,
		ProfileURL:       profileURL,
		DisplayName:      displayName,
		ValidationStatus: account.ValidationConnected,
		HealthStatus:     account.HealthHealthy,
	}
	acct, err := s.store.CreateAccount(ctx, acct)
	if err != nil {
		return account.Account{}, err
	}
	s.log.WithField("account_id", acct.ID).WithField("user_id", userID).Info("account created")
	return acct, nil
}

// GetByUserID fetches the account belonging to a user.
func (s *Service) GetByUserID(ctx context.Context, userID string) (account.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return account.Account{}, fmt.Errorf("user_id is required")
	}
	return s.store.GetAccountByUserID(ctx, userID)
}

// GetByID fetches an account by its identifier.
func (s *Service) GetByID(ctx context.Context, id string) (account.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return account.Account{}, fmt.Errorf("id is required")
	}
	return s.store.GetAccount(ctx, id)
}

// UpdateValidationStatus transitions the account's observed session validity.
// A transition into EXPIRED is a boundary event appended to the audit sink.
func (s *Service) UpdateValidationStatus(ctx context.Context, id string, status account.ValidationStatus) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return account.Account{}, err
	}
	previous := acct.ValidationStatus
	acct.ValidationStatus = status
	acct, err = s.store.UpdateAccount(ctx, acct)
	if err != nil {
		return account.Account{}, err
	}
	if previous != status && status == account.ValidationExpired {
		s.appendBoundaryEvent(ctx, acct, "ACCOUNT_SESSION_EXPIRED")
	}
	return acct, nil
}

// UpdateHealthStatus transitions the account's platform standing. A
// transition into SUSPENDED is a boundary event appended to the audit sink.
func (s *Service) UpdateHealthStatus(ctx context.Context, id string, status account.HealthStatus) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return account.Account{}, err
	}
	previous := acct.HealthStatus
	acct.HealthStatus = status
	acct, err = s.store.UpdateAccount(ctx, acct)
	if err != nil {
		return account.Account{}, err
	}
	if previous != status && status == account.HealthSuspended {
		s.appendBoundaryEvent(ctx, acct, "ACCOUNT_SUSPENDED")
	}
	return acct, nil
}

// MarkSessionValid records that the account's browser session was observed
// valid at the given instant and restores CONNECTED validation status.
func (s *Service) MarkSessionValid(ctx context.Context, id string, at time.Time) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return account.Account{}, err
	}
	acct.SessionValidAt = at
	acct.ValidationStatus = account.ValidationConnected
	return s.store.UpdateAccount(ctx, acct)
}

// SetUserPaused records the user's own pause/resume instruction. The Risk
// Oracle consults this after its session-validity and risk checks.
func (s *Service) SetUserPaused(ctx context.Context, id string, paused bool) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return account.Account{}, err
	}
	if acct.UserPaused == paused {
		return acct, nil
	}
	acct.UserPaused = paused
	acct, err = s.store.UpdateAccount(ctx, acct)
	if err != nil {
		return account.Account{}, err
	}
	eventType := "ACCOUNT_PAUSED_BY_USER"
	if !paused {
		eventType = "ACCOUNT_RESUMED_BY_USER"
	}
	s.appendBoundaryEvent(ctx, acct, eventType)
	return acct, nil
}

// Exists reports whether accountID refers to a known account. It is the
// closure every other subsystem's core.Base is constructed with.
func (s *Service) Exists(ctx context.Context, accountID string) error {
	_, err := s.store.GetAccount(ctx, accountID)
	return err
}

func (s *Service) appendBoundaryEvent(ctx context.Context, acct account.Account, eventType string) {
	if s.audit == nil {
		return
	}
	_, err := s.audit.Append(ctx, audit.Entry{
		Domain:     "accounts",
		EventType:  eventType,
		EntityType: "Account",
		EntityID:   acct.ID,
		ActorType:  audit.ActorSystem,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		s.log.WithError(err).WithField("account_id", acct.ID).Warn("failed to append audit entry")
	}
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "accounts",
		Domain:       "accounts",
		Layer:        core.LayerData,
		Capabilities: []string{"registry", "lifecycle"},
	}
}
