// Package identity resolves externally authenticated principals to internal
// user records. It has no account-existence dependency of its own, so it does
// not embed core.Base.
package identity

import (
	"context"
	"fmt"
	"strings"

	core "github.com/lattice-run/core/internal/app/core/service"
	"github.com/lattice-run/core/internal/app/domain/identity"
	"github.com/lattice-run/core/internal/app/storage"
	"github.com/lattice-run/core/pkg/logger"
)

// Service resolves and provisions users.
type Service struct {
	store storage.UserStore
	log   *logger.Logger
}

// New creates a configured identity service.
func New(store storage.UserStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("identity")
	}
	return &Service{store: store, log: log}
}

// Resolve returns the user for email, creating one on first sight. External
// authentication (JWT verification) happens in the wire layer; by the time a
// request reaches here, email is already a verified claim.
func (s *Service) Resolve(ctx context.Context, email string) (identity.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return identity.User{}, fmt.Errorf("email is required")
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}

	user, err := s.store.CreateUser(ctx, identity.User{Email: email})
	if err != nil {
		return identity.User{}, err
	}
	s.log.WithField("user_id", user.ID).Info("user provisioned")
	return user, nil
}

// Get fetches a user by ID.
func (s *Service) Get(ctx context.Context, id string) (identity.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return identity.User{}, fmt.Errorf("id is required")
	}
	return s.store.GetUser(ctx, id)
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "identity",
		Domain:       "identity",
		Layer:        core.LayerIngress,
		Capabilities: []string{"resolve", "provision"},
	}
}
