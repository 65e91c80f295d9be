package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-run/core/internal/app/domain/identity"
)

func (s *Store) CreateUser(ctx context.Context, u identity.User) (identity.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, created_at, updated_at)
		VALUES (:id, :email, :created_at, :updated_at)
	`, map[string]interface{}{
		"id": u.ID, "email": u.Email, "created_at": u.CreatedAt, "updated_at": u.UpdatedAt,
	})
	if err != nil {
		return identity.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (identity.User, error) {
	var u identity.User
	row := s.db.QueryRowContext(ctx, `SELECT id, email, created_at, updated_at FROM users WHERE id = $1`, id)
	if err := row.Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return identity.User{}, err
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (identity.User, error) {
	var u identity.User
	row := s.db.QueryRowContext(ctx, `SELECT id, email, created_at, updated_at FROM users WHERE email = $1`, email)
	if err := row.Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return identity.User{}, err
	}
	return u, nil
}
