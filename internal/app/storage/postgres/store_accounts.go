package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-run/core/internal/app/domain/account"
)

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt, acct.UpdatedAt = now, now
	if acct.Metadata == nil {
		acct.Metadata = map[string]string{}
	}
	metadata, err := json.Marshal(acct.Metadata)
	if err != nil {
		return account.Account{}, err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO accounts (id, user_id, profile_url, display_name, validation_status, health_status, session_valid_at, user_paused, metadata, created_at, updated_at)
		VALUES (:id, :user_id, :profile_url, :display_name, :validation_status, :health_status, :session_valid_at, :user_paused, :metadata, :created_at, :updated_at)
	`, map[string]interface{}{
		"id": acct.ID, "user_id": acct.UserID, "profile_url": acct.ProfileURL, "display_name": acct.DisplayName,
		"validation_status": acct.ValidationStatus, "health_status": acct.HealthStatus,
		"session_valid_at": toNullTime(acct.SessionValidAt), "user_paused": acct.UserPaused,
		"metadata": metadata, "created_at": acct.CreatedAt, "updated_at": acct.UpdatedAt,
	})
	if err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	acct.UpdatedAt = time.Now().UTC()
	metadata, err := json.Marshal(acct.Metadata)
	if err != nil {
		return account.Account{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET profile_url = $2, display_name = $3, validation_status = $4, health_status = $5,
		    session_valid_at = $6, user_paused = $7, metadata = $8, updated_at = $9
		WHERE id = $1
	`, acct.ID, acct.ProfileURL, acct.DisplayName, acct.ValidationStatus, acct.HealthStatus,
		toNullTime(acct.SessionValidAt), acct.UserPaused, metadata, acct.UpdatedAt)
	if err != nil {
		return account.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return account.Account{}, errNotFound
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, accountSelect+` WHERE id = $1`, id))
}

func (s *Store) GetAccountByUserID(ctx context.Context, userID string) (account.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, accountSelect+` WHERE user_id = $1`, userID))
}

func (s *Store) ListAccounts(ctx context.Context, userID string) ([]account.Account, error) {
	rows, err := s.db.QueryContext(ctx, accountSelect+` WHERE $1 = '' OR user_id::text = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []account.Account
	for rows.Next() {
		acct, err := s.scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

const accountSelect = `
	SELECT id, user_id, profile_url, display_name, validation_status, health_status,
	       session_valid_at, user_paused, metadata, created_at, updated_at
	FROM accounts`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanAccount(row rowScanner) (account.Account, error) {
	return s.scanAccountRow(row)
}

func (s *Store) scanAccountRow(row rowScanner) (account.Account, error) {
	var (
		acct           account.Account
		sessionValidAt sql.NullTime
		metadata       []byte
	)
	if err := row.Scan(&acct.ID, &acct.UserID, &acct.ProfileURL, &acct.DisplayName,
		&acct.ValidationStatus, &acct.HealthStatus, &sessionValidAt, &acct.UserPaused,
		&metadata, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return account.Account{}, err
	}
	acct.SessionValidAt = sessionValidAt.Time
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &acct.Metadata); err != nil {
			return account.Account{}, err
		}
	}
	return acct, nil
}
