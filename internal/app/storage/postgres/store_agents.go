package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-run/core/internal/app/domain/agent"
)

func (s *Store) UpsertAgent(ctx context.Context, ag agent.Agent) (agent.Agent, error) {
	if ag.ID == "" {
		ag.ID = uuid.NewString()
		if ag.RegisteredAt.IsZero() {
			ag.RegisteredAt = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agents (id, account_id, state, agent_version, platform, last_heartbeat_at, registered_at, terminated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, ag.ID, ag.AccountID, ag.State, ag.AgentVersion, ag.Platform, toNullTime(ag.LastHeartbeatAt), ag.RegisteredAt, toNullTime(ag.TerminatedAt))
		if err != nil {
			return agent.Agent{}, err
		}
		return ag, nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET state = $2, agent_version = $3, platform = $4, last_heartbeat_at = $5, terminated_at = $6
		WHERE id = $1
	`, ag.ID, ag.State, ag.AgentVersion, ag.Platform, toNullTime(ag.LastHeartbeatAt), toNullTime(ag.TerminatedAt))
	if err != nil {
		return agent.Agent{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return agent.Agent{}, errNotFound
	}
	return ag, nil
}

const agentSelect = `
	SELECT id, account_id, state, agent_version, platform, last_heartbeat_at, registered_at, terminated_at
	FROM agents`

func (s *Store) scanAgent(row rowScanner) (agent.Agent, error) {
	var (
		ag              agent.Agent
		lastHeartbeatAt sql.NullTime
		terminatedAt    sql.NullTime
	)
	if err := row.Scan(&ag.ID, &ag.AccountID, &ag.State, &ag.AgentVersion, &ag.Platform,
		&lastHeartbeatAt, &ag.RegisteredAt, &terminatedAt); err != nil {
		return agent.Agent{}, err
	}
	ag.LastHeartbeatAt = lastHeartbeatAt.Time
	ag.TerminatedAt = terminatedAt.Time
	return ag, nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (agent.Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx, agentSelect+` WHERE id = $1`, id))
}

func (s *Store) GetAgentByAccount(ctx context.Context, accountID string) (agent.Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx, agentSelect+` WHERE account_id = $1 AND terminated_at IS NULL`, accountID))
}

func (s *Store) UpdateAgentHeartbeat(ctx context.Context, agentID string, state agent.State, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE agents SET state = $2, last_heartbeat_at = $3 WHERE id = $1`, agentID, state, at)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errNotFound
	}
	return nil
}

func (s *Store) TerminateAgent(ctx context.Context, agentID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE agents SET state = 'TERMINATED', terminated_at = $2 WHERE id = $1`, agentID, at)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errNotFound
	}
	return nil
}

// IssueToken revokes any live token bound to tok.AgentID and inserts tok in
// the same transaction, so at most one live token exists per agent.
func (s *Store) IssueToken(ctx context.Context, tok agent.Token) (agent.Token, error) {
	if tok.ID == "" {
		tok.ID = uuid.NewString()
	}
	if tok.IssuedAt.IsZero() {
		tok.IssuedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return agent.Token{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE agent_tokens SET revoked_at = $2 WHERE agent_id = $1 AND revoked_at IS NULL
	`, tok.AgentID, tok.IssuedAt); err != nil {
		return agent.Token{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agent_tokens (id, agent_id, account_id, token_hash, issued_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tok.ID, tok.AgentID, tok.AccountID, tok.TokenHash, tok.IssuedAt, tok.ExpiresAt, toNullTime(tok.RevokedAt)); err != nil {
		return agent.Token{}, err
	}

	if err := tx.Commit(); err != nil {
		return agent.Token{}, err
	}
	return tok, nil
}

func (s *Store) GetTokenByHash(ctx context.Context, tokenHash []byte) (agent.Token, error) {
	var (
		tok       agent.Token
		revokedAt sql.NullTime
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, account_id, token_hash, issued_at, expires_at, revoked_at
		FROM agent_tokens WHERE token_hash = $1
	`, tokenHash)
	if err := row.Scan(&tok.ID, &tok.AgentID, &tok.AccountID, &tok.TokenHash, &tok.IssuedAt, &tok.ExpiresAt, &revokedAt); err != nil {
		return agent.Token{}, err
	}
	tok.RevokedAt = revokedAt.Time
	return tok, nil
}

func (s *Store) RevokeToken(ctx context.Context, tokenID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE agent_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, tokenID, at)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errNotFound
	}
	return nil
}
