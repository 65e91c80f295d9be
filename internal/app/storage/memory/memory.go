// Package memory is a thread-safe in-process implementation of every store
// interface in internal/app/storage. It is intended for tests and for running
// the service without a database and deliberately keeps things simple: one
// mutex guards one struct.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-run/core/internal/app/domain/account"
	"github.com/lattice-run/core/internal/app/domain/agent"
	"github.com/lattice-run/core/internal/app/domain/audit"
	"github.com/lattice-run/core/internal/app/domain/identity"
	"github.com/lattice-run/core/internal/app/domain/job"
	"github.com/lattice-run/core/internal/app/domain/risk"
	"github.com/lattice-run/core/internal/app/storage"
)

// Store implements every storage interface over in-process maps.
type Store struct {
	mu sync.RWMutex

	users          map[string]identity.User
	accounts       map[string]account.Account
	accountByUser  map[string]string
	agents         map[string]agent.Agent
	agentByAccount map[string]string
	tokens         map[string]agent.Token
	tokenByHash    map[string]string
	jobs           map[string]job.Job
	results        map[string]job.Result
	rules          map[string]risk.Rule
	violations     map[string]risk.Violation
	scores         map[string][]risk.Score
	audit          []audit.Entry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:          make(map[string]identity.User),
		accounts:       make(map[string]account.Account),
		accountByUser:  make(map[string]string),
		agents:         make(map[string]agent.Agent),
		agentByAccount: make(map[string]string),
		tokens:         make(map[string]agent.Token),
		tokenByHash:    make(map[string]string),
		jobs:           make(map[string]job.Job),
		results:        make(map[string]job.Result),
		rules:          make(map[string]risk.Rule),
		violations:     make(map[string]risk.Violation),
		scores:         make(map[string][]risk.Score),
	}
}

var (
	_ storage.UserStore    = (*Store)(nil)
	_ storage.AccountStore = (*Store)(nil)
	_ storage.AgentStore   = (*Store)(nil)
	_ storage.JobStore     = (*Store)(nil)
	_ storage.RiskStore    = (*Store)(nil)
	_ storage.AuditStore   = (*Store)(nil)
)

func newID() string { return uuid.NewString() }

func tokenHashKey(hash []byte) string { return string(hash) }

// ---- UserStore --------------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u identity.User) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = newID()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return identity.User{}, fmt.Errorf("user %s not found", id)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return identity.User{}, fmt.Errorf("user with email %s not found", email)
}

// ---- AccountStore -------------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accountByUser[acct.UserID]; exists {
		return account.Account{}, fmt.Errorf("user %s already has an account", acct.UserID)
	}
	if acct.ID == "" {
		acct.ID = newID()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	acct.Metadata = copyMap(acct.Metadata)

	s.accounts[acct.ID] = acct
	s.accountByUser[acct.UserID] = acct.ID
	return acct, nil
}

func (s *Store) UpdateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.accounts[acct.ID]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s not found", acct.ID)
	}
	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = time.Now().UTC()
	acct.Metadata = copyMap(acct.Metadata)

	s.accounts[acct.ID] = acct
	return acct, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s not found", id)
	}
	return acct, nil
}

func (s *Store) GetAccountByUserID(_ context.Context, userID string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountByUser[userID]
	if !ok {
		return account.Account{}, fmt.Errorf("user %s has no account", userID)
	}
	return s.accounts[id], nil
}

func (s *Store) ListAccounts(_ context.Context, userID string) ([]account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []account.Account
	for _, acct := range s.accounts {
		if userID == "" || acct.UserID == userID {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- AgentStore -----------------------------------------------------------

func (s *Store) UpsertAgent(_ context.Context, ag agent.Agent) (agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.agentByAccount[ag.AccountID]; ok {
		if existing := s.agents[existingID]; existing.State != agent.StateTerminated {
			ag.ID = existing.ID
			ag.RegisteredAt = existing.RegisteredAt
		}
	}
	if ag.ID == "" {
		ag.ID = newID()
		ag.RegisteredAt = time.Now().UTC()
	}
	s.agents[ag.ID] = ag
	if ag.State != agent.StateTerminated {
		s.agentByAccount[ag.AccountID] = ag.ID
	}
	return ag, nil
}

func (s *Store) GetAgent(_ context.Context, id string) (agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ag, ok := s.agents[id]
	if !ok {
		return agent.Agent{}, fmt.Errorf("agent %s not found", id)
	}
	return ag, nil
}

func (s *Store) GetAgentByAccount(_ context.Context, accountID string) (agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.agentByAccount[accountID]
	if !ok {
		return agent.Agent{}, fmt.Errorf("account %s has no agent", accountID)
	}
	return s.agents[id], nil
}

func (s *Store) UpdateAgentHeartbeat(_ context.Context, agentID string, state agent.State, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ag, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s not found", agentID)
	}
	ag.State = state
	ag.LastHeartbeatAt = at
	s.agents[agentID] = ag
	return nil
}

func (s *Store) TerminateAgent(_ context.Context, agentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ag, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s not found", agentID)
	}
	ag.State = agent.StateTerminated
	ag.TerminatedAt = at
	s.agents[agentID] = ag
	if s.agentByAccount[ag.AccountID] == agentID {
		delete(s.agentByAccount, ag.AccountID)
	}
	return nil
}

func (s *Store) IssueToken(_ context.Context, tok agent.Token) (agent.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.tokens {
		if existing.AgentID == tok.AgentID && !existing.Revoked() {
			existing.RevokedAt = time.Now().UTC()
			s.tokens[id] = existing
			delete(s.tokenByHash, tokenHashKey(existing.TokenHash))
		}
	}

	if tok.ID == "" {
		tok.ID = newID()
	}
	s.tokens[tok.ID] = tok
	s.tokenByHash[tokenHashKey(tok.TokenHash)] = tok.ID
	return tok, nil
}

func (s *Store) GetTokenByHash(_ context.Context, tokenHash []byte) (agent.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokenByHash[tokenHashKey(tokenHash)]
	if !ok {
		return agent.Token{}, fmt.Errorf("token not found")
	}
	return s.tokens[id], nil
}

func (s *Store) RevokeToken(_ context.Context, tokenID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[tokenID]
	if !ok {
		return fmt.Errorf("token %s not found", tokenID)
	}
	tok.RevokedAt = at
	s.tokens[tokenID] = tok
	delete(s.tokenByHash, tokenHashKey(tok.TokenHash))
	return nil
}

// ---- JobStore ---------------------------------------------------------

func (s *Store) CreateJob(_ context.Context, j job.Job) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.ID == "" {
		j.ID = newID()
	}
	j.CreatedAt = time.Now().UTC()
	j.State = job.StatePending
	s.jobs[j.ID] = j
	return j, nil
}

func (s *Store) GetJob(_ context.Context, id string) (job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, fmt.Errorf("job %s not found", id)
	}
	return j, nil
}

func (s *Store) ListJobs(_ context.Context, accountID string, limit int) ([]job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []job.Job
	for _, j := range s.jobs {
		if accountID == "" || j.AccountID == accountID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j2 int) bool {
		if !out[i].CreatedAt.Equal(out[j2].CreatedAt) {
			return out[i].CreatedAt.Before(out[j2].CreatedAt)
		}
		return out[i].ID < out[j2].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PullEligible(_ context.Context, accountID, agentID string, now time.Time, maxBatch int) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []job.Job
	for _, j := range s.jobs {
		if j.AccountID == accountID && j.Eligible(now) {
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		if !candidates[i].CreatedAt.Equal(candidates[k].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		}
		return candidates[i].ID < candidates[k].ID
	})

	if maxBatch <= 0 {
		maxBatch = 5
	}
	if len(candidates) > maxBatch {
		candidates = candidates[:maxBatch]
	}

	out := make([]job.Job, 0, len(candidates))
	for _, j := range candidates {
		// Re-check under the held lock: another concurrent pull in the same
		// process cannot have raced us since we never release the lock
		// between selection and assignment, but the check documents the
		// invariant the postgres CAS equivalent depends on.
		current := s.jobs[j.ID]
		if !current.Eligible(now) {
			continue
		}
		current.State = job.StateAssigned
		current.AssignedAgentID = agentID
		current.AssignedAt = now
		s.jobs[j.ID] = current
		out = append(out, current)
	}
	return out, nil
}

func (s *Store) TransitionToExecuting(_ context.Context, jobID, agentID string, at time.Time) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return job.Job{}, fmt.Errorf("job %s not found", jobID)
	}
	if j.AssignedAgentID != agentID {
		return job.Job{}, fmt.Errorf("job %s is not assigned to agent %s", jobID, agentID)
	}
	if j.State == job.StateExecuting {
		return j, nil
	}
	if j.State != job.StateAssigned {
		return job.Job{}, fmt.Errorf("job %s is in state %s, cannot start execution", jobID, j.State)
	}
	j.State = job.StateExecuting
	j.StartedAt = at
	s.jobs[jobID] = j
	return j, nil
}

func (s *Store) CommitResult(_ context.Context, res job.Result, terminal job.State, failureReason job.FailureReason, at time.Time) (job.Result, job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.results[res.JobID]; ok {
		return existing, s.jobs[res.JobID], nil
	}

	j, ok := s.jobs[res.JobID]
	if !ok {
		return job.Result{}, job.Job{}, fmt.Errorf("job %s not found", res.JobID)
	}
	if j.AssignedAgentID != res.AgentID {
		return job.Result{}, job.Job{}, fmt.Errorf("job %s is not assigned to agent %s", res.JobID, res.AgentID)
	}
	if j.State != job.StateAssigned && j.State != job.StateExecuting {
		return job.Result{}, job.Job{}, fmt.Errorf("job %s is in state %s, cannot commit a result", res.JobID, j.State)
	}

	if res.ID == "" {
		res.ID = newID()
	}
	res.CompletedAt = at
	s.results[res.JobID] = res

	j.State = terminal
	j.CompletedAt = at
	j.FailureReason = string(failureReason)
	s.jobs[res.JobID] = j

	return res, j, nil
}

func (s *Store) GetResult(_ context.Context, jobID string) (job.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.results[jobID]
	return res, ok, nil
}

// ---- RiskStore --------------------------------------------------------

func (s *Store) CreateRule(_ context.Context, r risk.Rule) (risk.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = newID()
	}
	s.rules[r.ID] = r
	return r, nil
}

func (s *Store) GetRule(_ context.Context, id string) (risk.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return risk.Rule{}, fmt.Errorf("rule %s not found", id)
	}
	return r, nil
}

func (s *Store) ListActiveRules(_ context.Context, actionType string) ([]risk.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []risk.Rule
	for _, r := range s.rules {
		if !r.IsActive {
			continue
		}
		if actionType != "" && r.ActionType != actionType {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RecordViolation(_ context.Context, v risk.Violation) (risk.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = newID()
	}
	if v.DetectedAt.IsZero() {
		v.DetectedAt = time.Now().UTC()
	}
	s.violations[v.ID] = v
	return v, nil
}

func (s *Store) GetViolation(_ context.Context, id string) (risk.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.violations[id]
	if !ok {
		return risk.Violation{}, fmt.Errorf("violation %s not found", id)
	}
	return v, nil
}

func (s *Store) ListViolations(_ context.Context, accountID string, onlyUnresolved bool, since time.Time) ([]risk.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []risk.Violation
	for _, v := range s.violations {
		if accountID != "" && v.AccountID != accountID {
			continue
		}
		if onlyUnresolved && v.Resolved() {
			continue
		}
		if !since.IsZero() && v.DetectedAt.Before(since) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

func (s *Store) ResolveViolation(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.violations[id]
	if !ok {
		return fmt.Errorf("violation %s not found", id)
	}
	v.ResolvedAt = at
	s.violations[id] = v
	return nil
}

func (s *Store) SaveScore(_ context.Context, sc risk.Score) (risk.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc.ID == "" {
		sc.ID = newID()
	}
	if sc.CalculatedAt.IsZero() {
		sc.CalculatedAt = time.Now().UTC()
	}
	s.scores[sc.AccountID] = append(s.scores[sc.AccountID], sc)
	return sc, nil
}

func (s *Store) LatestScore(_ context.Context, accountID string) (risk.Score, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.scores[accountID]
	if len(history) == 0 {
		return risk.Score{}, false, nil
	}
	latest := history[0]
	for _, sc := range history[1:] {
		if sc.CalculatedAt.After(latest.CalculatedAt) {
			latest = sc
		}
	}
	return latest, true, nil
}

// ---- AuditStore -------------------------------------------------------

func (s *Store) Append(_ context.Context, e audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.audit = append(s.audit, e)
	return e, nil
}

func (s *Store) Query(_ context.Context, filter storage.AuditFilter, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if filter.Domain != "" && e.Domain != filter.Domain {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
