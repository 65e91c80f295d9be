// Package app wires the subsystem services together into a single runnable
// application: the composition root.
package app

import (
	"context"

	"github.com/lattice-run/core/internal/app/domain/account"
	"github.com/lattice-run/core/internal/app/services/accounts"
	"github.com/lattice-run/core/internal/app/services/agents"
	"github.com/lattice-run/core/internal/app/services/audit"
	"github.com/lattice-run/core/internal/app/services/dispatch"
	"github.com/lattice-run/core/internal/app/services/identity"
	riskservice "github.com/lattice-run/core/internal/app/services/risk"
	"github.com/lattice-run/core/internal/app/storage"
	"github.com/lattice-run/core/internal/app/system"
	"github.com/lattice-run/core/pkg/config"
	"github.com/lattice-run/core/pkg/logger"
)

// Application bundles every subsystem service and the background lifecycle
// manager that starts and stops them.
type Application struct {
	Config *config.Config
	Log    *logger.Logger

	Identity *identity.Service
	Accounts *accounts.Service
	Agents   *agents.Service
	Risk     *riskservice.Service
	Dispatch *dispatch.Service
	Audit    *audit.Service

	Manager *system.Manager

	resultHooks dispatch.ResultHooks
}

// ResultHooks returns the cross-subsystem notification hooks every
// SubmitResult call must be given, wired against this Application's own
// Accounts service; the Risk Oracle is not notified.
func (a *Application) ResultHooks() dispatch.ResultHooks {
	return a.resultHooks
}

// Stores bundles the persistence backend every service is wired against. A
// single implementation (memory or postgres) satisfies all six interfaces.
type Stores struct {
	Users    storage.UserStore
	Accounts storage.AccountStore
	Agents   storage.AgentStore
	Jobs     storage.JobStore
	Risk     storage.RiskStore
	Audit    storage.AuditStore
}

// riskOracleAdapter lets the Agent Registry's heartbeat path consult the Risk
// Oracle through the domain-neutral agents.RiskVerdict shape without the
// agents package importing the risk domain package.
type riskOracleAdapter struct {
	oracle *riskservice.Service
}

func (a riskOracleAdapter) IsExecutionAllowed(ctx context.Context, accountID string) (agents.RiskVerdict, error) {
	verdict, err := a.oracle.IsExecutionAllowed(ctx, accountID)
	if err != nil {
		return agents.RiskVerdict{}, err
	}
	return agents.RiskVerdict{Allowed: verdict.Allowed, Reason: string(verdict.Reason)}, nil
}

// New assembles the Application from configuration, a logger, and a storage
// backend. The caller picks the backend (memory for tests, postgres in
// production) and passes it in already wired.
func New(cfg *config.Config, log *logger.Logger, stores Stores) *Application {
	if log == nil {
		log = logger.NewDefault("app")
	}

	identitySvc := identity.New(stores.Users, log)
	auditSvc := audit.New(stores.Audit, log)
	accountsSvc := accounts.New(stores.Accounts, stores.Audit, log)
	riskSvc := riskservice.New(accountsSvc, stores.Risk, stores.Accounts, log)
	agentsSvc := agents.New(accountsSvc, stores.Agents, stores.Accounts, stores.Audit, riskOracleAdapter{oracle: riskSvc}, cfg.Auth.TokenTTL(), log)
	dispatchSvc := dispatch.New(accountsSvc, stores.Jobs, stores.Audit, riskSvc, log)

	manager := system.NewManager()
	if cfg.Dispatch.ReaperEnabled {
		reaper := dispatch.NewReaper(dispatchSvc, cfg.Dispatch.ReaperTick(), cfg.Dispatch.ReaperGrace(), log)
		_ = manager.Register(reaper)
	}

	hooks := dispatch.ResultHooks{
		OnSessionExpired: func(ctx context.Context, accountID, jobID string) {
			if _, err := accountsSvc.UpdateValidationStatus(ctx, accountID, account.ValidationExpired); err != nil {
				log.WithError(err).WithField("account_id", accountID).WithField("job_id", jobID).
					Warn("failed to mark account session expired after job failure")
			}
		},
	}

	return &Application{
		Config:      cfg,
		Log:         log,
		Identity:    identitySvc,
		Accounts:    accountsSvc,
		Agents:      agentsSvc,
		Risk:        riskSvc,
		Dispatch:    dispatchSvc,
		Audit:       auditSvc,
		Manager:     manager,
		resultHooks: hooks,
	}
}

// Start starts every background lifecycle service (the reaper, if enabled).
func (a *Application) Start(ctx context.Context) error {
	return a.Manager.Start(ctx)
}

// Stop stops every background lifecycle service.
func (a *Application) Stop(ctx context.Context) error {
	return a.Manager.Stop(ctx)
}
