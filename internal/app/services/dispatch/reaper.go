package dispatch

import (
	"context"
	"sync"
	"time"

	core "github.com/lattice-run/core/internal/app/core/service"
	"github.com/lattice-run/core/internal/app/domain/job"
	"github.com/lattice-run/core/internal/app/system"
	"github.com/lattice-run/core/pkg/logger"
)

var _ system.Service = (*Reaper)(nil)

// Reaper moves jobs stuck in EXECUTING past startedAt+timeoutSeconds+grace
// back into FAILED(TIMEOUT). It is optional and disabled by default; when
// enabled it uses the same idempotent SubmitResult path a late agent result
// would, so it always loses the race to a genuine result.
type Reaper struct {
	service  *Service
	log      *logger.Logger
	interval time.Duration
	grace    time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewReaper creates a lifecycle-managed stuck-job reaper.
func NewReaper(service *Service, interval, grace time.Duration, log *logger.Logger) *Reaper {
	if log == nil {
		log = logger.NewDefault("dispatch-reaper")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{service: service, log: log, interval: interval, grace: grace}
}

// Name returns the service identifier.
func (r *Reaper) Name() string { return "dispatch-reaper" }

// Descriptor advertises the reaper's architectural placement.
func (r *Reaper) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "dispatch-reaper",
		Domain:       "dispatch",
		Layer:        core.LayerEngine,
		Capabilities: []string{"timeout-sweep"},
	}
}

// Start begins the background sweep loop.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("dispatch reaper started")
	return nil
}

// Stop halts the sweep loop.
func (r *Reaper) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("dispatch reaper stopped")
	return nil
}

func (r *Reaper) tick(ctx context.Context) {
	if r.service == nil {
		return
	}
	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	jobs, err := r.service.store.ListJobs(listCtx, "", 500)
	cancel()
	if err != nil {
		r.log.WithError(err).Warn("dispatch reaper list failed")
		return
	}

	now := time.Now().UTC()
	for _, j := range jobs {
		if j.State != job.StateExecuting || j.StartedAt.IsZero() {
			continue
		}
		deadline := j.StartedAt.Add(time.Duration(j.TimeoutSeconds) * time.Second).Add(r.grace)
		if now.Before(deadline) {
			continue
		}
		_, err := r.service.SubmitResult(ctx, j.AssignedAgentID, j.ID, job.ResultFailed, job.FailureTimeout, job.ObservedNone, ResultHooks{})
		if err != nil {
			r.log.WithError(err).WithField("job_id", j.ID).Warn("dispatch reaper failed to submit timeout result")
		}
	}
}
