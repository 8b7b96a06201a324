package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"leadflow/internal/ledger"
	"leadflow/internal/rollup"
)

// Rollup recomputes one day of statistics.
type Rollup interface {
	UpdateDailyStats(ctx context.Context, date time.Time) (*rollup.DailyStats, error)
	Location() *time.Location
}

// Reconciler rebuilds partner counters from the lead table.
type Reconciler interface {
	ReconcileAll(ctx context.Context) ([]ledger.Drift, error)
}

// Options holds the cron specs, in standard five-field form.
type Options struct {
	RollupSpec    string
	ReconcileSpec string
}

// Scheduler is responsible for running background jobs
type Scheduler struct {
	logger     *slog.Logger
	rollup     Rollup
	reconciler Reconciler
	opts       Options
	now        func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	cron      *cron.Cron
	isRunning bool

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool
}

func NewScheduler(logger *slog.Logger, r Rollup, reconciler Reconciler, opts Options) (*Scheduler, error) {
	for name, spec := range map[string]string{"rollup": opts.RollupSpec, "reconcile": opts.ReconcileSpec} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:     logger,
		rollup:     r,
		reconciler: reconciler,
		opts:       opts,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		cron:       cron.New(cron.WithLocation(r.Location())),
	}, nil
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	start := time.Now()
	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
		return
	}
	s.logger.Info("Job finished", slog.String("job", jobName), slog.Duration("took", time.Since(start)))
}

// Start registers the jobs and starts the cron runner.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Start() error {
	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	if _, err := s.cron.AddFunc(s.opts.RollupSpec, func() {
		s.executeJobSafely("daily_rollup", s.RunRollup)
	}); err != nil {
		return fmt.Errorf("failed to schedule rollup: %w", err)
	}
	if _, err := s.cron.AddFunc(s.opts.ReconcileSpec, func() {
		s.executeJobSafely("ledger_reconcile", s.RunReconcile)
	}); err != nil {
		return fmt.Errorf("failed to schedule reconcile: %w", err)
	}

	s.cron.Start()
	s.isRunning = true

	// today's row exists before the first scheduled run
	go s.executeJobSafely("initial_rollup", s.RunRollup)

	s.logger.Info("Background jobs started",
		slog.String("rollup", s.opts.RollupSpec),
		slog.String("reconcile", s.opts.ReconcileSpec))
	return nil
}

// Stop halts the cron runner and waits for a running job to return.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.cancel()
	<-s.cron.Stop().Done()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}

// RunRollup finalizes yesterday and refreshes today.
func (s *Scheduler) RunRollup() error {
	today := s.now().In(s.rollup.Location())
	for _, day := range []time.Time{today.AddDate(0, 0, -1), today} {
		if _, err := s.rollup.UpdateDailyStats(s.ctx, day); err != nil {
			return fmt.Errorf("rollup %s: %w", day.Format(time.DateOnly), err)
		}
	}
	return nil
}

// RunReconcile corrects drifted partner counters.
func (s *Scheduler) RunReconcile() error {
	drifted, err := s.reconciler.ReconcileAll(s.ctx)
	if err != nil {
		return err
	}
	for _, d := range drifted {
		s.logger.Warn("Partner counters corrected",
			slog.Uint64("partner_id", uint64(d.PartnerID)),
			slog.String("code", d.Code),
			slog.Any("before", d.Before),
			slog.Any("after", d.After))
	}
	return nil
}
