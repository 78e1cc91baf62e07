package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/promptmart/internal/clock"
	ledgerdomain "github.com/smallbiznis/promptmart/internal/ledger/domain"
	"github.com/smallbiznis/promptmart/internal/lock"
	obsmetrics "github.com/smallbiznis/promptmart/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/promptmart/internal/payout/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobPayoutBatch = "payout_batch"
	JobLedgerAudit = "ledger_audit"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	LedgerSvc  ledgerdomain.Service
	PayoutSvc  payoutdomain.Service
	Locker     lock.Locker `optional:"true"`
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config              `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	locker    lock.Locker
	ledgerSvc ledgerdomain.Service
	payoutSvc payoutdomain.Service
	metrics   *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.LedgerSvc == nil || p.PayoutSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		locker:    p.Locker,
		ledgerSvc: p.LedgerSvc,
		payoutSvc: p.PayoutSvc,
		metrics:   p.ObsMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	schedMetrics := obsmetrics.Scheduler()

	release, held, err := s.acquire(parent, name)
	if err != nil {
		schedMetrics.IncJobError(name, err)
		return fmt.Errorf("%s: %w", name, err)
	}
	if !held {
		schedMetrics.IncJobSkipped(name, obsmetrics.SchedulerJobSkippedLockHeld)
		s.log.Debug("job skipped, lock held elsewhere", zap.String("job", name))
		return nil
	}
	defer release()

	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(zap.String("run_id", run.runID))
	schedMetrics.IncJobRun(name)

	err = fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout: the next tick resumes the work
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// acquire takes the cluster-wide singleton lock for a job. Without a locker
// every instance runs every job.
func (s *Scheduler) acquire(ctx context.Context, name string) (func(), bool, error) {
	if s.locker == nil {
		return func() {}, true, nil
	}
	key := "scheduler:job:" + name
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		if err := s.locker.Release(context.Background(), key, token); err != nil {
			s.log.Warn("release job lock failed", zap.String("job", name), zap.Error(err))
		}
	}, true, nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobPayoutBatch, s.isJobEnabled(JobPayoutBatch), func(ctx context.Context) error {
			return s.runJob(ctx, JobPayoutBatch, len(s.cfg.PayoutProviders), s.cfg.PayoutTimeout, s.PayoutBatchJob)
		}},
		{JobLedgerAudit, s.isJobEnabled(JobLedgerAudit), func(ctx context.Context) error {
			return s.runJob(ctx, JobLedgerAudit, s.cfg.BatchSize, s.cfg.AuditTimeout, s.LedgerAuditJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		} else {
			obsmetrics.Scheduler().IncJobSkipped(job.Name, obsmetrics.SchedulerJobSkippedDisabled)
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty list means every job runs
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}
