package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/promptmart/internal/clock"
	ledgerdomain "github.com/smallbiznis/promptmart/internal/ledger/domain"
	"github.com/smallbiznis/promptmart/internal/lock"
	obsmetrics "github.com/smallbiznis/promptmart/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/promptmart/internal/payout/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakePayouts struct {
	payoutdomain.Service
	calls []string
	fail  map[string]error
}

func (f *fakePayouts) RunPayoutBatch(_ context.Context, req payoutdomain.RunRequest) (*payoutdomain.RunResult, error) {
	f.calls = append(f.calls, req.Provider)
	if err := f.fail[req.Provider]; err != nil {
		return nil, err
	}
	return &payoutdomain.RunResult{
		Batch:   &payoutdomain.Batch{ID: 7, Provider: req.Provider, Status: payoutdomain.BatchStatusCompleted},
		Entries: []payoutdomain.Entry{{ID: 1}, {ID: 2}},
	}, nil
}

type fakeLedger struct {
	ledgerdomain.Service
	ids      []snowflake.ID
	results  map[snowflake.ID]ledgerdomain.VerifyResult
	verified []snowflake.ID
}

func (f *fakeLedger) ListAccountIDs(_ context.Context, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	out := []snowflake.ID{}
	for _, id := range f.ids {
		if id > afterID && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeLedger) VerifyAccount(_ context.Context, accountID snowflake.ID) (ledgerdomain.VerifyResult, error) {
	f.verified = append(f.verified, accountID)
	result, ok := f.results[accountID]
	if !ok {
		return ledgerdomain.VerifyResult{}, ledgerdomain.ErrAccountNotFound
	}
	return result, nil
}

func newTestScheduler(t *testing.T, cfg Config, ledger ledgerdomain.Service, payouts payoutdomain.Service, log *zap.Logger) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	s, err := New(Params{
		Log:       log,
		LedgerSvc: ledger,
		PayoutSvc: payouts,
		Locker:    lock.NewLocalLocker(),
		GenID:     node,
		Clock:     clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)),
		Config:    cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func useTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "promptmart",
		Environment: "test",
	})
	return registry
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Params{Log: zap.NewNop()}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := useTestRegistry(t)
	s := newTestScheduler(t, Config{}, &fakeLedger{}, &fakePayouts{}, nil)

	err := s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "promptmart",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "promptmart_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "promptmart",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "promptmart_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobSkipsWhenLockHeldElsewhere(t *testing.T) {
	registry := useTestRegistry(t)
	s := newTestScheduler(t, Config{}, &fakeLedger{}, &fakePayouts{}, nil)

	token, ok, err := s.locker.TryLock(context.Background(), "scheduler:job:busy_job", time.Minute)
	if err != nil || !ok {
		t.Fatalf("pre-acquire lock: ok=%v err=%v", ok, err)
	}
	defer func() { _ = s.locker.Release(context.Background(), "scheduler:job:busy_job", token) }()

	called := false
	err = s.runJob(context.Background(), "busy_job", 1, time.Second, func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if called {
		t.Fatal("job ran while its lock was held")
	}

	labels := map[string]string{
		"service": "promptmart",
		"env":     "test",
		"job":     "busy_job",
		"reason":  obsmetrics.SchedulerJobSkippedLockHeld,
	}
	if got := getCounterValue(t, registry, "promptmart_scheduler_job_skipped_total", labels); got != 1 {
		t.Fatalf("expected skipped count 1, got %v", got)
	}
}

func TestRunJobReleasesLockAfterRun(t *testing.T) {
	useTestRegistry(t)
	s := newTestScheduler(t, Config{}, &fakeLedger{}, &fakePayouts{}, nil)

	runs := 0
	for i := 0; i < 2; i++ {
		if err := s.runJob(context.Background(), "repeat_job", 1, time.Second, func(context.Context) error {
			runs++
			return nil
		}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if runs != 2 {
		t.Fatalf("expected 2 runs, got %d", runs)
	}
}

func TestPayoutBatchJobContinuesPastFailingProvider(t *testing.T) {
	useTestRegistry(t)
	boom := errors.New("provider down")
	payouts := &fakePayouts{fail: map[string]error{"stripe": boom}}
	s := newTestScheduler(t, Config{PayoutProviders: []string{"stripe", "paypal"}}, &fakeLedger{}, payouts, nil)

	err := s.RunOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if len(payouts.calls) != 2 || payouts.calls[0] != "stripe" || payouts.calls[1] != "paypal" {
		t.Fatalf("unexpected provider calls: %v", payouts.calls)
	}
}

func TestLedgerAuditJobPagesAccountsAndReportsDrift(t *testing.T) {
	useTestRegistry(t)
	core, logs := observer.New(zap.InfoLevel)

	broken := snowflake.ID(42)
	ledger := &fakeLedger{
		ids: []snowflake.ID{1, 2, 3},
		results: map[snowflake.ID]ledgerdomain.VerifyResult{
			1: {AccountID: 1, Asset: ledgerdomain.AssetCredits, CachedBalance: 10, RecomputedBalance: 10, CachedEarned: 10, RecomputedEarned: 10},
			3: {AccountID: 3, Asset: ledgerdomain.AssetMoney, CachedBalance: 10, RecomputedBalance: 7, CachedEarned: 10, RecomputedEarned: 7, BrokenChainAt: &broken},
		},
	}
	s := newTestScheduler(t, Config{BatchSize: 2, EnabledJobs: []string{JobLedgerAudit}}, ledger, &fakePayouts{}, zap.New(core))

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(ledger.verified) != 3 {
		t.Fatalf("expected 3 verified accounts, got %v", ledger.verified)
	}

	drift := logs.FilterMessage("ledger.audit.drift").All()
	if len(drift) != 1 {
		t.Fatalf("expected 1 drift log, got %d", len(drift))
	}
	fields := drift[0].ContextMap()
	if fields["account_id"] != "3" || fields["asset"] != "money" || fields["broken_chain_at"] != "42" {
		t.Fatalf("unexpected drift fields: %v", fields)
	}
}

func TestRunOnceHonoursEnabledJobs(t *testing.T) {
	useTestRegistry(t)
	payouts := &fakePayouts{}
	ledger := &fakeLedger{ids: []snowflake.ID{1}}
	s := newTestScheduler(t, Config{EnabledJobs: []string{" Payout_Batch "}, PayoutProviders: []string{"stripe"}}, ledger, payouts, nil)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(payouts.calls) != 1 {
		t.Fatalf("expected payout job to run once, got %v", payouts.calls)
	}
	if len(ledger.verified) != 0 {
		t.Fatalf("audit ran while disabled: %v", ledger.verified)
	}
}

func TestIsJobEnabledDefaultsToAll(t *testing.T) {
	s := &Scheduler{}
	if !s.isJobEnabled(JobLedgerAudit) {
		t.Fatal("expected all jobs enabled with an empty list")
	}
	s.cfg.EnabledJobs = []string{JobPayoutBatch}
	if s.isJobEnabled(JobLedgerAudit) {
		t.Fatal("ledger_audit should be disabled")
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
