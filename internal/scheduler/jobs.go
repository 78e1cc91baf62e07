package scheduler

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/promptmart/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/promptmart/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/promptmart/internal/payout/domain"
	"go.uber.org/zap"
)

// PayoutBatchJob runs one payout batch per configured provider. A provider
// failing does not stop the others.
func (s *Scheduler) PayoutBatchJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobPayoutBatch, len(s.cfg.PayoutProviders))
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	var jobErr error

	for _, provider := range s.cfg.PayoutProviders {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		result, err := s.payoutSvc.RunPayoutBatch(ctx, payoutdomain.RunRequest{Provider: provider})
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.payout.failed", 0, err, zap.String("provider", provider))
			continue
		}
		if result == nil || result.Batch == nil {
			continue
		}
		run.AddProcessed(len(result.Entries))
		obsmetrics.Scheduler().AddBatchProcessed(JobPayoutBatch, "payout_entry", len(result.Entries))
		s.logger(ctx).Info("scheduler.payout.batch",
			zap.String("provider", provider),
			zap.String("batch_id", result.Batch.ID.String()),
			zap.String("status", string(result.Batch.Status)),
			zap.Int("entries", len(result.Entries)),
		)
	}

	return jobErr
}

// LedgerAuditJob recomputes every account from its transaction log and
// reports accounts whose cached balance or balance chain disagrees.
func (s *Scheduler) LedgerAuditJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobLedgerAudit, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	var (
		jobErr  error
		afterID snowflake.ID
		drifted int
	)

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		ids, err := s.ledgerSvc.ListAccountIDs(ctx, afterID, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.audit.list_failed", 0, err)
			return errors.Join(jobErr, err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			result, err := s.ledgerSvc.VerifyAccount(ctx, id)
			if err != nil {
				if errors.Is(err, ledgerdomain.ErrAccountNotFound) {
					continue
				}
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.audit.verify_failed", 0, err, zap.String("account_id", id.String()))
				continue
			}
			run.AddProcessed(1)
			if !result.Consistent() {
				drifted++
				s.reportDrift(ctx, result)
			}
		}
		obsmetrics.Scheduler().AddBatchProcessed(JobLedgerAudit, "ledger_account", len(ids))
		afterID = ids[len(ids)-1]
		if len(ids) < s.cfg.BatchSize {
			break
		}
	}

	if drifted > 0 {
		s.logger(ctx).Warn("scheduler.audit.summary", zap.Int("drifted_accounts", drifted))
	}
	return jobErr
}

func (s *Scheduler) reportDrift(ctx context.Context, result ledgerdomain.VerifyResult) {
	fields := []zap.Field{
		zap.String("account_id", result.AccountID.String()),
		zap.String("owner_id", result.OwnerID.String()),
		zap.String("asset", string(result.Asset)),
		zap.Int64("cached_balance", result.CachedBalance),
		zap.Int64("recomputed_balance", result.RecomputedBalance),
		zap.Int64("cached_earned", result.CachedEarned),
		zap.Int64("recomputed_earned", result.RecomputedEarned),
		zap.Int64("cached_spent", result.CachedSpent),
		zap.Int64("recomputed_spent", result.RecomputedSpent),
	}
	if result.BrokenChainAt != nil {
		fields = append(fields, zap.String("broken_chain_at", result.BrokenChainAt.String()))
	}
	s.logger(ctx).Error("ledger.audit.drift", fields...)
	s.metrics.RecordLedgerDrift(ctx, string(result.Asset))
}
