package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/promptmart/internal/clock"
	"github.com/smallbiznis/promptmart/internal/config"
	ledgerdomain "github.com/smallbiznis/promptmart/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/promptmart/internal/observability/metrics"
	"github.com/smallbiznis/promptmart/internal/rewards/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const claimDayLayout = "2006-01-02"

type Params struct {
	fx.In

	Log         *zap.Logger
	Ledger      ledgerdomain.Service
	Clock       clock.Clock
	Marketplace *config.MarketplaceConfigHolder
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	ledger      ledgerdomain.Service
	clock       clock.Clock
	marketplace *config.MarketplaceConfigHolder
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:         p.Log.Named("rewards.service"),
		ledger:      p.Ledger,
		clock:       p.Clock,
		marketplace: p.Marketplace,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) ClaimDaily(ctx context.Context, ownerID snowflake.ID) (*domain.ClaimResult, error) {
	key := ledgerdomain.AccountKey{OwnerID: ownerID, Asset: ledgerdomain.AssetCredits}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	cfg := s.marketplace.Get().Rewards

	var result *domain.ClaimResult
	err := s.ledger.RunAtomic(ctx, []ledgerdomain.AccountKey{key}, func(tx ledgerdomain.Tx) error {
		account, err := tx.Account(key)
		if err != nil {
			return err
		}

		// Read inside the unit so racing claims observe each other.
		now := s.clock.Now().UTC()
		streak, err := nextStreak(account, now)
		if err != nil {
			return err
		}

		day := now.Format(claimDayLayout)
		res := &domain.ClaimResult{
			Granted:   true,
			Amount:    cfg.DailyBase,
			NewStreak: streak,
			ClaimedAt: now,
		}

		base, err := tx.Apply(ledgerdomain.Posting{
			Key:       key,
			Direction: ledgerdomain.DirectionCredit,
			Amount:    cfg.DailyBase,
			Source:    ledgerdomain.SourceDailyLogin,
			Reference: "daily:" + day,
		})
		if err != nil {
			return err
		}
		res.Entries = append(res.Entries, *base)
		res.Balance = base.BalanceAfter

		for _, bonus := range cfg.StreakBonuses {
			if bonus.Streak != streak || bonus.Amount <= 0 {
				continue
			}
			txn, err := tx.Apply(ledgerdomain.Posting{
				Key:       key,
				Direction: ledgerdomain.DirectionCredit,
				Amount:    bonus.Amount,
				Source:    ledgerdomain.SourceStreakBonus,
				Reference: "streak:" + strconv.Itoa(streak) + ":" + day,
			})
			if err != nil {
				return err
			}
			res.BonusAmount += bonus.Amount
			res.Entries = append(res.Entries, *txn)
			res.Balance = txn.BalanceAfter
		}

		if err := tx.SetDailyState(key, streak, now); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) || errors.Is(err, ledgerdomain.ErrDuplicateReference) {
			s.recordClaim(ctx, "already_claimed")
			return nil, domain.ErrAlreadyClaimed
		}
		s.recordClaim(ctx, "error")
		return nil, err
	}

	s.recordClaim(ctx, "granted")
	s.log.Info("daily reward claimed",
		zap.String("owner_id", ownerID.String()),
		zap.Int("streak", result.NewStreak),
		zap.Int64("amount", result.Amount),
		zap.Int64("bonus", result.BonusAmount),
	)
	return result, nil
}

// nextStreak applies the claim window rules to the account's last claim.
func nextStreak(account ledgerdomain.Account, now time.Time) (int, error) {
	if account.LastDailyRewardAt == nil {
		return 1, nil
	}
	elapsed := now.Sub(*account.LastDailyRewardAt)
	switch {
	case elapsed < domain.ClaimInterval:
		return 0, domain.ErrAlreadyClaimed
	case elapsed < domain.StreakWindow:
		return account.DailyStreak + 1, nil
	default:
		return 1, nil
	}
}

func (s *Service) DailyStatus(ctx context.Context, ownerID snowflake.ID) (*domain.DailyStatus, error) {
	key := ledgerdomain.AccountKey{OwnerID: ownerID, Asset: ledgerdomain.AssetCredits}
	account, err := s.ledger.GetAccount(ctx, key)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrAccountNotFound) {
			return &domain.DailyStatus{Eligible: true}, nil
		}
		return nil, err
	}

	status := &domain.DailyStatus{Eligible: true}
	last := account.LastDailyRewardAt
	if last == nil {
		return status, nil
	}

	now := s.clock.Now()
	next := last.Add(domain.ClaimInterval)
	expires := last.Add(domain.StreakWindow)
	status.LastClaimedAt = last
	status.NextEligibleAt = &next
	status.Eligible = !now.Before(next)
	if now.Before(expires) {
		status.CurrentStreak = account.DailyStreak
		status.StreakExpires = &expires
	}
	return status, nil
}

func (s *Service) Grant(ctx context.Context, req domain.GrantRequest) (*ledgerdomain.Transaction, error) {
	cfg := s.marketplace.Get().Rewards

	var (
		amount    int64
		reference string
	)
	switch req.Source {
	case ledgerdomain.SourceSignupBonus:
		amount, reference = cfg.SignupBonus, "signup"
	case ledgerdomain.SourceProfileComplete:
		amount, reference = cfg.ProfileComplete, "profile"
	case ledgerdomain.SourcePromptShare:
		ref := strings.TrimSpace(req.Reference)
		if ref == "" {
			return nil, domain.ErrReferenceRequired
		}
		amount, reference = cfg.PromptShare, "share:"+ref
	default:
		return nil, domain.ErrUnsupportedGrant
	}
	if amount <= 0 {
		return nil, domain.ErrGrantDisabled
	}

	txn, err := s.ledger.ApplyTransaction(ctx, ledgerdomain.Posting{
		Key:       ledgerdomain.AccountKey{OwnerID: req.OwnerID, Asset: ledgerdomain.AssetCredits},
		Direction: ledgerdomain.DirectionCredit,
		Amount:    amount,
		Source:    req.Source,
		Reference: reference,
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrDuplicateReference) {
			return nil, domain.ErrAlreadyGranted
		}
		return nil, err
	}

	s.log.Info("credits granted",
		zap.String("owner_id", req.OwnerID.String()),
		zap.String("source", string(req.Source)),
		zap.Int64("amount", amount),
	)
	return txn, nil
}

func (s *Service) recordClaim(ctx context.Context, outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordDailyClaim(ctx, outcome)
	}
}
