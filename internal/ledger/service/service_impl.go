package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/smallbiznis/promptmart/internal/clock"
	"github.com/smallbiznis/promptmart/internal/config"
	"github.com/smallbiznis/promptmart/internal/ledger/domain"
	"github.com/smallbiznis/promptmart/internal/lock"
	obsmetrics "github.com/smallbiznis/promptmart/internal/observability/metrics"
	"github.com/smallbiznis/promptmart/pkg/db"
	"github.com/smallbiznis/promptmart/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const verifyBatchSize = 500

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	Locker      lock.Locker
	Clock       clock.Clock
	Marketplace *config.MarketplaceConfigHolder
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	locker      lock.Locker
	clock       clock.Clock
	marketplace *config.MarketplaceConfigHolder
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("ledger.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		locker:      p.Locker,
		clock:       p.Clock,
		marketplace: p.Marketplace,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) ApplyTransaction(ctx context.Context, p domain.Posting) (*domain.Transaction, error) {
	var applied *domain.Transaction
	err := s.RunAtomic(ctx, []domain.AccountKey{p.Key}, func(tx domain.Tx) error {
		txn, err := tx.Apply(p)
		if err != nil {
			return err
		}
		applied = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Service) GetBalance(ctx context.Context, key domain.AccountKey) (int64, error) {
	account, err := s.GetAccount(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.Balance, nil
}

func (s *Service) GetAccount(ctx context.Context, key domain.AccountKey) (*domain.Account, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	account, err := s.repo.FindAccount(ctx, s.db, key, false)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) ListTransactions(ctx context.Context, req domain.ListTransactionsRequest) (domain.ListTransactionsResponse, error) {
	if err := req.Key.Validate(); err != nil {
		return domain.ListTransactionsResponse{}, err
	}

	account, err := s.repo.FindAccount(ctx, s.db, req.Key, false)
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}
	if account == nil {
		return domain.ListTransactionsResponse{Transactions: []domain.Transaction{}}, nil
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}
	var cursorID snowflake.ID
	if cursor != nil {
		cursorID, err = snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListTransactionsResponse{}, pagination.ErrInvalidPageToken
		}
	}

	limit := pagination.Pagination{PageSize: req.PageSize}.Limit()
	filter := domain.TransactionFilter{
		AccountID:  account.ID,
		Descending: req.Descending,
		Limit:      limit + 1,
	}
	if req.Descending {
		filter.BeforeID = cursorID
	} else {
		filter.AfterID = cursorID
	}

	items, err := s.repo.ListTransactions(ctx, s.db, filter)
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, limit, func(t *domain.Transaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: t.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > limit {
		items = items[:limit]
	}

	txns := make([]domain.Transaction, 0, len(items))
	for _, item := range items {
		txns = append(txns, *item)
	}

	return domain.ListTransactionsResponse{
		PageInfo:     *pageInfo,
		Transactions: txns,
	}, nil
}

func (s *Service) FindTransactionByReference(ctx context.Context, key domain.AccountKey, source domain.Source, reference string) (*domain.Transaction, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	account, err := s.repo.FindAccount(ctx, s.db, key, false)
	if err != nil || account == nil {
		return nil, err
	}
	return s.repo.FindTransactionByReference(ctx, s.db, account.ID, source, reference)
}

func (s *Service) ScanTransactions(ctx context.Context, accountID, afterID snowflake.ID, until time.Time, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	items, err := s.repo.ListTransactions(ctx, s.db, domain.TransactionFilter{
		AccountID:    accountID,
		AfterID:      afterID,
		Limit:        limit,
		CreatedUntil: &until,
	})
	if err != nil {
		return nil, err
	}
	txns := make([]domain.Transaction, 0, len(items))
	for _, item := range items {
		txns = append(txns, *item)
	}
	return txns, nil
}

func (s *Service) ListAccountIDs(ctx context.Context, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	return s.repo.ListAccountIDs(ctx, s.db, afterID, limit)
}

func (s *Service) RunAtomic(ctx context.Context, keys []domain.AccountKey, fn func(tx domain.Tx) error) error {
	ordered, err := orderKeys(keys)
	if err != nil {
		return err
	}

	lockKeys := make([]string, 0, len(ordered))
	for _, key := range ordered {
		lockKeys = append(lockKeys, key.LockKey())
	}

	// Locks are taken before the database transaction opens, never inside it.
	unlock, err := lock.LockAll(ctx, s.locker, lockKeys)
	if err != nil {
		return fmt.Errorf("acquire ledger locks: %w", err)
	}
	defer unlock()

	cfg := s.marketplace.Get().Ledger
	policy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return errors.Is(err, domain.ErrConcurrentModification) || db.IsRetryableTxErr(err)
		}).
		WithBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay).
		WithJitterFactor(0.1).
		WithMaxRetries(cfg.MaxConflictRetries).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			s.obsMetrics.RecordLedgerConflict(ctx)
			s.log.Debug("retrying ledger unit",
				zap.Int("attempt", e.Attempts()),
				zap.Error(e.LastError()),
			)
		}).
		Build()

	var committed []*domain.Transaction
	err = failsafe.With[any](policy).WithContext(ctx).Run(func() error {
		unit, err := s.runOnce(ctx, ordered, fn)
		if err != nil {
			return err
		}
		committed = unit
		return nil
	})
	if err != nil {
		return err
	}

	for _, txn := range committed {
		s.obsMetrics.RecordLedgerTransaction(ctx, string(txn.Source), string(txn.Direction))
	}
	return nil
}

func (s *Service) runOnce(ctx context.Context, keys []domain.AccountKey, fn func(tx domain.Tx) error) ([]*domain.Transaction, error) {
	var unit *atomicUnit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		accounts := make(map[domain.AccountKey]*accountState, len(keys))
		for _, key := range keys {
			if err := s.repo.EnsureAccount(ctx, tx, &domain.Account{
				ID:        s.genID.Generate(),
				OwnerID:   key.OwnerID,
				Asset:     key.Asset,
				CreatedAt: now,
				UpdatedAt: now,
			}); err != nil {
				return err
			}
			account, err := s.repo.FindAccount(ctx, tx, key, true)
			if err != nil {
				return err
			}
			if account == nil {
				return fmt.Errorf("account %s missing after ensure: %w", key, domain.ErrConcurrentModification)
			}
			accounts[key] = &accountState{current: *account, prev: *account}
		}

		unit = &atomicUnit{
			ctx:      ctx,
			db:       tx,
			svc:      s,
			now:      now,
			accounts: accounts,
		}
		if err := fn(unit); err != nil {
			return err
		}
		return unit.flush()
	})
	if err != nil {
		return nil, err
	}
	return unit.applied, nil
}

func (s *Service) VerifyAccount(ctx context.Context, accountID snowflake.ID) (domain.VerifyResult, error) {
	account, err := s.repo.FindAccountByID(ctx, s.db, accountID)
	if err != nil {
		return domain.VerifyResult{}, err
	}
	if account == nil {
		return domain.VerifyResult{}, domain.ErrAccountNotFound
	}

	result := domain.VerifyResult{
		AccountID:     account.ID,
		OwnerID:       account.OwnerID,
		Asset:         account.Asset,
		CachedBalance: account.Balance,
		CachedEarned:  account.TotalEarned,
		CachedSpent:   account.TotalSpent,
	}

	var afterID snowflake.ID
	for {
		txns, err := s.repo.ListTransactions(ctx, s.db, domain.TransactionFilter{
			AccountID: account.ID,
			AfterID:   afterID,
			Limit:     verifyBatchSize,
		})
		if err != nil {
			return domain.VerifyResult{}, err
		}
		for _, txn := range txns {
			switch txn.Direction {
			case domain.DirectionCredit:
				result.RecomputedEarned += txn.Amount
				result.RecomputedBalance += txn.Amount
			case domain.DirectionDebit:
				result.RecomputedSpent += txn.Amount
				result.RecomputedBalance -= txn.Amount
			}
			if txn.BalanceAfter != result.RecomputedBalance && result.BrokenChainAt == nil {
				id := txn.ID
				result.BrokenChainAt = &id
			}
			result.TransactionCount++
			afterID = txn.ID
		}
		if len(txns) < verifyBatchSize {
			break
		}
	}

	if !result.Consistent() {
		s.obsMetrics.RecordLedgerDrift(ctx, string(account.Asset))
		s.log.Warn("ledger drift detected",
			zap.String("account_id", account.ID.String()),
			zap.Int64("cached_balance", result.CachedBalance),
			zap.Int64("recomputed_balance", result.RecomputedBalance),
		)
	}
	return result, nil
}

func orderKeys(keys []domain.AccountKey) ([]domain.AccountKey, error) {
	if len(keys) == 0 {
		return nil, domain.ErrAccountNotInScope
	}
	byLock := make(map[string]domain.AccountKey, len(keys))
	lockKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := key.Validate(); err != nil {
			return nil, err
		}
		lk := key.LockKey()
		if _, ok := byLock[lk]; !ok {
			byLock[lk] = key
			lockKeys = append(lockKeys, lk)
		}
	}

	ordered := make([]domain.AccountKey, 0, len(byLock))
	for _, lk := range lock.SortedUnique(lockKeys) {
		ordered = append(ordered, byLock[lk])
	}
	return ordered, nil
}

type accountState struct {
	current domain.Account
	prev    domain.Account
	dirty   bool
}

type atomicUnit struct {
	ctx      context.Context
	db       *gorm.DB
	svc      *Service
	now      time.Time
	accounts map[domain.AccountKey]*accountState
	applied  []*domain.Transaction
}

func (u *atomicUnit) DB() *gorm.DB {
	return u.db
}

func (u *atomicUnit) Account(key domain.AccountKey) (domain.Account, error) {
	state, ok := u.accounts[key]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotInScope
	}
	return state.current, nil
}

func (u *atomicUnit) FindByReference(key domain.AccountKey, source domain.Source, reference string) (*domain.Transaction, error) {
	state, ok := u.accounts[key]
	if !ok {
		return nil, domain.ErrAccountNotInScope
	}
	return u.svc.repo.FindTransactionByReference(u.ctx, u.db, state.current.ID, source, reference)
}

func (u *atomicUnit) SetDailyState(key domain.AccountKey, streak int, claimedAt time.Time) error {
	state, ok := u.accounts[key]
	if !ok {
		return domain.ErrAccountNotInScope
	}
	at := claimedAt.UTC()
	state.current.DailyStreak = streak
	state.current.LastDailyRewardAt = &at
	state.dirty = true
	return nil
}

func (u *atomicUnit) Apply(p domain.Posting) (*domain.Transaction, error) {
	if p.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if !p.Source.Valid() {
		return nil, domain.ErrInvalidSource
	}
	state, ok := u.accounts[p.Key]
	if !ok {
		return nil, domain.ErrAccountNotInScope
	}

	// The cached balance only moves once the transaction row is written.
	next := state.current
	switch p.Direction {
	case domain.DirectionCredit:
		next.Balance += p.Amount
		next.TotalEarned += p.Amount
	case domain.DirectionDebit:
		if p.Amount > next.Balance {
			return nil, domain.ErrInsufficientBalance
		}
		next.Balance -= p.Amount
		next.TotalSpent += p.Amount
	default:
		return nil, domain.ErrInvalidDirection
	}

	txn := &domain.Transaction{
		ID:             u.svc.genID.Generate(),
		AccountID:      next.ID,
		OwnerID:        next.OwnerID,
		Asset:          next.Asset,
		Direction:      p.Direction,
		Amount:         p.Amount,
		BalanceAfter:   next.Balance,
		Source:         p.Source,
		RelatedOrderID: p.RelatedOrderID,
		CreatedAt:      u.now,
	}
	if p.Reference != "" {
		ref := p.Reference
		txn.Reference = &ref
	}
	if err := u.svc.repo.InsertTransaction(u.ctx, u.db, txn); err != nil {
		return nil, err
	}
	state.current = next
	state.dirty = true
	u.applied = append(u.applied, txn)
	return txn, nil
}

func (u *atomicUnit) flush() error {
	for key, state := range u.accounts {
		if !state.dirty {
			continue
		}
		state.current.Version = state.prev.Version + 1
		state.current.UpdatedAt = u.now
		ok, err := u.svc.repo.UpdateAccount(u.ctx, u.db, &state.current, state.prev)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("account %s version %d: %w", key, state.prev.Version, domain.ErrConcurrentModification)
		}
	}
	return nil
}

var _ domain.Tx = (*atomicUnit)(nil)
