package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/promptmart/internal/clock"
	"github.com/smallbiznis/promptmart/internal/config"
	"github.com/smallbiznis/promptmart/internal/ledger/domain"
	"github.com/smallbiznis/promptmart/internal/ledger/repository"
	"github.com/smallbiznis/promptmart/internal/ledger/service"
	"github.com/smallbiznis/promptmart/internal/lock"
	"github.com/smallbiznis/promptmart/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	svc   domain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	conn := dbtest.Open(t, &domain.Account{}, &domain.Transaction{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	holder, err := config.NewStaticMarketplaceConfigHolder(config.DefaultMarketplaceConfig())
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	svc := service.NewService(service.Params{
		DB:          conn,
		Log:         zap.NewNop(),
		GenID:       node,
		Repo:        repository.Provide(),
		Locker:      lock.NewLocalLocker(),
		Clock:       fc,
		Marketplace: holder,
	})
	return fixture{db: conn, node: node, clock: fc, svc: svc}
}

func (f fixture) credits(owner snowflake.ID) domain.AccountKey {
	return domain.AccountKey{OwnerID: owner, Asset: domain.AssetCredits}
}

func TestApplyTransactionMaintainsBalanceChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.credits(f.node.Generate())

	first, err := f.svc.ApplyTransaction(ctx, domain.Posting{Key: key, Direction: domain.DirectionCredit, Amount: 100, Source: domain.SourceSignupBonus})
	require.NoError(t, err)
	assert.Equal(t, int64(100), first.BalanceAfter)

	second, err := f.svc.ApplyTransaction(ctx, domain.Posting{Key: key, Direction: domain.DirectionDebit, Amount: 30, Source: domain.SourcePurchase})
	require.NoError(t, err)
	assert.Equal(t, int64(70), second.BalanceAfter)

	account, err := f.svc.GetAccount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(70), account.Balance)
	assert.Equal(t, int64(100), account.TotalEarned)
	assert.Equal(t, int64(30), account.TotalSpent)
	assert.Equal(t, account.TotalEarned-account.TotalSpent, account.Balance)

	result, err := f.svc.VerifyAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, result.Consistent())
	assert.Equal(t, 2, result.TransactionCount)
}

func TestApplyTransactionRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	key := f.credits(f.node.Generate())

	for _, amount := range []int64{0, -5} {
		_, err := f.svc.ApplyTransaction(context.Background(), domain.Posting{Key: key, Direction: domain.DirectionCredit, Amount: amount, Source: domain.SourceSignupBonus})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	}
}

func TestDebitBeyondBalanceWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.credits(f.node.Generate())

	_, err := f.svc.ApplyTransaction(ctx, domain.Posting{Key: key, Direction: domain.DirectionDebit, Amount: 500, Source: domain.SourcePurchase})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	balance, err := f.svc.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, balance)

	var count int64
	require.NoError(t, f.db.Model(&domain.Transaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRunAtomicRollsBackEveryAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := f.credits(f.node.Generate())
	seller := f.credits(f.node.Generate())

	_, err := f.svc.ApplyTransaction(ctx, domain.Posting{Key: buyer, Direction: domain.DirectionCredit, Amount: 100, Source: domain.SourceSignupBonus})
	require.NoError(t, err)

	boom := errors.New("seller credit failed")
	err = f.svc.RunAtomic(ctx, []domain.AccountKey{buyer, seller}, func(tx domain.Tx) error {
		if _, err := tx.Apply(domain.Posting{Key: buyer, Direction: domain.DirectionDebit, Amount: 60, Source: domain.SourcePurchase}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	balance, err := f.svc.GetBalance(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
	sellerBalance, err := f.svc.GetBalance(ctx, seller)
	require.NoError(t, err)
	assert.Zero(t, sellerBalance)
}

func TestRunAtomicRejectsAccountsOutsideScope(t *testing.T) {
	f := newFixture(t)
	key := f.credits(f.node.Generate())
	other := f.credits(f.node.Generate())

	err := f.svc.RunAtomic(context.Background(), []domain.AccountKey{key}, func(tx domain.Tx) error {
		_, err := tx.Apply(domain.Posting{Key: other, Direction: domain.DirectionCredit, Amount: 1, Source: domain.SourceSignupBonus})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrAccountNotInScope)
}

func TestConcurrentDebitsNeverOverspend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.credits(f.node.Generate())

	_, err := f.svc.ApplyTransaction(ctx, domain.Posting{Key: key, Direction: domain.DirectionCredit, Amount: 100, Source: domain.SourceSignupBonus})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		declined  int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ApplyTransaction(ctx, domain.Posting{Key: key, Direction: domain.DirectionDebit, Amount: 20, Source: domain.SourcePurchase})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientBalance):
				declined++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, declined)

	account, err := f.svc.GetAccount(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, account.Balance)

	result, err := f.svc.VerifyAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, result.Consistent())
}

func TestOppositeOrderTransfersComplete(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a := f.credits(f.node.Generate())
	b := f.credits(f.node.Generate())

	for _, key := range []domain.AccountKey{a, b} {
		_, err := f.svc.ApplyTransaction(ctx, domain.Posting{Key: key, Direction: domain.DirectionCredit, Amount: 1000, Source: domain.SourceSignupBonus})
		require.NoError(t, err)
	}

	transfer := func(from, to domain.AccountKey) error {
		return f.svc.RunAtomic(ctx, []domain.AccountKey{from, to}, func(tx domain.Tx) error {
			if _, err := tx.Apply(domain.Posting{Key: from, Direction: domain.DirectionDebit, Amount: 1, Source: domain.SourcePurchase}); err != nil {
				return err
			}
			_, err := tx.Apply(domain.Posting{Key: to, Direction: domain.DirectionCredit, Amount: 1, Source: domain.SourcePurchase})
			return err
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); assert.NoError(t, transfer(a, b)) }()
		go func() { defer wg.Done(); assert.NoError(t, transfer(b, a)) }()
	}
	wg.Wait()

	balA, _ := f.svc.GetBalance(ctx, a)
	balB, _ := f.svc.GetBalance(ctx, b)
	assert.Equal(t, int64(2000), balA+balB)
	assert.Equal(t, int64(1000), balA)
}

func TestListTransactionsPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.credits(f.node.Generate())

	for i := 0; i < 5; i++ {
		_, err := f.svc.ApplyTransaction(ctx, domain.Posting{Key: key, Direction: domain.DirectionCredit, Amount: int64(i + 1), Source: domain.SourceDailyLogin})
		require.NoError(t, err)
	}

	page, err := f.svc.ListTransactions(ctx, domain.ListTransactionsRequest{Key: key, PageSize: 3})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 3)
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(1), page.Transactions[0].Amount)

	next, err := f.svc.ListTransactions(ctx, domain.ListTransactionsRequest{Key: key, PageSize: 3, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, next.Transactions, 2)
	assert.False(t, next.HasMore)
	assert.Equal(t, int64(15), next.Transactions[1].BalanceAfter)

	latest, err := f.svc.ListTransactions(ctx, domain.ListTransactionsRequest{Key: key, PageSize: 1, Descending: true})
	require.NoError(t, err)
	require.Len(t, latest.Transactions, 1)
	assert.Equal(t, int64(5), latest.Transactions[0].Amount)
}

func TestListTransactionsForUnknownAccountIsEmpty(t *testing.T) {
	f := newFixture(t)
	page, err := f.svc.ListTransactions(context.Background(), domain.ListTransactionsRequest{Key: f.credits(f.node.Generate())})
	require.NoError(t, err)
	assert.Empty(t, page.Transactions)
}

func TestDuplicateReferenceIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.credits(f.node.Generate())
	posting := domain.Posting{Key: key, Direction: domain.DirectionCredit, Amount: 100, Source: domain.SourceSignupBonus, Reference: "signup_bonus"}

	_, err := f.svc.ApplyTransaction(ctx, posting)
	require.NoError(t, err)
	_, err = f.svc.ApplyTransaction(ctx, posting)
	require.ErrorIs(t, err, domain.ErrDuplicateReference)

	balance, err := f.svc.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	found, err := f.svc.FindTransactionByReference(ctx, key, domain.SourceSignupBonus, "signup_bonus")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(100), found.Amount)
}

func TestFailedApplyLeavesCachedBalanceUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.credits(f.node.Generate())
	posting := domain.Posting{Key: key, Direction: domain.DirectionCredit, Amount: 100, Source: domain.SourceSignupBonus, Reference: "r"}

	_, err := f.svc.ApplyTransaction(ctx, posting)
	require.NoError(t, err)

	var applyErr error
	err = f.svc.RunAtomic(ctx, []domain.AccountKey{key}, func(tx domain.Tx) error {
		_, applyErr = tx.Apply(posting)
		return nil
	})
	require.NoError(t, err)
	require.ErrorIs(t, applyErr, domain.ErrDuplicateReference)

	account, err := f.svc.GetAccount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(100), account.Balance)
	assert.Equal(t, int64(100), account.TotalEarned)

	result, err := f.svc.VerifyAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, result.Consistent())
	assert.Equal(t, 1, result.TransactionCount)
}

func TestVerifyAccountDetectsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.credits(f.node.Generate())

	txn, err := f.svc.ApplyTransaction(ctx, domain.Posting{Key: key, Direction: domain.DirectionCredit, Amount: 40, Source: domain.SourceDailyLogin})
	require.NoError(t, err)
	require.NoError(t, f.db.Exec(`UPDATE ledger_accounts SET balance = 45 WHERE id = ?`, txn.AccountID).Error)

	result, err := f.svc.VerifyAccount(ctx, txn.AccountID)
	require.NoError(t, err)
	assert.False(t, result.Consistent())
	assert.Equal(t, int64(45), result.CachedBalance)
	assert.Equal(t, int64(40), result.RecomputedBalance)
}

func TestSetDailyStatePersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.credits(f.node.Generate())
	claimedAt := f.clock.Now()

	err := f.svc.RunAtomic(ctx, []domain.AccountKey{key}, func(tx domain.Tx) error {
		return tx.SetDailyState(key, 3, claimedAt)
	})
	require.NoError(t, err)

	account, err := f.svc.GetAccount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, account.DailyStreak)
	require.NotNil(t, account.LastDailyRewardAt)
	assert.True(t, account.LastDailyRewardAt.Equal(claimedAt))
}
