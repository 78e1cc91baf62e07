package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/promptmart/internal/clock"
	"github.com/smallbiznis/promptmart/internal/config"
	ledgerdomain "github.com/smallbiznis/promptmart/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/promptmart/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/promptmart/internal/ledger/service"
	"github.com/smallbiznis/promptmart/internal/lock"
	"github.com/smallbiznis/promptmart/internal/rewards/domain"
	"github.com/smallbiznis/promptmart/internal/rewards/service"
	"github.com/smallbiznis/promptmart/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	node   *snowflake.Node
	clock  *clock.FakeClock
	ledger ledgerdomain.Service
	svc    domain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	conn := dbtest.Open(t, &ledgerdomain.Account{}, &ledgerdomain.Transaction{})
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	holder, err := config.NewStaticMarketplaceConfigHolder(config.DefaultMarketplaceConfig())
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:          conn,
		Log:         zap.NewNop(),
		GenID:       node,
		Repo:        ledgerrepo.Provide(),
		Locker:      lock.NewLocalLocker(),
		Clock:       fc,
		Marketplace: holder,
	})
	svc := service.NewService(service.Params{
		Log:         zap.NewNop(),
		Ledger:      ledger,
		Clock:       fc,
		Marketplace: holder,
	})
	return fixture{node: node, clock: fc, ledger: ledger, svc: svc}
}

func (f fixture) balance(t *testing.T, owner snowflake.ID) int64 {
	t.Helper()
	balance, err := f.ledger.GetBalance(context.Background(), ledgerdomain.AccountKey{OwnerID: owner, Asset: ledgerdomain.AssetCredits})
	require.NoError(t, err)
	return balance
}

func TestClaimDailyTwiceWithinWindowFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.node.Generate()

	first, err := f.svc.ClaimDaily(ctx, owner)
	require.NoError(t, err)
	assert.True(t, first.Granted)
	assert.Equal(t, int64(50), first.Amount)
	assert.Equal(t, 1, first.NewStreak)

	f.clock.Advance(23*time.Hour + 59*time.Minute)
	_, err = f.svc.ClaimDaily(ctx, owner)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.Equal(t, int64(50), f.balance(t, owner))

	status, err := f.svc.DailyStatus(ctx, owner)
	require.NoError(t, err)
	assert.False(t, status.Eligible)
	assert.Equal(t, 1, status.CurrentStreak)
}

func TestClaimDailyStreakIncrementsJustPastInterval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.node.Generate()

	_, err := f.svc.ClaimDaily(ctx, owner)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Hour)
	second, err := f.svc.ClaimDaily(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 2, second.NewStreak)

	f.clock.Advance(24*time.Hour + time.Second)
	third, err := f.svc.ClaimDaily(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 3, third.NewStreak)
}

func TestClaimDailyStreakResetsAfterWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.node.Generate()

	_, err := f.svc.ClaimDaily(ctx, owner)
	require.NoError(t, err)
	f.clock.Advance(25 * time.Hour)
	_, err = f.svc.ClaimDaily(ctx, owner)
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	status, err := f.svc.DailyStatus(ctx, owner)
	require.NoError(t, err)
	assert.True(t, status.Eligible)
	assert.Zero(t, status.CurrentStreak)

	res, err := f.svc.ClaimDaily(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewStreak)
}

func TestClaimDailyGrantsStreakBonusAsSeparateEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.node.Generate()

	var last *domain.ClaimResult
	for day := 1; day <= 7; day++ {
		res, err := f.svc.ClaimDaily(ctx, owner)
		require.NoError(t, err)
		last = res
		f.clock.Advance(25 * time.Hour)
	}

	assert.Equal(t, 7, last.NewStreak)
	assert.Equal(t, int64(100), last.BonusAmount)
	require.Len(t, last.Entries, 2)
	assert.Equal(t, ledgerdomain.SourceDailyLogin, last.Entries[0].Source)
	assert.Equal(t, ledgerdomain.SourceStreakBonus, last.Entries[1].Source)
	assert.Equal(t, int64(7*50+100), f.balance(t, owner))
}

func TestClaimDailyConcurrentClaimsGrantOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.node.Generate()

	const racers = 2
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		granted  int
		rejected int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ClaimDaily(ctx, owner)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case assert.ErrorIs(t, err, domain.ErrAlreadyClaimed):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, int64(50), f.balance(t, owner))
}

func TestGrantIsIdempotentPerReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.node.Generate()

	_, err := f.svc.Grant(ctx, domain.GrantRequest{OwnerID: owner, Source: ledgerdomain.SourceSignupBonus})
	require.NoError(t, err)
	_, err = f.svc.Grant(ctx, domain.GrantRequest{OwnerID: owner, Source: ledgerdomain.SourceSignupBonus})
	assert.ErrorIs(t, err, domain.ErrAlreadyGranted)

	_, err = f.svc.Grant(ctx, domain.GrantRequest{OwnerID: owner, Source: ledgerdomain.SourcePromptShare})
	assert.ErrorIs(t, err, domain.ErrReferenceRequired)

	_, err = f.svc.Grant(ctx, domain.GrantRequest{OwnerID: owner, Source: ledgerdomain.SourcePromptShare, Reference: "listing-1"})
	require.NoError(t, err)
	_, err = f.svc.Grant(ctx, domain.GrantRequest{OwnerID: owner, Source: ledgerdomain.SourcePromptShare, Reference: "listing-2"})
	require.NoError(t, err)
	_, err = f.svc.Grant(ctx, domain.GrantRequest{OwnerID: owner, Source: ledgerdomain.SourcePromptShare, Reference: "listing-1"})
	assert.ErrorIs(t, err, domain.ErrAlreadyGranted)

	_, err = f.svc.Grant(ctx, domain.GrantRequest{OwnerID: owner, Source: ledgerdomain.SourcePurchase})
	assert.ErrorIs(t, err, domain.ErrUnsupportedGrant)

	assert.Equal(t, int64(100+10+10), f.balance(t, owner))
}
