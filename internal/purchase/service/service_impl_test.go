package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/promptmart/internal/clock"
	"github.com/smallbiznis/promptmart/internal/config"
	ledgerdomain "github.com/smallbiznis/promptmart/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/promptmart/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/promptmart/internal/ledger/service"
	listingdomain "github.com/smallbiznis/promptmart/internal/listing/domain"
	listingrepo "github.com/smallbiznis/promptmart/internal/listing/repository"
	listingservice "github.com/smallbiznis/promptmart/internal/listing/service"
	"github.com/smallbiznis/promptmart/internal/lock"
	paymentdomain "github.com/smallbiznis/promptmart/internal/payment/domain"
	"github.com/smallbiznis/promptmart/internal/purchase/domain"
	"github.com/smallbiznis/promptmart/internal/purchase/repository"
	"github.com/smallbiznis/promptmart/internal/purchase/service"
	"github.com/smallbiznis/promptmart/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeCharger struct {
	mu     sync.Mutex
	status paymentdomain.ChargeStatus
	block  bool
	calls  int
}

func (f *fakeCharger) Provider() string { return "stripe" }

func (f *fakeCharger) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	f.mu.Lock()
	f.calls++
	status, block := f.status, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	result := &paymentdomain.ChargeResult{Status: status, ProviderChargeID: "pi_" + req.IdempotencyKey}
	if status == paymentdomain.ChargeStatusDeclined {
		result.DeclineReason = "card_declined"
	}
	if status == paymentdomain.ChargeStatusPending {
		result.CheckoutURL = "https://checkout.example/" + req.IdempotencyKey
	}
	return result, nil
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	holder   *config.MarketplaceConfigHolder
	charger  *fakeCharger
	ledger   ledgerdomain.Service
	listings listingdomain.Service
	svc      domain.Service
	platform snowflake.ID
	seller   snowflake.ID
	buyer    snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn := dbtest.Open(t,
		&ledgerdomain.Account{},
		&ledgerdomain.Transaction{},
		&listingdomain.Listing{},
		&domain.Order{},
		&domain.License{},
		&domain.Attempt{},
	)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	holder, err := config.NewStaticMarketplaceConfigHolder(config.DefaultMarketplaceConfig())
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:          conn,
		Log:         log,
		GenID:       node,
		Repo:        ledgerrepo.Provide(),
		Locker:      lock.NewLocalLocker(),
		Clock:       fc,
		Marketplace: holder,
	})
	listings := listingservice.New(listingservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Repo:  listingrepo.Provide(),
		Clock: fc,
	})

	platform := node.Generate()
	charger := &fakeCharger{status: paymentdomain.ChargeStatusSucceeded}
	svc := service.NewService(service.Params{
		DB:          conn,
		Log:         log,
		GenID:       node,
		Repo:        repository.Provide(),
		Ledger:      ledger,
		Listings:    listings,
		Clock:       fc,
		Cfg:         config.Config{PlatformOwnerID: platform.Int64(), Currency: "USD"},
		Marketplace: holder,
		Charger:     charger,
	})

	return &fixture{
		db:       conn,
		node:     node,
		holder:   holder,
		charger:  charger,
		ledger:   ledger,
		listings: listings,
		svc:      svc,
		platform: platform,
		seller:   node.Generate(),
		buyer:    node.Generate(),
	}
}

func ptr(v int64) *int64 { return &v }

func (f *fixture) listing(t *testing.T, req listingdomain.CreateListingRequest) *listingdomain.Listing {
	t.Helper()
	req.SellerID = f.seller
	if req.Title == "" {
		req.Title = "Moody Product Shot"
	}
	if req.Content == "" {
		req.Content = "studio product photo, rim light, 85mm"
	}
	listing, err := f.listings.Create(context.Background(), req)
	require.NoError(t, err)
	return listing
}

func (f *fixture) fund(t *testing.T, owner snowflake.ID, amount int64) {
	t.Helper()
	_, err := f.ledger.ApplyTransaction(context.Background(), ledgerdomain.Posting{
		Key:       ledgerdomain.AccountKey{OwnerID: owner, Asset: ledgerdomain.AssetCredits},
		Direction: ledgerdomain.DirectionCredit,
		Amount:    amount,
		Source:    ledgerdomain.SourceSignupBonus,
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, owner snowflake.ID, asset ledgerdomain.Asset) int64 {
	t.Helper()
	balance, err := f.ledger.GetBalance(context.Background(), ledgerdomain.AccountKey{OwnerID: owner, Asset: asset})
	require.NoError(t, err)
	return balance
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func TestSettleMoneyPurchaseSplitsSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := f.listing(t, listingdomain.CreateListingRequest{AcceptsMoney: true, PriceCents: ptr(1000)})

	result, err := f.svc.SettlePurchase(ctx, domain.SettleRequest{
		BuyerID:        f.buyer,
		ListingID:      listing.ID,
		PaymentMethod:  listingdomain.PaymentMethodMoney,
		IdempotencyKey: "click-1",
		BuyerToken:     "pm_card_visa",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Order)

	order := result.Order
	assert.Equal(t, int64(150), order.CommissionCents)
	assert.Equal(t, int64(59), order.ProcessorFeeCents)
	assert.Equal(t, int64(791), order.SellerNetCents)
	assert.Equal(t, order.Amount(), order.CommissionCents+order.ProcessorFeeCents+order.SellerNetCents)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	require.NotNil(t, order.ProviderChargeID)
	assert.Equal(t, "pi_click-1", *order.ProviderChargeID)

	assert.Equal(t, int64(791), f.balance(t, f.seller, ledgerdomain.AssetMoney))
	assert.Equal(t, int64(150), f.balance(t, f.platform, ledgerdomain.AssetMoney))

	require.NotNil(t, result.License)
	assert.True(t, strings.HasPrefix(result.License.LicenseKey, "lic_"))
	assert.Len(t, result.License.LicenseKey, 44)

	got, err := f.svc.GetLicense(ctx, result.License.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.OrderID)

	access, err := f.svc.HasAccess(ctx, f.buyer, listing.ID)
	require.NoError(t, err)
	assert.True(t, access)

	updated, err := f.listings.Get(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.SalesCount)
}

func TestSettleReplaysSameIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := f.listing(t, listingdomain.CreateListingRequest{AcceptsCredits: true, CreditPrice: ptr(500)})
	f.fund(t, f.buyer, 800)

	req := domain.SettleRequest{
		BuyerID:        f.buyer,
		ListingID:      listing.ID,
		PaymentMethod:  listingdomain.PaymentMethodCredits,
		IdempotencyKey: "click-2",
	}
	first, err := f.svc.SettlePurchase(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.svc.SettlePurchase(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.License.LicenseKey, second.License.LicenseKey)

	assert.Equal(t, int64(1), f.count(t, &domain.Order{}))
	assert.Equal(t, int64(300), f.balance(t, f.buyer, ledgerdomain.AssetCredits))
	assert.Equal(t, int64(425), f.balance(t, f.seller, ledgerdomain.AssetCredits))
	assert.Equal(t, int64(75), f.balance(t, f.platform, ledgerdomain.AssetCredits))
	// signup grant + buyer debit + seller credit + platform commission
	assert.Equal(t, int64(4), f.count(t, &ledgerdomain.Transaction{}))
}

func TestSettleRejectsKeyReusedForDifferentListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.listing(t, listingdomain.CreateListingRequest{AcceptsCredits: true, CreditPrice: ptr(100)})
	second := f.listing(t, listingdomain.CreateListingRequest{AcceptsCredits: true, CreditPrice: ptr(100)})
	f.fund(t, f.buyer, 500)

	_, err := f.svc.SettlePurchase(ctx, domain.SettleRequest{
		BuyerID: f.buyer, ListingID: first.ID, PaymentMethod: listingdomain.PaymentMethodCredits, IdempotencyKey: "shared",
	})
	require.NoError(t, err)

	_, err = f.svc.SettlePurchase(ctx, domain.SettleRequest{
		BuyerID: f.buyer, ListingID: second.ID, PaymentMethod: listingdomain.PaymentMethodCredits, IdempotencyKey: "shared",
	})
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyConflict)
	assert.Equal(t, int64(1), f.count(t, &domain.Order{}))
}

func TestSettleCreditsInsufficientBalanceWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := f.listing(t, listingdomain.CreateListingRequest{AcceptsCredits: true, CreditPrice: ptr(500)})

	_, err := f.svc.SettlePurchase(ctx, domain.SettleRequest{
		BuyerID:        f.buyer,
		ListingID:      listing.ID,
		PaymentMethod:  listingdomain.PaymentMethodCredits,
		IdempotencyKey: "broke",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientBalance)

	assert.Zero(t, f.count(t, &ledgerdomain.Transaction{}))
	assert.Zero(t, f.count(t, &domain.Order{}))
	assert.Zero(t, f.count(t, &domain.License{}))
	assert.Zero(t, f.balance(t, f.seller, ledgerdomain.AssetCredits))
}

func TestSettleDeclinedChargeWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.charger.status = paymentdomain.ChargeStatusDeclined
	listing := f.listing(t, listingdomain.CreateListingRequest{AcceptsMoney: true, PriceCents: ptr(1000)})

	_, err := f.svc.SettlePurchase(ctx, domain.SettleRequest{
		BuyerID:        f.buyer,
		ListingID:      listing.ID,
		PaymentMethod:  listingdomain.PaymentMethodMoney,
		IdempotencyKey: "declined",
	})
	assert.ErrorIs(t, err, domain.ErrPaymentDeclined)
	assert.Zero(t, f.count(t, &ledgerdomain.Transaction{}))
	assert.Zero(t, f.count(t, &domain.Order{}))

	var attempt domain.Attempt
	require.NoError(t, f.db.Where("idempotency_key = ?", "declined").First(&attempt).Error)
	assert.Equal(t, domain.AttemptFailed, attempt.State)
	require.NotNil(t, attempt.FailureReason)
	assert.Equal(t, "card_declined", *attempt.FailureReason)
}

func TestSettleRetriesFailedAttemptWithSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.charger.status = paymentdomain.ChargeStatusDeclined
	listing := f.listing(t, listingdomain.CreateListingRequest{AcceptsMoney: true, PriceCents: ptr(1000)})
	req := domain.SettleRequest{
		BuyerID:        f.buyer,
		ListingID:      listing.ID,
		PaymentMethod:  listingdomain.PaymentMethodMoney,
		IdempotencyKey: "retry-after-decline",
	}

	_, err := f.svc.SettlePurchase(ctx, req)
	require.ErrorIs(t, err, domain.ErrPaymentDeclined)

	f.charger.mu.Lock()
	f.charger.status = paymentdomain.ChargeStatusSucceeded
	f.charger.mu.Unlock()

	result, err := f.svc.SettlePurchase(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	assert.False(t, result.Replayed)
	assert.Equal(t, int64(1), f.count(t, &domain.Order{}))

	var attempt domain.Attempt
	require.NoError(t, f.db.Where("idempotency_key = ?", req.IdempotencyKey).First(&attempt).Error)
	assert.Equal(t, domain.AttemptCompleted, attempt.State)
	assert.Nil(t, attempt.FailureReason)
}

func TestConcurrentSettleWithSameKeyCreatesOneOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := f.listing(t, listingdomain.CreateListingRequest{AcceptsCredits: true, CreditPrice: ptr(500)})
	f.fund(t, f.buyer, 5000)

	req := domain.SettleRequest{
		BuyerID:        f.buyer,
		ListingID:      listing.ID,
		PaymentMethod:  listingdomain.PaymentMethodCredits,
		IdempotencyKey: "double-click",
	}

	const callers = 8
	results := make([]*domain.SettleResult, callers)
	errs := make([]error, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.svc.SettlePurchase(ctx, req)
		}(i)
	}
	close(start)
	wg.Wait()

	var orderID snowflake.ID
	for i := 0; i < callers; i++ {
		if errs[i] == nil && !results[i].Replayed {
			require.Zero(t, orderID, "more than one caller settled")
			orderID = results[i].Order.ID
		}
	}
	require.NotZero(t, orderID)

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			assert.ErrorIs(t, errs[i], domain.ErrDuplicateSettlement)
			continue
		}
		require.NotNil(t, results[i].Order)
		assert.Equal(t, orderID, results[i].Order.ID)
	}

	assert.Equal(t, int64(1), f.count(t, &domain.Order{}))
	assert.Equal(t, int64(1), f.count(t, &domain.License{}))
	var debits int64
	require.NoError(t, f.db.Model(&ledgerdomain.Transaction{}).
		Where("owner_id = ? AND direction = ?", f.buyer, ledgerdomain.DirectionDebit).
		Count(&debits).Error)
	assert.Equal(t, int64(1), debits)
	assert.Equal(t, int64(4500), f.balance(t, f.buyer, ledgerdomain.AssetCredits))
}

func TestSettleTimeoutIsSettledByLateConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg := f.holder.Get()
	cfg.Purchase.ProcessorTimeout = 20 * time.Millisecond
	require.NoError(t, f.holder.Set(cfg))
	f.charger.block = true
	listing := f.listing(t, listingdomain.CreateListingRequest{AcceptsMoney: true, PriceCents: ptr(1000)})

	_, err := f.svc.SettlePurchase(ctx, domain.SettleRequest{
		BuyerID:        f.buyer,
		ListingID:      listing.ID,
		PaymentMethod:  listingdomain.PaymentMethodMoney,
		IdempotencyKey: "slow",
	})
	assert.ErrorIs(t, err, domain.ErrPaymentDeclined)
	assert.Zero(t, f.count(t, &ledgerdomain.Transaction{}))

	confirmed, err := f.svc.SettleConfirmedCharge(ctx, domain.ConfirmedCharge{
		Provider:         "stripe",
		IdempotencyKey:   "slow",
		ProviderChargeID: "pi_late",
		AmountCents:      1000,
	})
	require.NoError(t, err)
	require.NotNil(t, confirmed.Order)
	assert.Equal(t, int64(791), f.balance(t, f.seller, ledgerdomain.AssetMoney))

	again, err := f.svc.SettleConfirmedCharge(ctx, domain.ConfirmedCharge{
		Provider:         "stripe",
		IdempotencyKey:   "slow",
		ProviderChargeID: "pi_late",
		AmountCents:      1000,
	})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, int64(1), f.count(t, &domain.Order{}))
}

func TestSettlePendingChargeWaitsForConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.charger.status = paymentdomain.ChargeStatusPending
	listing := f.listing(t, listingdomain.CreateListingRequest{AcceptsMoney: true, PriceCents: ptr(1000)})
	req := domain.SettleRequest{
		BuyerID:        f.buyer,
		ListingID:      listing.ID,
		PaymentMethod:  listingdomain.PaymentMethodMoney,
		IdempotencyKey: "async",
	}

	result, err := f.svc.SettlePurchase(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.Pending)
	assert.Nil(t, result.Order)
	assert.Equal(t, "https://checkout.example/async", result.CheckoutURL)

	_, err = f.svc.SettlePurchase(ctx, req)
	assert.ErrorIs(t, err, domain.ErrPaymentPending)

	_, err = f.svc.SettleConfirmedCharge(ctx, domain.ConfirmedCharge{
		Provider:         "stripe",
		ProviderChargeID: "pi_async",
		AmountCents:      999,
		IdempotencyKey:   "async",
	})
	assert.ErrorIs(t, err, domain.ErrChargeMismatch)

	settled, err := f.svc.SettleConfirmedCharge(ctx, domain.ConfirmedCharge{
		Provider:         "stripe",
		ProviderChargeID: "pi_async",
		AmountCents:      1000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), settled.Order.Amount())
}

func TestSettleRejectsUnavailableListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creditsOnly := f.listing(t, listingdomain.CreateListingRequest{AcceptsCredits: true, CreditPrice: ptr(100)})

	_, err := f.svc.SettlePurchase(ctx, domain.SettleRequest{
		BuyerID: f.buyer, ListingID: creditsOnly.ID, PaymentMethod: listingdomain.PaymentMethodMoney, IdempotencyKey: "k1",
	})
	assert.ErrorIs(t, err, domain.ErrListingUnavailable)

	_, err = f.listings.Archive(ctx, creditsOnly.ID)
	require.NoError(t, err)
	f.fund(t, f.buyer, 100)
	_, err = f.svc.SettlePurchase(ctx, domain.SettleRequest{
		BuyerID: f.buyer, ListingID: creditsOnly.ID, PaymentMethod: listingdomain.PaymentMethodCredits, IdempotencyKey: "k2",
	})
	assert.ErrorIs(t, err, domain.ErrListingUnavailable)

	_, err = f.svc.SettlePurchase(ctx, domain.SettleRequest{
		BuyerID: f.buyer, ListingID: creditsOnly.ID, PaymentMethod: "barter", IdempotencyKey: "k3",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPaymentMethod)
	assert.Zero(t, f.charger.calls)
}

func TestRefundOrderReversesEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := f.listing(t, listingdomain.CreateListingRequest{AcceptsCredits: true, CreditPrice: ptr(333)})
	f.fund(t, f.buyer, 333)

	result, err := f.svc.SettlePurchase(ctx, domain.SettleRequest{
		BuyerID:        f.buyer,
		ListingID:      listing.ID,
		PaymentMethod:  listingdomain.PaymentMethodCredits,
		IdempotencyKey: "refund-me",
	})
	require.NoError(t, err)
	assert.Zero(t, f.balance(t, f.buyer, ledgerdomain.AssetCredits))

	refunded, err := f.svc.RefundOrder(ctx, domain.RefundRequest{OrderID: result.Order.ID, RevokeLicense: true})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, refunded.Status)
	assert.NotNil(t, refunded.RefundedAt)

	assert.Equal(t, int64(333), f.balance(t, f.buyer, ledgerdomain.AssetCredits))
	assert.Zero(t, f.balance(t, f.seller, ledgerdomain.AssetCredits))
	assert.Zero(t, f.balance(t, f.platform, ledgerdomain.AssetCredits))

	access, err := f.svc.HasAccess(ctx, f.buyer, listing.ID)
	require.NoError(t, err)
	assert.False(t, access)

	_, err = f.svc.RefundOrder(ctx, domain.RefundRequest{OrderID: result.Order.ID})
	assert.ErrorIs(t, err, domain.ErrOrderAlreadyRefunded)

	for _, owner := range []snowflake.ID{f.buyer, f.seller, f.platform} {
		account, err := f.ledger.GetAccount(ctx, ledgerdomain.AccountKey{OwnerID: owner, Asset: ledgerdomain.AssetCredits})
		require.NoError(t, err)
		verified, err := f.ledger.VerifyAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.True(t, verified.Consistent())
	}
}

func TestRefundWhenSellerIsPlatformOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seller = f.platform
	listing := f.listing(t, listingdomain.CreateListingRequest{AcceptsMoney: true, PriceCents: ptr(1000)})

	result, err := f.svc.SettlePurchase(ctx, domain.SettleRequest{
		BuyerID:        f.buyer,
		ListingID:      listing.ID,
		PaymentMethod:  listingdomain.PaymentMethodMoney,
		IdempotencyKey: "house-listing",
		BuyerToken:     "pm_card_visa",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(941), f.balance(t, f.platform, ledgerdomain.AssetMoney))

	refunded, err := f.svc.RefundOrder(ctx, domain.RefundRequest{OrderID: result.Order.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, refunded.Status)
	assert.Zero(t, f.balance(t, f.platform, ledgerdomain.AssetMoney))

	account, err := f.ledger.GetAccount(ctx, ledgerdomain.AccountKey{OwnerID: f.platform, Asset: ledgerdomain.AssetMoney})
	require.NoError(t, err)
	verified, err := f.ledger.VerifyAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, verified.Consistent())
	assert.Equal(t, 4, verified.TransactionCount)

	_, err = f.svc.RefundOrder(ctx, domain.RefundRequest{OrderID: result.Order.ID})
	assert.ErrorIs(t, err, domain.ErrOrderAlreadyRefunded)
}

func TestRefundKeepsLicenseByDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := f.listing(t, listingdomain.CreateListingRequest{AcceptsCredits: true, CreditPrice: ptr(50)})
	f.fund(t, f.buyer, 50)

	result, err := f.svc.SettlePurchase(ctx, domain.SettleRequest{
		BuyerID: f.buyer, ListingID: listing.ID, PaymentMethod: listingdomain.PaymentMethodCredits, IdempotencyKey: "keep",
	})
	require.NoError(t, err)

	_, err = f.svc.RefundOrder(ctx, domain.RefundRequest{OrderID: result.Order.ID})
	require.NoError(t, err)

	access, err := f.svc.HasAccess(ctx, f.buyer, listing.ID)
	require.NoError(t, err)
	assert.True(t, access)
}
