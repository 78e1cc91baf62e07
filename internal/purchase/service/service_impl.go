package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/promptmart/internal/clock"
	"github.com/smallbiznis/promptmart/internal/commission"
	"github.com/smallbiznis/promptmart/internal/config"
	ledgerdomain "github.com/smallbiznis/promptmart/internal/ledger/domain"
	listingdomain "github.com/smallbiznis/promptmart/internal/listing/domain"
	obsmetrics "github.com/smallbiznis/promptmart/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/promptmart/internal/payment/domain"
	"github.com/smallbiznis/promptmart/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	licenseKeyPrefix = "lic_"
	licenseKeyBytes  = 20

	// Non-terminal attempts untouched for this long are taken over by a
	// replayed request.
	staleAttemptAfter = time.Minute

	reasonProcessorTimeout = "processor_timeout"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	Ledger      ledgerdomain.Service
	Listings    listingdomain.Service
	Clock       clock.Clock
	Cfg         config.Config
	Marketplace *config.MarketplaceConfigHolder
	Charger     paymentdomain.Charger `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics   `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	ledger      ledgerdomain.Service
	listings    listingdomain.Service
	clock       clock.Clock
	marketplace *config.MarketplaceConfigHolder
	charger     paymentdomain.Charger
	obsMetrics  *obsmetrics.Metrics

	platformOwner snowflake.ID
	currency      string
}

func NewService(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("purchase.service"),
		genID:         p.GenID,
		repo:          p.Repo,
		ledger:        p.Ledger,
		listings:      p.Listings,
		clock:         p.Clock,
		marketplace:   p.Marketplace,
		charger:       p.Charger,
		obsMetrics:    p.ObsMetrics,
		platformOwner: snowflake.ID(p.Cfg.PlatformOwnerID),
		currency:      p.Cfg.Currency,
	}
}

func (s *Service) SettlePurchase(ctx context.Context, req domain.SettleRequest) (*domain.SettleResult, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err := validateSettleRequest(req); err != nil {
		return nil, err
	}

	replayed, err := s.replay(ctx, req)
	if err != nil || replayed != nil {
		return replayed, err
	}

	attempt, err := s.openAttempt(ctx, req)
	if err != nil {
		if errors.Is(err, errAttemptCompleted) {
			return s.replay(ctx, req)
		}
		return nil, err
	}

	listing, amount, err := s.price(ctx, attempt)
	if err != nil {
		s.fail(ctx, attempt, err.Error())
		s.recordOutcome(ctx, req.PaymentMethod, "unavailable")
		return nil, err
	}

	split, err := commission.ComputeSplit(amount, s.ratesFor(req.PaymentMethod))
	if err != nil {
		s.fail(ctx, attempt, err.Error())
		return nil, err
	}

	var charge *chargeRef
	if req.PaymentMethod == listingdomain.PaymentMethodMoney {
		result, err := s.reserve(ctx, attempt, listing, amount, req.BuyerToken)
		if err != nil {
			return nil, err
		}
		if result.Status == paymentdomain.ChargeStatusPending {
			s.recordOutcome(ctx, req.PaymentMethod, "pending")
			return &domain.SettleResult{Pending: true, CheckoutURL: result.CheckoutURL}, nil
		}
		charge = &chargeRef{provider: s.charger.Provider(), chargeID: result.ProviderChargeID}
	}

	return s.commit(ctx, attempt, listing, amount, split, charge)
}

func validateSettleRequest(req domain.SettleRequest) error {
	if req.BuyerID == 0 {
		return domain.ErrInvalidBuyer
	}
	if req.ListingID == 0 {
		return domain.ErrListingUnavailable
	}
	switch req.PaymentMethod {
	case listingdomain.PaymentMethodMoney, listingdomain.PaymentMethodCredits:
	default:
		return domain.ErrInvalidPaymentMethod
	}
	if req.IdempotencyKey == "" || len(req.IdempotencyKey) > 255 {
		return domain.ErrInvalidIdempotencyKey
	}
	return nil
}

// replay returns the existing order for the key, or nil when there is none.
func (s *Service) replay(ctx context.Context, req domain.SettleRequest) (*domain.SettleResult, error) {
	order, err := s.repo.FindOrderByIdempotencyKey(ctx, s.db, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, nil
	}
	if order.BuyerID != req.BuyerID || order.ListingID != req.ListingID || order.PaymentMethod != req.PaymentMethod {
		return nil, domain.ErrIdempotencyKeyConflict
	}
	license, err := s.repo.FindLicenseByOrder(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	s.recordOutcome(ctx, req.PaymentMethod, "replayed")
	return &domain.SettleResult{Order: order, License: license, Replayed: true}, nil
}

var errAttemptCompleted = errors.New("attempt_completed")

func (s *Service) openAttempt(ctx context.Context, req domain.SettleRequest) (*domain.Attempt, error) {
	now := s.clock.Now()
	attempt := &domain.Attempt{
		ID:             s.genID.Generate(),
		IdempotencyKey: req.IdempotencyKey,
		BuyerID:        req.BuyerID,
		ListingID:      req.ListingID,
		PaymentMethod:  req.PaymentMethod,
		State:          domain.AttemptInitiated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inserted, err := s.repo.InsertAttempt(ctx, s.db, attempt)
	if err != nil {
		return nil, err
	}
	if inserted {
		return attempt, nil
	}

	existing, err := s.repo.FindAttemptByKey(ctx, s.db, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrDuplicateSettlement
	}
	if !existing.Matches(req.BuyerID, req.ListingID, req.PaymentMethod) {
		return nil, domain.ErrIdempotencyKeyConflict
	}

	var staleBefore time.Time
	switch existing.State {
	case domain.AttemptCompleted, domain.AttemptCommitted:
		return nil, errAttemptCompleted
	case domain.AttemptReserved:
		return nil, domain.ErrPaymentPending
	case domain.AttemptFailed:
	default:
		staleBefore = now.Add(-staleAttemptAfter)
		if existing.UpdatedAt.After(staleBefore) {
			return nil, domain.ErrDuplicateSettlement
		}
	}

	reopened, err := s.repo.ReopenAttempt(ctx, s.db, existing.ID, existing.State, staleBefore, now)
	if err != nil {
		return nil, err
	}
	if !reopened {
		return nil, domain.ErrDuplicateSettlement
	}
	existing.State = domain.AttemptInitiated
	existing.FailureReason = nil
	existing.UpdatedAt = now
	return existing, nil
}

func (s *Service) price(ctx context.Context, attempt *domain.Attempt) (*listingdomain.Listing, int64, error) {
	listing, err := s.listings.Get(ctx, attempt.ListingID)
	if err != nil {
		if errors.Is(err, listingdomain.ErrNotFound) {
			return nil, 0, domain.ErrListingUnavailable
		}
		return nil, 0, err
	}
	if !listing.Active() {
		return nil, 0, domain.ErrListingUnavailable
	}
	if listing.SellerID == attempt.BuyerID {
		return nil, 0, domain.ErrSelfPurchase
	}
	amount, ok := listing.PriceFor(attempt.PaymentMethod)
	if !ok {
		return nil, 0, domain.ErrListingUnavailable
	}

	if err := s.transition(ctx, s.db, attempt, domain.AttemptPriced, domain.AttemptUpdate{Amount: &amount}); err != nil {
		return nil, 0, err
	}
	attempt.Amount = amount
	return listing, amount, nil
}

func (s *Service) ratesFor(method listingdomain.PaymentMethod) commission.Rates {
	cfg := s.marketplace.Get().Commission
	if method == listingdomain.PaymentMethodCredits {
		return commission.Rates{CommissionBps: cfg.CreditsRateBps}
	}
	return commission.Rates{
		CommissionBps:       cfg.RateBps,
		ProcessorFeeBps:     cfg.ProcessorFeeBps,
		ProcessorFixedCents: cfg.ProcessorFixedCents,
	}
}

type chargeRef struct {
	provider string
	chargeID string
}

// reserve charges the buyer. Declines and timeouts leave no ledger writes.
func (s *Service) reserve(ctx context.Context, attempt *domain.Attempt, listing *listingdomain.Listing, amount int64, buyerToken string) (*paymentdomain.ChargeResult, error) {
	if s.charger == nil {
		s.fail(ctx, attempt, domain.ErrProcessorNotConfigured.Error())
		return nil, domain.ErrProcessorNotConfigured
	}
	provider := s.charger.Provider()
	if err := s.transition(ctx, s.db, attempt, domain.AttemptReserved, domain.AttemptUpdate{Provider: &provider}); err != nil {
		return nil, err
	}

	timeout := s.marketplace.Get().Purchase.ProcessorTimeout
	chargeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := s.charger.Charge(chargeCtx, paymentdomain.ChargeRequest{
		AmountCents:    amount,
		Currency:       s.currency,
		BuyerToken:     buyerToken,
		IdempotencyKey: attempt.IdempotencyKey,
		Description:    listing.Title,
		Metadata: map[string]string{
			"idempotency_key": attempt.IdempotencyKey,
			"listing_id":      listing.ID.String(),
			"buyer_id":        attempt.BuyerID.String(),
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || chargeCtx.Err() != nil {
			// Stays reserved so a late provider confirmation can settle it.
			reason := reasonProcessorTimeout
			_ = s.transition(ctx, s.db, attempt, domain.AttemptReserved, domain.AttemptUpdate{FailureReason: &reason})
			s.log.Warn("processor timeout",
				zap.String("idempotency_key", attempt.IdempotencyKey),
				zap.String("provider", provider),
				zap.Duration("timeout", timeout),
			)
			s.recordOutcome(ctx, attempt.PaymentMethod, "timeout")
			return nil, fmt.Errorf("%w: %s", domain.ErrPaymentDeclined, reasonProcessorTimeout)
		}
		s.fail(ctx, attempt, err.Error())
		s.log.Warn("charge failed", zap.String("provider", provider), zap.Error(err))
		s.recordOutcome(ctx, attempt.PaymentMethod, "declined")
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentDeclined, err)
	}

	switch result.Status {
	case paymentdomain.ChargeStatusSucceeded:
		return result, nil
	case paymentdomain.ChargeStatusPending:
		update := domain.AttemptUpdate{Provider: &provider}
		if result.ProviderChargeID != "" {
			update.ProviderChargeID = &result.ProviderChargeID
		}
		if err := s.transition(ctx, s.db, attempt, domain.AttemptReserved, update); err != nil {
			return nil, err
		}
		return result, nil
	default:
		reason := result.DeclineReason
		if reason == "" {
			reason = "declined"
		}
		s.fail(ctx, attempt, reason)
		s.recordOutcome(ctx, attempt.PaymentMethod, "declined")
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentDeclined, reason)
	}
}

func (s *Service) commit(
	ctx context.Context,
	attempt *domain.Attempt,
	listing *listingdomain.Listing,
	amount int64,
	split commission.Split,
	charge *chargeRef,
) (*domain.SettleResult, error) {
	now := s.clock.Now()
	orderID := s.genID.Generate()

	licenseKey, err := newLicenseKey()
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:                orderID,
		ListingID:         listing.ID,
		BuyerID:           attempt.BuyerID,
		SellerID:          listing.SellerID,
		PaymentMethod:     attempt.PaymentMethod,
		CommissionCents:   split.CommissionCents,
		ProcessorFeeCents: split.ProcessorFeeCents,
		SellerNetCents:    split.SellerNetCents,
		Status:            domain.OrderStatusCompleted,
		IdempotencyKey:    attempt.IdempotencyKey,
		CreatedAt:         now,
	}
	asset := ledgerdomain.AssetMoney
	if attempt.PaymentMethod == listingdomain.PaymentMethodCredits {
		asset = ledgerdomain.AssetCredits
		order.CreditAmount = &amount
	} else {
		order.AmountCents = &amount
	}
	if charge != nil {
		order.Provider = &charge.provider
		order.ProviderChargeID = &charge.chargeID
	}

	license := &domain.License{
		ID:         s.genID.Generate(),
		LicenseKey: licenseKey,
		OrderID:    orderID,
		BuyerID:    attempt.BuyerID,
		ListingID:  listing.ID,
		IssuedAt:   now,
	}

	buyerKey := ledgerdomain.AccountKey{OwnerID: attempt.BuyerID, Asset: asset}
	sellerKey := ledgerdomain.AccountKey{OwnerID: listing.SellerID, Asset: asset}
	platformKey := ledgerdomain.AccountKey{OwnerID: s.platformOwner, Asset: asset}
	keys := []ledgerdomain.AccountKey{sellerKey, platformKey}
	if asset == ledgerdomain.AssetCredits {
		keys = append(keys, buyerKey)
	}
	reference := orderID.String()

	err = s.ledger.RunAtomic(ctx, keys, func(tx ledgerdomain.Tx) error {
		if asset == ledgerdomain.AssetCredits {
			if _, err := tx.Apply(ledgerdomain.Posting{
				Key:            buyerKey,
				Direction:      ledgerdomain.DirectionDebit,
				Amount:         amount,
				Source:         ledgerdomain.SourcePurchase,
				Reference:      reference,
				RelatedOrderID: &orderID,
			}); err != nil {
				return err
			}
		}
		if split.SellerNetCents > 0 {
			if _, err := tx.Apply(ledgerdomain.Posting{
				Key:            sellerKey,
				Direction:      ledgerdomain.DirectionCredit,
				Amount:         split.SellerNetCents,
				Source:         ledgerdomain.SourcePurchase,
				Reference:      reference,
				RelatedOrderID: &orderID,
			}); err != nil {
				return err
			}
		}
		if split.CommissionCents > 0 {
			if _, err := tx.Apply(ledgerdomain.Posting{
				Key:            platformKey,
				Direction:      ledgerdomain.DirectionCredit,
				Amount:         split.CommissionCents,
				Source:         ledgerdomain.SourceCommission,
				Reference:      reference,
				RelatedOrderID: &orderID,
			}); err != nil {
				return err
			}
		}
		if err := s.repo.InsertOrder(ctx, tx.DB(), order); err != nil {
			return err
		}
		if err := s.repo.InsertLicense(ctx, tx.DB(), license); err != nil {
			return err
		}
		return s.repo.UpdateAttempt(ctx, tx.DB(), attempt.ID, domain.AttemptUpdate{
			State:     domain.AttemptCommitted,
			OrderID:   &orderID,
			UpdatedAt: now,
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateSettlement) {
			return s.replay(ctx, domain.SettleRequest{
				BuyerID:        attempt.BuyerID,
				ListingID:      attempt.ListingID,
				PaymentMethod:  attempt.PaymentMethod,
				IdempotencyKey: attempt.IdempotencyKey,
			})
		}
		s.fail(ctx, attempt, err.Error())
		s.recordOutcome(ctx, attempt.PaymentMethod, "failed")
		if charge != nil {
			s.log.Error("charge captured but settlement failed",
				zap.String("idempotency_key", attempt.IdempotencyKey),
				zap.String("provider", charge.provider),
				zap.String("provider_charge_id", charge.chargeID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	if err := s.listings.RecordSale(ctx, s.db, listing.ID); err != nil {
		s.log.Error("failed to record listing sale",
			zap.String("listing_id", listing.ID.String()),
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
	} else {
		orderRef := orderID
		_ = s.transition(ctx, s.db, attempt, domain.AttemptCompleted, domain.AttemptUpdate{OrderID: &orderRef})
	}

	s.log.Info("purchase settled",
		zap.String("order_id", orderID.String()),
		zap.String("listing_id", listing.ID.String()),
		zap.String("buyer_id", attempt.BuyerID.String()),
		zap.String("payment_method", string(attempt.PaymentMethod)),
		zap.Int64("amount", amount),
		zap.Int64("commission", split.CommissionCents),
		zap.Int64("processor_fee", split.ProcessorFeeCents),
		zap.Int64("seller_net", split.SellerNetCents),
	)
	s.recordOutcome(ctx, attempt.PaymentMethod, "completed")

	return &domain.SettleResult{Order: order, License: license}, nil
}

func (s *Service) SettleConfirmedCharge(ctx context.Context, charge domain.ConfirmedCharge) (*domain.SettleResult, error) {
	attempt, err := s.findAttempt(ctx, charge.Provider, charge.IdempotencyKey, charge.ProviderChargeID)
	if err != nil {
		return nil, err
	}

	req := domain.SettleRequest{
		BuyerID:        attempt.BuyerID,
		ListingID:      attempt.ListingID,
		PaymentMethod:  attempt.PaymentMethod,
		IdempotencyKey: attempt.IdempotencyKey,
	}
	replayed, err := s.replay(ctx, req)
	if err != nil || replayed != nil {
		return replayed, err
	}

	if attempt.PaymentMethod != listingdomain.PaymentMethodMoney {
		return nil, domain.ErrChargeMismatch
	}
	if attempt.Provider != nil && *attempt.Provider != charge.Provider {
		return nil, domain.ErrChargeMismatch
	}
	if charge.AmountCents > 0 && attempt.Amount > 0 && charge.AmountCents != attempt.Amount {
		return nil, domain.ErrChargeMismatch
	}

	listing, err := s.listings.Get(ctx, attempt.ListingID)
	if err != nil {
		return nil, err
	}
	amount := attempt.Amount
	if amount <= 0 {
		amount = charge.AmountCents
	}
	split, err := commission.ComputeSplit(amount, s.ratesFor(attempt.PaymentMethod))
	if err != nil {
		return nil, err
	}

	s.log.Info("settling confirmed charge",
		zap.String("provider", charge.Provider),
		zap.String("provider_charge_id", charge.ProviderChargeID),
	)
	return s.commit(ctx, attempt, listing, amount, split, &chargeRef{
		provider: charge.Provider,
		chargeID: charge.ProviderChargeID,
	})
}

func (s *Service) FailPendingCharge(ctx context.Context, provider, idempotencyKey, reason string) error {
	attempt, err := s.findAttempt(ctx, provider, idempotencyKey, "")
	if err != nil {
		return err
	}
	if attempt.State != domain.AttemptReserved {
		return nil
	}
	s.fail(ctx, attempt, reason)
	s.recordOutcome(ctx, attempt.PaymentMethod, "declined")
	return nil
}

func (s *Service) findAttempt(ctx context.Context, provider, idempotencyKey, chargeID string) (*domain.Attempt, error) {
	var (
		attempt *domain.Attempt
		err     error
	)
	if idempotencyKey = strings.TrimSpace(idempotencyKey); idempotencyKey != "" {
		attempt, err = s.repo.FindAttemptByKey(ctx, s.db, idempotencyKey)
	} else if chargeID != "" {
		attempt, err = s.repo.FindAttemptByCharge(ctx, s.db, provider, chargeID)
	}
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *Service) RefundOrder(ctx context.Context, req domain.RefundRequest) (*domain.Order, error) {
	order, err := s.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.OrderStatusRefunded {
		return nil, domain.ErrOrderAlreadyRefunded
	}

	asset := ledgerdomain.AssetMoney
	if order.PaymentMethod == listingdomain.PaymentMethodCredits {
		asset = ledgerdomain.AssetCredits
	}
	buyerKey := ledgerdomain.AccountKey{OwnerID: order.BuyerID, Asset: asset}
	sellerKey := ledgerdomain.AccountKey{OwnerID: order.SellerID, Asset: asset}
	platformKey := ledgerdomain.AccountKey{OwnerID: s.platformOwner, Asset: asset}
	keys := []ledgerdomain.AccountKey{sellerKey, platformKey}
	if asset == ledgerdomain.AssetCredits {
		keys = append(keys, buyerKey)
	}

	now := s.clock.Now()
	// Seller, platform and buyer may share one account, so each refund
	// posting carries its own role in the reference.
	reference := func(role string) string {
		return "refund:" + role + ":" + order.ID.String()
	}
	orderID := order.ID

	err = s.ledger.RunAtomic(ctx, keys, func(tx ledgerdomain.Tx) error {
		if order.SellerNetCents > 0 {
			if _, err := tx.Apply(ledgerdomain.Posting{
				Key:            sellerKey,
				Direction:      ledgerdomain.DirectionDebit,
				Amount:         order.SellerNetCents,
				Source:         ledgerdomain.SourceRefund,
				Reference:      reference("seller"),
				RelatedOrderID: &orderID,
			}); err != nil {
				return err
			}
		}
		if order.CommissionCents > 0 {
			if _, err := tx.Apply(ledgerdomain.Posting{
				Key:            platformKey,
				Direction:      ledgerdomain.DirectionDebit,
				Amount:         order.CommissionCents,
				Source:         ledgerdomain.SourceRefund,
				Reference:      reference("platform"),
				RelatedOrderID: &orderID,
			}); err != nil {
				return err
			}
		}
		if asset == ledgerdomain.AssetCredits {
			if _, err := tx.Apply(ledgerdomain.Posting{
				Key:            buyerKey,
				Direction:      ledgerdomain.DirectionCredit,
				Amount:         order.Amount(),
				Source:         ledgerdomain.SourceRefund,
				Reference:      reference("buyer"),
				RelatedOrderID: &orderID,
			}); err != nil {
				return err
			}
		}

		updated, err := s.repo.MarkOrderRefunded(ctx, tx.DB(), order.ID, now)
		if err != nil {
			return err
		}
		if !updated {
			return domain.ErrOrderAlreadyRefunded
		}
		if req.RevokeLicense {
			return s.repo.RevokeLicense(ctx, tx.DB(), order.ID, now)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrDuplicateReference) {
			return nil, domain.ErrOrderAlreadyRefunded
		}
		return nil, err
	}

	s.log.Info("order refunded",
		zap.String("order_id", order.ID.String()),
		zap.Bool("license_revoked", req.RevokeLicense),
	)
	s.recordOutcome(ctx, order.PaymentMethod, "refunded")

	order.Status = domain.OrderStatusRefunded
	order.RefundedAt = &now
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id snowflake.ID) (*domain.Order, error) {
	order, err := s.repo.FindOrderByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) GetLicense(ctx context.Context, key string) (*domain.License, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrLicenseNotFound
	}
	license, err := s.repo.FindLicenseByKey(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	if license == nil {
		return nil, domain.ErrLicenseNotFound
	}
	return license, nil
}

func (s *Service) HasAccess(ctx context.Context, buyerID, listingID snowflake.ID) (bool, error) {
	if buyerID == 0 || listingID == 0 {
		return false, nil
	}
	license, err := s.repo.FindActiveLicense(ctx, s.db, buyerID, listingID)
	if err != nil {
		return false, err
	}
	return license != nil, nil
}

func (s *Service) transition(ctx context.Context, conn *gorm.DB, attempt *domain.Attempt, state domain.AttemptState, update domain.AttemptUpdate) error {
	update.State = state
	update.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateAttempt(ctx, conn, attempt.ID, update); err != nil {
		return err
	}
	attempt.State = state
	attempt.UpdatedAt = update.UpdatedAt
	attempt.FailureReason = update.FailureReason
	return nil
}

func (s *Service) fail(ctx context.Context, attempt *domain.Attempt, reason string) {
	if err := s.transition(ctx, s.db, attempt, domain.AttemptFailed, domain.AttemptUpdate{FailureReason: &reason}); err != nil {
		s.log.Warn("failed to record purchase failure",
			zap.String("idempotency_key", attempt.IdempotencyKey),
			zap.Error(err),
		)
	}
}

func (s *Service) recordOutcome(ctx context.Context, method listingdomain.PaymentMethod, outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordSettlement(ctx, string(method), outcome)
	}
}

func newLicenseKey() (string, error) {
	secret := make([]byte, licenseKeyBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	return licenseKeyPrefix + hex.EncodeToString(secret), nil
}
