package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/promptmart/internal/clock"
	"github.com/smallbiznis/promptmart/internal/config"
	ledgerdomain "github.com/smallbiznis/promptmart/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/promptmart/internal/observability/metrics"
	"github.com/smallbiznis/promptmart/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/promptmart/internal/payment/domain"
	"github.com/smallbiznis/promptmart/internal/payout/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	destinationPageSize = 100
	scanPageSize        = 500

	reasonMissingResult   = "missing_provider_result"
	reasonReconcileFailed = "reconcile_failed"

	// entryStatusReturned labels metrics only; entries never store it.
	entryStatusReturned = "returned"
)

var errNothingToPay = errors.New("nothing_to_pay")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	Ledger      ledgerdomain.Service
	Providers   *adapters.Registry
	Clock       clock.Clock
	Cfg         config.Config
	Marketplace *config.MarketplaceConfigHolder
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	ledger      ledgerdomain.Service
	providers   *adapters.Registry
	clock       clock.Clock
	marketplace *config.MarketplaceConfigHolder
	obsMetrics  *obsmetrics.Metrics
	currency    string
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payout.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		ledger:      p.Ledger,
		providers:   p.Providers,
		clock:       p.Clock,
		marketplace: p.Marketplace,
		obsMetrics:  p.ObsMetrics,
		currency:    p.Cfg.Currency,
	}
}

func (s *Service) SetDestination(ctx context.Context, req domain.SetDestinationRequest) (*domain.Destination, error) {
	if req.OwnerID == 0 {
		return nil, domain.ErrInvalidOwner
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if _, err := s.providers.PayoutProvider(provider); err != nil {
		return nil, domain.ErrInvalidProvider
	}
	destination := strings.TrimSpace(req.Destination)
	if destination == "" || len(destination) > 255 {
		return nil, domain.ErrInvalidDestination
	}

	now := s.clock.Now()
	item := &domain.Destination{
		ID:          s.genID.Generate(),
		OwnerID:     req.OwnerID,
		Provider:    provider,
		Destination: destination,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.UpsertDestination(ctx, s.db, item); err != nil {
		return nil, err
	}
	return s.repo.FindDestination(ctx, s.db, req.OwnerID, provider)
}

func (s *Service) RunPayoutBatch(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error) {
	providerName := strings.ToLower(strings.TrimSpace(req.Provider))
	provider, err := s.providers.PayoutProvider(providerName)
	if err != nil {
		return nil, domain.ErrInvalidProvider
	}

	batch, entries, err := s.formBatch(ctx, providerName)
	if err != nil {
		if errors.Is(err, errNothingToPay) {
			return &domain.RunResult{Entries: []domain.Entry{}}, nil
		}
		return nil, err
	}

	s.log.Info("payout batch formed",
		zap.String("batch_id", batch.ID.String()),
		zap.String("provider", providerName),
		zap.Int("entries", batch.EntryCount),
		zap.Int64("total_cents", batch.TotalCents),
	)

	s.dispatch(ctx, provider, batch, entries)

	if err := s.refreshBatch(ctx, batch.ID); err != nil {
		return nil, err
	}
	status, err := s.GetPayoutBatchStatus(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	return &domain.RunResult{Batch: status.Batch, Entries: status.Entries}, nil
}

type candidate struct {
	destination domain.Destination
	accountID   snowflake.ID
	start       snowflake.ID
	end         snowflake.ID
	amount      int64
}

// formBatch persists one entry per seller whose unpaid window clears the
// minimum. Windows already held by an open or settled entry are skipped.
func (s *Service) formBatch(ctx context.Context, provider string) (*domain.Batch, []domain.Entry, error) {
	now := s.clock.Now()
	cfg := s.marketplace.Get().Payout
	cutoff := now.Add(-cfg.HoldingDelay)

	var candidates []candidate
	var after snowflake.ID
	for {
		destinations, err := s.repo.ListDestinations(ctx, s.db, provider, after, destinationPageSize)
		if err != nil {
			return nil, nil, err
		}
		for _, destination := range destinations {
			c, ok, err := s.window(ctx, destination, cutoff, cfg.MinimumCents, now)
			if err != nil {
				return nil, nil, err
			}
			if ok {
				candidates = append(candidates, c)
			}
		}
		if len(destinations) < destinationPageSize {
			break
		}
		after = destinations[len(destinations)-1].OwnerID
	}
	if len(candidates) == 0 {
		return nil, nil, errNothingToPay
	}

	batch := &domain.Batch{
		ID:                s.genID.Generate(),
		Provider:          provider,
		Status:            domain.BatchStatusPending,
		ProviderReference: ulid.Make().String(),
		Currency:          s.currency,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	var entries []domain.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertBatch(ctx, tx, batch); err != nil {
			return err
		}
		for _, c := range candidates {
			key := domain.WindowKey(c.destination.OwnerID, c.start)
			entry := domain.Entry{
				ID:             s.genID.Generate(),
				BatchID:        batch.ID,
				SellerID:       c.destination.OwnerID,
				AccountID:      c.accountID,
				Destination:    c.destination.Destination,
				AmountCents:    c.amount,
				Currency:       s.currency,
				WatermarkStart: c.start,
				WatermarkEnd:   c.end,
				WindowKey:      &key,
				Status:         domain.EntryStatusPending,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			inserted, err := s.repo.InsertEntry(ctx, tx, &entry)
			if err != nil {
				return err
			}
			if !inserted {
				s.log.Debug("payout window already claimed",
					zap.String("seller_id", c.destination.OwnerID.String()),
					zap.String("window_key", key),
				)
				continue
			}
			entries = append(entries, entry)
			batch.EntryCount++
			batch.TotalCents += entry.AmountCents
		}
		if len(entries) == 0 {
			return errNothingToPay
		}
		batch.Status = domain.BatchStatusProcessing
		batch.UpdatedAt = now
		return s.repo.UpdateBatch(ctx, tx, batch)
	})
	if err != nil {
		return nil, nil, err
	}
	return batch, entries, nil
}

// window sums a seller's unpaid money earnings between the watermark and
// the holding cutoff. Purchase credits add and refund debits subtract.
func (s *Service) window(ctx context.Context, destination domain.Destination, cutoff time.Time, minimum int64, now time.Time) (candidate, bool, error) {
	key := ledgerdomain.AccountKey{OwnerID: destination.OwnerID, Asset: ledgerdomain.AssetMoney}
	account, err := s.ledger.GetAccount(ctx, key)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrAccountNotFound) {
			return candidate{}, false, nil
		}
		return candidate{}, false, err
	}

	if err := s.repo.EnsureWatermark(ctx, s.db, destination.OwnerID, now); err != nil {
		return candidate{}, false, err
	}
	start, err := s.repo.FindWatermark(ctx, s.db, destination.OwnerID)
	if err != nil {
		return candidate{}, false, err
	}

	c := candidate{destination: destination, accountID: account.ID, start: start, end: start}
	cursor := start
	for {
		txns, err := s.ledger.ScanTransactions(ctx, account.ID, cursor, cutoff, scanPageSize)
		if err != nil {
			return candidate{}, false, err
		}
		for _, txn := range txns {
			switch {
			case txn.Source == ledgerdomain.SourcePurchase && txn.Direction == ledgerdomain.DirectionCredit:
				c.amount += txn.Amount
			case txn.Source == ledgerdomain.SourceRefund && txn.Direction == ledgerdomain.DirectionDebit:
				c.amount -= txn.Amount
			}
			c.end = txn.ID
		}
		if len(txns) < scanPageSize {
			break
		}
		cursor = txns[len(txns)-1].ID
	}

	if c.end == start || c.amount <= 0 || c.amount < minimum {
		return candidate{}, false, nil
	}
	if c.amount > account.Balance {
		s.log.Warn("payout window exceeds balance, skipping seller",
			zap.String("seller_id", destination.OwnerID.String()),
			zap.Int64("window_cents", c.amount),
			zap.Int64("balance", account.Balance),
		)
		return candidate{}, false, nil
	}
	return c, true, nil
}

func (s *Service) dispatch(ctx context.Context, provider paymentdomain.PayoutProvider, batch *domain.Batch, entries []domain.Entry) {
	cfg := s.marketplace.Get().Payout
	size := cfg.SubBatchSize
	if size <= 0 {
		size = len(entries)
	}

	for start := 0; start < len(entries); start += size {
		end := min(start+size, len(entries))
		chunk := entries[start:end]

		items := make([]paymentdomain.PayoutItem, 0, len(chunk))
		for _, entry := range chunk {
			items = append(items, paymentdomain.PayoutItem{
				EntryID:     entry.ID,
				Destination: entry.Destination,
				AmountCents: entry.AmountCents,
				Currency:    entry.Currency,
			})
		}

		attempts := 0
		policy := retrypolicy.NewBuilder[[]paymentdomain.PayoutItemResult]().
			HandleIf(func(_ []paymentdomain.PayoutItemResult, err error) bool {
				return errors.Is(err, paymentdomain.ErrProviderUnavailable)
			}).
			WithBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay).
			WithMaxAttempts(cfg.MaxAttempts).
			ReturnLastFailure().
			OnRetry(func(e failsafe.ExecutionEvent[[]paymentdomain.PayoutItemResult]) {
				s.log.Warn("retrying payout dispatch",
					zap.String("batch_id", batch.ID.String()),
					zap.Int("attempt", e.Attempts()),
					zap.Error(e.LastError()),
				)
			}).
			Build()

		results, err := failsafe.With[[]paymentdomain.PayoutItemResult](policy).WithContext(ctx).Get(func() ([]paymentdomain.PayoutItemResult, error) {
			attempts++
			return provider.Payout(ctx, batch.ProviderReference, items)
		})
		if err != nil {
			s.log.Error("payout dispatch failed",
				zap.String("batch_id", batch.ID.String()),
				zap.Int("entries", len(chunk)),
				zap.Error(err),
			)
			for _, entry := range chunk {
				s.failEntry(ctx, entry, attempts, err.Error(), nil, nil)
			}
			continue
		}

		byEntry := make(map[snowflake.ID]paymentdomain.PayoutItemResult, len(results))
		for _, result := range results {
			byEntry[result.EntryID] = result
		}
		for _, entry := range chunk {
			result, ok := byEntry[entry.ID]
			if !ok {
				s.failEntry(ctx, entry, attempts, reasonMissingResult, nil, nil)
				continue
			}
			s.applyResult(ctx, batch.Provider, entry, attempts, result)
		}
	}
}

func (s *Service) applyResult(ctx context.Context, provider string, entry domain.Entry, attempts int, result paymentdomain.PayoutItemResult) {
	reference := optionalString(result.ProviderReference)
	switch result.Status {
	case paymentdomain.PayoutItemSucceeded:
		if _, err := s.reconcile(ctx, entry.ID, attempts, reference, result.Payload); err != nil {
			s.log.Error("payout reconcile failed",
				zap.String("entry_id", entry.ID.String()),
				zap.Error(err),
			)
		}
	case paymentdomain.PayoutItemPending:
		err := s.repo.UpdateEntry(ctx, s.db, entry.ID, domain.EntryUpdate{
			Status:            domain.EntryStatusProcessing,
			Attempts:          attempts,
			ProviderReference: reference,
			ProviderPayload:   result.Payload,
			UpdatedAt:         s.clock.Now(),
		})
		if err != nil {
			s.log.Error("update payout entry", zap.String("entry_id", entry.ID.String()), zap.Error(err))
			return
		}
		s.obsMetrics.RecordPayoutEntry(ctx, provider, string(domain.EntryStatusProcessing), entry.AmountCents)
	default:
		reason := result.FailureReason
		if reason == "" {
			reason = string(paymentdomain.PayoutItemFailed)
		}
		s.failEntry(ctx, entry, attempts, reason, reference, result.Payload)
	}
}

// reconcile debits the seller and advances the watermark for a paid
// entry. It is a no-op for entries that already reached a final state.
func (s *Service) reconcile(ctx context.Context, entryID snowflake.ID, attempts int, reference *string, payload []byte) (*domain.Entry, error) {
	entry, err := s.repo.FindEntry(ctx, s.db, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, domain.ErrEntryNotFound
	}
	if entry.Terminal() {
		return entry, nil
	}

	key := ledgerdomain.AccountKey{OwnerID: entry.SellerID, Asset: ledgerdomain.AssetMoney}
	err = s.ledger.RunAtomic(ctx, []ledgerdomain.AccountKey{key}, func(tx ledgerdomain.Tx) error {
		current, err := s.repo.FindEntry(ctx, tx.DB(), entryID)
		if err != nil {
			return err
		}
		if current == nil || current.Terminal() {
			return nil
		}

		ref := "payout:" + current.ID.String()
		posted, err := tx.FindByReference(key, ledgerdomain.SourcePayout, ref)
		if err != nil {
			return err
		}
		if posted == nil {
			_, err = tx.Apply(ledgerdomain.Posting{
				Key:       key,
				Direction: ledgerdomain.DirectionDebit,
				Amount:    current.AmountCents,
				Source:    ledgerdomain.SourcePayout,
				Reference: ref,
			})
			if err != nil {
				return err
			}
		}

		now := s.clock.Now()
		advanced, err := s.repo.AdvanceWatermark(ctx, tx.DB(), current.SellerID, current.WatermarkStart, current.WatermarkEnd, now)
		if err != nil {
			return err
		}
		if !advanced {
			return domain.ErrWatermarkMoved
		}
		return s.repo.UpdateEntry(ctx, tx.DB(), current.ID, domain.EntryUpdate{
			Status:            domain.EntryStatusSuccess,
			Attempts:          max(attempts, current.Attempts),
			ProviderReference: reference,
			ProviderPayload:   payload,
			SettledAt:         &now,
			UpdatedAt:         now,
		})
	})
	if err != nil {
		// Paid at the provider: the entry stays open and keeps its window.
		reason := fmt.Sprintf("%s: %v", reasonReconcileFailed, err)
		_ = s.repo.UpdateEntry(ctx, s.db, entryID, domain.EntryUpdate{
			Status:            domain.EntryStatusProcessing,
			Attempts:          max(attempts, entry.Attempts),
			ProviderReference: reference,
			ProviderPayload:   payload,
			FailureReason:     &reason,
			UpdatedAt:         s.clock.Now(),
		})
		return nil, err
	}

	s.obsMetrics.RecordPayoutEntry(ctx, s.providerOf(ctx, entry.BatchID), string(domain.EntryStatusSuccess), entry.AmountCents)
	return s.repo.FindEntry(ctx, s.db, entryID)
}

// failEntry records the failure and releases the window so the same
// earnings are picked up by the next run.
func (s *Service) failEntry(ctx context.Context, entry domain.Entry, attempts int, reason string, reference *string, payload []byte) {
	err := s.repo.UpdateEntry(ctx, s.db, entry.ID, domain.EntryUpdate{
		Status:            domain.EntryStatusFailed,
		Attempts:          max(attempts, entry.Attempts),
		ProviderReference: reference,
		ProviderPayload:   payload,
		FailureReason:     &reason,
		ReleaseWindow:     true,
		UpdatedAt:         s.clock.Now(),
	})
	if err != nil {
		s.log.Error("update payout entry", zap.String("entry_id", entry.ID.String()), zap.Error(err))
		return
	}
	s.log.Warn("payout entry failed",
		zap.String("entry_id", entry.ID.String()),
		zap.String("seller_id", entry.SellerID.String()),
		zap.String("reason", reason),
	)
	s.obsMetrics.RecordPayoutEntry(ctx, s.providerOf(ctx, entry.BatchID), string(domain.EntryStatusFailed), entry.AmountCents)
}

func (s *Service) providerOf(ctx context.Context, batchID snowflake.ID) string {
	batch, err := s.repo.FindBatch(ctx, s.db, batchID)
	if err != nil || batch == nil {
		return ""
	}
	return batch.Provider
}

// refreshBatch derives the batch status from its entries.
func (s *Service) refreshBatch(ctx context.Context, batchID snowflake.ID) error {
	batch, err := s.repo.FindBatch(ctx, s.db, batchID)
	if err != nil {
		return err
	}
	if batch == nil {
		return domain.ErrBatchNotFound
	}
	entries, err := s.repo.ListEntries(ctx, s.db, batchID)
	if err != nil {
		return err
	}

	succeeded, failed, open := 0, 0, 0
	for _, entry := range entries {
		switch entry.Status {
		case domain.EntryStatusSuccess:
			succeeded++
		case domain.EntryStatusFailed:
			failed++
		default:
			open++
		}
	}

	now := s.clock.Now()
	batch.SucceededCount = succeeded
	batch.FailedCount = failed
	batch.UpdatedAt = now
	switch {
	case open > 0:
		batch.Status = domain.BatchStatusProcessing
	case failed == 0:
		batch.Status = domain.BatchStatusCompleted
	case succeeded == 0:
		batch.Status = domain.BatchStatusFailed
	default:
		batch.Status = domain.BatchStatusPartiallyFailed
	}
	if open == 0 && batch.CompletedAt == nil {
		batch.CompletedAt = &now
	}
	return s.repo.UpdateBatch(ctx, s.db, batch)
}

func (s *Service) GetPayoutBatchStatus(ctx context.Context, batchID snowflake.ID) (*domain.BatchStatusResult, error) {
	if batchID == 0 {
		return nil, domain.ErrBatchNotFound
	}
	batch, err := s.repo.FindBatch(ctx, s.db, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domain.ErrBatchNotFound
	}
	entries, err := s.repo.ListEntries(ctx, s.db, batchID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.Entry{}
	}
	return &domain.BatchStatusResult{Batch: batch, Entries: entries}, nil
}

func (s *Service) HandleProviderUpdate(ctx context.Context, update domain.ProviderUpdate) (*domain.Entry, error) {
	var (
		entry *domain.Entry
		err   error
	)
	switch {
	case update.EntryID != 0:
		entry, err = s.repo.FindEntry(ctx, s.db, update.EntryID)
	case update.ProviderReference != "":
		entry, err = s.repo.FindEntryByProviderReference(ctx, s.db, update.ProviderReference)
	default:
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, domain.ErrEntryNotFound
	}

	batch, err := s.repo.FindBatch(ctx, s.db, entry.BatchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domain.ErrBatchNotFound
	}
	if update.Provider != "" && !strings.EqualFold(update.Provider, batch.Provider) {
		return nil, domain.ErrInvalidProvider
	}
	if entry.Terminal() {
		if !update.Succeeded && entry.Status == domain.EntryStatusSuccess {
			// Funds came back after the seller was debited. Crediting them
			// again needs the provider's reversal amount and stays manual.
			s.log.Warn("payout returned after settlement",
				zap.String("entry_id", entry.ID.String()),
				zap.String("seller_id", entry.SellerID.String()),
				zap.String("provider", batch.Provider),
				zap.Int64("amount_cents", entry.AmountCents),
				zap.String("reason", update.FailureReason),
			)
			s.obsMetrics.RecordPayoutEntry(ctx, batch.Provider, entryStatusReturned, entry.AmountCents)
		}
		return entry, nil
	}

	reference := optionalString(update.ProviderReference)
	if update.Succeeded {
		entry, err = s.reconcile(ctx, entry.ID, entry.Attempts, reference, update.Payload)
		if err != nil {
			return nil, err
		}
	} else {
		reason := update.FailureReason
		if reason == "" {
			reason = string(paymentdomain.PayoutItemFailed)
		}
		s.failEntry(ctx, *entry, entry.Attempts, reason, reference, update.Payload)
		entry, err = s.repo.FindEntry(ctx, s.db, entry.ID)
		if err != nil {
			return nil, err
		}
	}

	if err := s.refreshBatch(ctx, batch.ID); err != nil {
		return nil, err
	}
	return entry, nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
