package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/promptmart/internal/payout/domain"
	"github.com/smallbiznis/promptmart/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) UpsertDestination(ctx context.Context, conn *gorm.DB, destination *domain.Destination) error {
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "provider"}},
			DoUpdates: clause.AssignmentColumns([]string{"destination", "updated_at"}),
		}).
		Create(destination).Error
}

func (r *repo) FindDestination(ctx context.Context, conn *gorm.DB, ownerID snowflake.ID, provider string) (*domain.Destination, error) {
	var item domain.Destination
	err := conn.WithContext(ctx).Raw(
		`SELECT id, owner_id, provider, destination, created_at, updated_at
		 FROM payout_destinations
		 WHERE owner_id = ? AND provider = ?`,
		ownerID,
		provider,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListDestinations(ctx context.Context, conn *gorm.DB, provider string, afterOwnerID snowflake.ID, limit int) ([]domain.Destination, error) {
	var items []domain.Destination
	err := conn.WithContext(ctx).Raw(
		`SELECT id, owner_id, provider, destination, created_at, updated_at
		 FROM payout_destinations
		 WHERE provider = ? AND owner_id > ?
		 ORDER BY owner_id ASC
		 LIMIT ?`,
		provider,
		afterOwnerID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) EnsureWatermark(ctx context.Context, conn *gorm.DB, ownerID snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.Watermark{OwnerID: ownerID, UpdatedAt: now}).Error
}

func (r *repo) FindWatermark(ctx context.Context, conn *gorm.DB, ownerID snowflake.ID) (snowflake.ID, error) {
	var paidThrough snowflake.ID
	err := conn.WithContext(ctx).Raw(
		`SELECT paid_through_transaction_id FROM payout_watermarks WHERE owner_id = ?`,
		ownerID,
	).Scan(&paidThrough).Error
	if err != nil {
		return 0, err
	}
	return paidThrough, nil
}

func (r *repo) AdvanceWatermark(ctx context.Context, conn *gorm.DB, ownerID, from, to snowflake.ID, now time.Time) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE payout_watermarks
		 SET paid_through_transaction_id = ?, updated_at = ?
		 WHERE owner_id = ? AND paid_through_transaction_id = ?`,
		to,
		now,
		ownerID,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

const batchColumns = `id, provider, status, provider_reference, currency, entry_count, total_cents,
	succeeded_count, failed_count, created_at, updated_at, completed_at`

func (r *repo) InsertBatch(ctx context.Context, conn *gorm.DB, batch *domain.Batch) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payout_batches (`+batchColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID,
		batch.Provider,
		batch.Status,
		batch.ProviderReference,
		batch.Currency,
		batch.EntryCount,
		batch.TotalCents,
		batch.SucceededCount,
		batch.FailedCount,
		batch.CreatedAt,
		batch.UpdatedAt,
		batch.CompletedAt,
	).Error
}

func (r *repo) FindBatch(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Batch, error) {
	var batch domain.Batch
	err := conn.WithContext(ctx).Raw(
		`SELECT `+batchColumns+` FROM payout_batches WHERE id = ?`,
		id,
	).Scan(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) UpdateBatch(ctx context.Context, conn *gorm.DB, batch *domain.Batch) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE payout_batches SET
			status = ?,
			entry_count = ?,
			total_cents = ?,
			succeeded_count = ?,
			failed_count = ?,
			updated_at = ?,
			completed_at = ?
		 WHERE id = ?`,
		batch.Status,
		batch.EntryCount,
		batch.TotalCents,
		batch.SucceededCount,
		batch.FailedCount,
		batch.UpdatedAt,
		batch.CompletedAt,
		batch.ID,
	).Error
}

const entryColumns = `id, batch_id, seller_id, account_id, destination, amount_cents, currency,
	watermark_start, watermark_end, window_key, status, attempts, provider_reference,
	failure_reason, provider_payload, created_at, updated_at, settled_at`

func (r *repo) InsertEntry(ctx context.Context, conn *gorm.DB, entry *domain.Entry) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`INSERT INTO payout_entries (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (window_key) DO NOTHING`,
		entry.ID,
		entry.BatchID,
		entry.SellerID,
		entry.AccountID,
		entry.Destination,
		entry.AmountCents,
		entry.Currency,
		entry.WatermarkStart,
		entry.WatermarkEnd,
		entry.WindowKey,
		entry.Status,
		entry.Attempts,
		entry.ProviderReference,
		entry.FailureReason,
		jsonOrNil(entry.ProviderPayload),
		entry.CreatedAt,
		entry.UpdatedAt,
		entry.SettledAt,
	)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindEntry(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Entry, error) {
	return r.findEntry(ctx, conn, `id = ?`, id)
}

func (r *repo) FindEntryByProviderReference(ctx context.Context, conn *gorm.DB, reference string) (*domain.Entry, error) {
	return r.findEntry(ctx, conn, `provider_reference = ?`, reference)
}

func (r *repo) findEntry(ctx context.Context, conn *gorm.DB, where string, arg any) (*domain.Entry, error) {
	var entry domain.Entry
	err := conn.WithContext(ctx).Raw(
		`SELECT `+entryColumns+` FROM payout_entries WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) ListEntries(ctx context.Context, conn *gorm.DB, batchID snowflake.ID) ([]domain.Entry, error) {
	var entries []domain.Entry
	err := conn.WithContext(ctx).Raw(
		`SELECT `+entryColumns+` FROM payout_entries WHERE batch_id = ? ORDER BY id ASC`,
		batchID,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) UpdateEntry(ctx context.Context, conn *gorm.DB, id snowflake.ID, update domain.EntryUpdate) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE payout_entries SET
			status = ?,
			attempts = ?,
			provider_reference = COALESCE(?, provider_reference),
			failure_reason = ?,
			provider_payload = COALESCE(?, provider_payload),
			window_key = CASE WHEN ? THEN NULL ELSE window_key END,
			settled_at = COALESCE(?, settled_at),
			updated_at = ?
		 WHERE id = ?`,
		update.Status,
		update.Attempts,
		update.ProviderReference,
		update.FailureReason,
		jsonOrNil(update.ProviderPayload),
		update.ReleaseWindow,
		update.SettledAt,
		update.UpdatedAt,
		id,
	).Error
}

func jsonOrNil(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	return datatypes.JSON(payload)
}
