package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/promptmart/internal/purchase/domain"
	"github.com/smallbiznis/promptmart/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const orderColumns = `id, listing_id, buyer_id, seller_id, payment_method, amount_cents, credit_amount,
	commission_cents, processor_fee_cents, seller_net_cents, status, idempotency_key,
	provider, provider_charge_id, created_at, refunded_at`

func (r *repo) InsertOrder(ctx context.Context, conn *gorm.DB, order *domain.Order) error {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.ListingID,
		order.BuyerID,
		order.SellerID,
		order.PaymentMethod,
		order.AmountCents,
		order.CreditAmount,
		order.CommissionCents,
		order.ProcessorFeeCents,
		order.SellerNetCents,
		order.Status,
		order.IdempotencyKey,
		order.Provider,
		order.ProviderChargeID,
		order.CreatedAt,
		order.RefundedAt,
	).Error
	if err != nil && db.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateSettlement
	}
	return err
}

func (r *repo) FindOrderByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	return r.findOrder(ctx, conn, `id = ?`, id)
}

func (r *repo) FindOrderByIdempotencyKey(ctx context.Context, conn *gorm.DB, key string) (*domain.Order, error) {
	return r.findOrder(ctx, conn, `idempotency_key = ?`, key)
}

func (r *repo) findOrder(ctx context.Context, conn *gorm.DB, where string, arg any) (*domain.Order, error) {
	var order domain.Order
	err := conn.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) MarkOrderRefunded(ctx context.Context, conn *gorm.DB, id snowflake.ID, refundedAt time.Time) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, refunded_at = ?
		 WHERE id = ? AND status = ?`,
		domain.OrderStatusRefunded,
		refundedAt,
		id,
		domain.OrderStatusCompleted,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

const licenseColumns = `id, license_key, order_id, buyer_id, listing_id, issued_at, revoked_at`

func (r *repo) InsertLicense(ctx context.Context, conn *gorm.DB, license *domain.License) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO licenses (`+licenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		license.ID,
		license.LicenseKey,
		license.OrderID,
		license.BuyerID,
		license.ListingID,
		license.IssuedAt,
		license.RevokedAt,
	).Error
}

func (r *repo) FindLicenseByKey(ctx context.Context, conn *gorm.DB, key string) (*domain.License, error) {
	return r.findLicense(ctx, conn, `license_key = ?`, key)
}

func (r *repo) FindLicenseByOrder(ctx context.Context, conn *gorm.DB, orderID snowflake.ID) (*domain.License, error) {
	return r.findLicense(ctx, conn, `order_id = ?`, orderID)
}

func (r *repo) FindActiveLicense(ctx context.Context, conn *gorm.DB, buyerID, listingID snowflake.ID) (*domain.License, error) {
	var license domain.License
	err := conn.WithContext(ctx).Raw(
		`SELECT `+licenseColumns+` FROM licenses
		 WHERE buyer_id = ? AND listing_id = ? AND revoked_at IS NULL
		 ORDER BY id ASC LIMIT 1`,
		buyerID,
		listingID,
	).Scan(&license).Error
	if err != nil {
		return nil, err
	}
	if license.ID == 0 {
		return nil, nil
	}
	return &license, nil
}

func (r *repo) findLicense(ctx context.Context, conn *gorm.DB, where string, arg any) (*domain.License, error) {
	var license domain.License
	err := conn.WithContext(ctx).Raw(
		`SELECT `+licenseColumns+` FROM licenses WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&license).Error
	if err != nil {
		return nil, err
	}
	if license.ID == 0 {
		return nil, nil
	}
	return &license, nil
}

func (r *repo) RevokeLicense(ctx context.Context, conn *gorm.DB, orderID snowflake.ID, revokedAt time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE licenses SET revoked_at = ? WHERE order_id = ? AND revoked_at IS NULL`,
		revokedAt,
		orderID,
	).Error
}

const attemptColumns = `id, idempotency_key, buyer_id, listing_id, payment_method, amount, state,
	provider, provider_charge_id, failure_reason, order_id, created_at, updated_at`

func (r *repo) InsertAttempt(ctx context.Context, conn *gorm.DB, attempt *domain.Attempt) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`INSERT INTO purchase_attempts (`+attemptColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		attempt.ID,
		attempt.IdempotencyKey,
		attempt.BuyerID,
		attempt.ListingID,
		attempt.PaymentMethod,
		attempt.Amount,
		attempt.State,
		attempt.Provider,
		attempt.ProviderChargeID,
		attempt.FailureReason,
		attempt.OrderID,
		attempt.CreatedAt,
		attempt.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ReopenAttempt(ctx context.Context, conn *gorm.DB, id snowflake.ID, from domain.AttemptState, staleBefore, now time.Time) (bool, error) {
	query := `UPDATE purchase_attempts SET state = ?, failure_reason = NULL, updated_at = ?
		 WHERE id = ? AND state = ?`
	args := []any{domain.AttemptInitiated, now, id, from}
	if !staleBefore.IsZero() {
		query += ` AND updated_at <= ?`
		args = append(args, staleBefore)
	}
	result := conn.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindAttemptByKey(ctx context.Context, conn *gorm.DB, key string) (*domain.Attempt, error) {
	return r.findAttempt(ctx, conn, `idempotency_key = ?`, key)
}

func (r *repo) FindAttemptByCharge(ctx context.Context, conn *gorm.DB, provider, chargeID string) (*domain.Attempt, error) {
	var attempt domain.Attempt
	err := conn.WithContext(ctx).Raw(
		`SELECT `+attemptColumns+` FROM purchase_attempts
		 WHERE provider = ? AND provider_charge_id = ? LIMIT 1`,
		provider,
		chargeID,
	).Scan(&attempt).Error
	if err != nil {
		return nil, err
	}
	if attempt.ID == 0 {
		return nil, nil
	}
	return &attempt, nil
}

func (r *repo) findAttempt(ctx context.Context, conn *gorm.DB, where string, arg any) (*domain.Attempt, error) {
	var attempt domain.Attempt
	err := conn.WithContext(ctx).Raw(
		`SELECT `+attemptColumns+` FROM purchase_attempts WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&attempt).Error
	if err != nil {
		return nil, err
	}
	if attempt.ID == 0 {
		return nil, nil
	}
	return &attempt, nil
}

func (r *repo) UpdateAttempt(ctx context.Context, conn *gorm.DB, id snowflake.ID, update domain.AttemptUpdate) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE purchase_attempts SET
			state = ?,
			amount = COALESCE(?, amount),
			provider = COALESCE(?, provider),
			provider_charge_id = COALESCE(?, provider_charge_id),
			failure_reason = ?,
			order_id = COALESCE(?, order_id),
			updated_at = ?
		 WHERE id = ?`,
		update.State,
		update.Amount,
		update.Provider,
		update.ProviderChargeID,
		update.FailureReason,
		update.OrderID,
		update.UpdatedAt,
		id,
	).Error
}
