package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/promptmart/internal/ledger/domain"
	"github.com/smallbiznis/promptmart/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const accountColumns = `id, owner_id, asset, balance, total_earned, total_spent,
	daily_streak, last_daily_reward_at, version, created_at, updated_at`

const transactionColumns = `id, account_id, owner_id, asset, direction, amount,
	balance_after, source, reference, related_order_id, created_at`

func (r *repo) EnsureAccount(ctx context.Context, conn *gorm.DB, account *domain.Account) error {
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "asset"}},
			DoNothing: true,
		}).
		Create(account).Error
}

func (r *repo) FindAccount(ctx context.Context, conn *gorm.DB, key domain.AccountKey, forUpdate bool) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM ledger_accounts WHERE owner_id = ? AND asset = ?`
	if forUpdate && !db.IsSQLite(conn) {
		query += ` FOR UPDATE`
	}

	var account domain.Account
	if err := conn.WithContext(ctx).Raw(query, key.OwnerID, key.Asset).Scan(&account).Error; err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindAccountByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := conn.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM ledger_accounts WHERE id = ?`,
		id,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) ListAccountIDs(ctx context.Context, conn *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := conn.WithContext(ctx).Raw(
		`SELECT id FROM ledger_accounts WHERE id > ? ORDER BY id ASC LIMIT ?`,
		afterID,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) UpdateAccount(ctx context.Context, conn *gorm.DB, account *domain.Account, prev domain.Account) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE ledger_accounts
		 SET balance = ?, total_earned = ?, total_spent = ?, daily_streak = ?,
		     last_daily_reward_at = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ? AND balance = ?`,
		account.Balance,
		account.TotalEarned,
		account.TotalSpent,
		account.DailyStreak,
		account.LastDailyRewardAt,
		account.Version,
		account.UpdatedAt,
		account.ID,
		prev.Version,
		prev.Balance,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) InsertTransaction(ctx context.Context, conn *gorm.DB, txn *domain.Transaction) error {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO ledger_transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.AccountID,
		txn.OwnerID,
		txn.Asset,
		txn.Direction,
		txn.Amount,
		txn.BalanceAfter,
		txn.Source,
		txn.Reference,
		txn.RelatedOrderID,
		txn.CreatedAt,
	).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateReference
	}
	return err
}

func (r *repo) ListTransactions(ctx context.Context, conn *gorm.DB, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	stmt := conn.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("account_id = ?", filter.AccountID)
	if filter.AfterID != 0 {
		stmt = stmt.Where("id > ?", filter.AfterID)
	}
	if filter.BeforeID != 0 {
		stmt = stmt.Where("id < ?", filter.BeforeID)
	}
	if filter.CreatedUntil != nil {
		stmt = stmt.Where("created_at <= ?", *filter.CreatedUntil)
	}
	if filter.Descending {
		stmt = stmt.Order("id DESC")
	} else {
		stmt = stmt.Order("id ASC")
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var txns []*domain.Transaction
	if err := stmt.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repo) FindTransactionByReference(ctx context.Context, conn *gorm.DB, accountID snowflake.ID, source domain.Source, reference string) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := conn.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+` FROM ledger_transactions
		 WHERE account_id = ? AND source = ? AND reference = ?`,
		accountID,
		source,
		reference,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}
