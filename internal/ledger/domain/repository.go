package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type TransactionFilter struct {
	AccountID  snowflake.ID
	AfterID    snowflake.ID
	BeforeID   snowflake.ID
	Descending bool
	Limit      int

	// CreatedUntil keeps transactions created at or before the instant.
	CreatedUntil *time.Time
}

type Repository interface {
	EnsureAccount(ctx context.Context, db *gorm.DB, account *Account) error
	FindAccount(ctx context.Context, db *gorm.DB, key AccountKey, forUpdate bool) (*Account, error)
	FindAccountByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	ListAccountIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
	// UpdateAccount writes the account only if version and balance still
	// match prev. It reports whether a row was written.
	UpdateAccount(ctx context.Context, db *gorm.DB, account *Account, prev Account) (bool, error)

	InsertTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) error
	ListTransactions(ctx context.Context, db *gorm.DB, filter TransactionFilter) ([]*Transaction, error)
	FindTransactionByReference(ctx context.Context, db *gorm.DB, accountID snowflake.ID, source Source, reference string) (*Transaction, error)
}
