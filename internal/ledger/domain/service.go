package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/promptmart/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListTransactionsRequest struct {
	Key        AccountKey
	PageToken  string
	PageSize   int
	Descending bool
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []Transaction `json:"transactions"`
}

// Tx is the view of the ledger inside one atomic unit. Every account it
// touches must have been named when the unit was opened.
type Tx interface {
	Apply(p Posting) (*Transaction, error)
	Account(key AccountKey) (Account, error)
	// FindByReference looks up an existing posting inside the unit so
	// callers can skip a duplicate before it aborts the transaction.
	FindByReference(key AccountKey, source Source, reference string) (*Transaction, error)
	SetDailyState(key AccountKey, streak int, claimedAt time.Time) error
	// DB is the database transaction backing the unit; writes through it
	// commit or roll back with the postings.
	DB() *gorm.DB
}

type Service interface {
	ApplyTransaction(ctx context.Context, p Posting) (*Transaction, error)
	GetBalance(ctx context.Context, key AccountKey) (int64, error)
	GetAccount(ctx context.Context, key AccountKey) (*Account, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
	FindTransactionByReference(ctx context.Context, key AccountKey, source Source, reference string) (*Transaction, error)
	// ScanTransactions lists an account's transactions after afterID that
	// were created no later than until, oldest first.
	ScanTransactions(ctx context.Context, accountID, afterID snowflake.ID, until time.Time, limit int) ([]Transaction, error)
	// RunAtomic serializes on every key in sorted order and runs fn inside
	// one database transaction. Conflicts are retried with backoff.
	RunAtomic(ctx context.Context, keys []AccountKey, fn func(tx Tx) error) error
	VerifyAccount(ctx context.Context, accountID snowflake.ID) (VerifyResult, error)
	ListAccountIDs(ctx context.Context, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
}

var (
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidDirection       = errors.New("invalid_direction")
	ErrInvalidSource          = errors.New("invalid_source")
	ErrInvalidAsset           = errors.New("invalid_asset")
	ErrInvalidOwner           = errors.New("invalid_owner")
	ErrInsufficientBalance    = errors.New("insufficient_balance")
	ErrAccountNotInScope      = errors.New("account_not_in_scope")
	ErrConcurrentModification = errors.New("concurrent_modification")
	ErrDuplicateReference     = errors.New("duplicate_reference")
	ErrAccountNotFound        = errors.New("account_not_found")
)
