package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Asset names the unit an account is denominated in.
type Asset string

const (
	AssetCredits Asset = "credits"
	// AssetMoney is integer minor units of the platform currency.
	AssetMoney Asset = "money"
)

func (a Asset) Valid() bool {
	return a == AssetCredits || a == AssetMoney
}

// Direction represents debit or credit postings.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

type Source string

const (
	SourceSignupBonus     Source = "signup_bonus"
	SourceDailyLogin      Source = "daily_login"
	SourcePromptShare     Source = "prompt_share"
	SourcePurchase        Source = "purchase"
	SourceCommission      Source = "commission"
	SourcePayout          Source = "payout"
	SourceRefund          Source = "refund"
	SourceStreakBonus     Source = "streak_bonus"
	SourceProfileComplete Source = "profile_complete"
)

var validSources = map[Source]struct{}{
	SourceSignupBonus:     {},
	SourceDailyLogin:      {},
	SourcePromptShare:     {},
	SourcePurchase:        {},
	SourceCommission:      {},
	SourcePayout:          {},
	SourceRefund:          {},
	SourceStreakBonus:     {},
	SourceProfileComplete: {},
}

func (s Source) Valid() bool {
	_, ok := validSources[s]
	return ok
}

// AccountKey addresses an account by owner and asset.
type AccountKey struct {
	OwnerID snowflake.ID
	Asset   Asset
}

func (k AccountKey) Validate() error {
	if k.OwnerID == 0 {
		return ErrInvalidOwner
	}
	if !k.Asset.Valid() {
		return ErrInvalidAsset
	}
	return nil
}

// LockKey is the serialization key for the account.
func (k AccountKey) LockKey() string {
	return fmt.Sprintf("ledger:%s:%s", k.OwnerID.String(), k.Asset)
}

func (k AccountKey) String() string {
	return k.OwnerID.String() + "/" + string(k.Asset)
}

// Account is the cached balance projection of a transaction log.
// Balance always equals TotalEarned - TotalSpent.
type Account struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerID           snowflake.ID `gorm:"not null;uniqueIndex:ux_ledger_accounts_owner_asset,priority:1" json:"owner_id"`
	Asset             Asset        `gorm:"type:text;not null;uniqueIndex:ux_ledger_accounts_owner_asset,priority:2" json:"asset"`
	Balance           int64        `gorm:"not null;default:0" json:"balance"`
	TotalEarned       int64        `gorm:"not null;default:0" json:"total_earned"`
	TotalSpent        int64        `gorm:"not null;default:0" json:"total_spent"`
	DailyStreak       int          `gorm:"not null;default:0" json:"daily_streak"`
	LastDailyRewardAt *time.Time   `json:"last_daily_reward_at,omitempty"`
	Version           int64        `gorm:"not null;default:0" json:"-"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "ledger_accounts" }

func (a Account) Key() AccountKey {
	return AccountKey{OwnerID: a.OwnerID, Asset: a.Asset}
}

// Transaction is an immutable ledger posting.
type Transaction struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	AccountID      snowflake.ID  `gorm:"not null;index:idx_ledger_transactions_account_created,priority:1;uniqueIndex:ux_ledger_transactions_reference,priority:1" json:"account_id"`
	OwnerID        snowflake.ID  `gorm:"not null;index" json:"owner_id"`
	Asset          Asset         `gorm:"type:text;not null" json:"asset"`
	Direction      Direction     `gorm:"type:text;not null" json:"direction"`
	Amount         int64         `gorm:"not null" json:"amount"`
	BalanceAfter   int64         `gorm:"not null" json:"balance_after"`
	Source         Source        `gorm:"type:text;not null;uniqueIndex:ux_ledger_transactions_reference,priority:2" json:"source"`
	Reference      *string       `gorm:"type:text;uniqueIndex:ux_ledger_transactions_reference,priority:3" json:"reference,omitempty"`
	RelatedOrderID *snowflake.ID `gorm:"index" json:"related_order_id,omitempty"`
	CreatedAt      time.Time     `gorm:"not null;index:idx_ledger_transactions_account_created,priority:2" json:"created_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "ledger_transactions" }

// Posting is a request to append one transaction.
type Posting struct {
	Key            AccountKey
	Direction      Direction
	Amount         int64
	Source         Source
	Reference      string
	RelatedOrderID *snowflake.ID
}

// VerifyResult reports whether a cached account agrees with its log.
type VerifyResult struct {
	AccountID         snowflake.ID  `json:"account_id"`
	OwnerID           snowflake.ID  `json:"owner_id"`
	Asset             Asset         `json:"asset"`
	CachedBalance     int64         `json:"cached_balance"`
	RecomputedBalance int64         `json:"recomputed_balance"`
	CachedEarned      int64         `json:"cached_earned"`
	RecomputedEarned  int64         `json:"recomputed_earned"`
	CachedSpent       int64         `json:"cached_spent"`
	RecomputedSpent   int64         `json:"recomputed_spent"`
	TransactionCount  int           `json:"transaction_count"`
	BrokenChainAt     *snowflake.ID `json:"broken_chain_at,omitempty"`
}

func (r VerifyResult) Consistent() bool {
	return r.BrokenChainAt == nil &&
		r.CachedBalance == r.RecomputedBalance &&
		r.CachedEarned == r.RecomputedEarned &&
		r.CachedSpent == r.RecomputedSpent &&
		r.CachedBalance == r.CachedEarned-r.CachedSpent
}
