package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/promptmart/internal/ledger/domain"
)

const (
	ClaimInterval = 24 * time.Hour
	// StreakWindow is the latest a claim may follow the previous one and
	// still continue the streak.
	StreakWindow = 48 * time.Hour
)

type ClaimResult struct {
	Granted     bool                       `json:"granted"`
	Amount      int64                      `json:"amount"`
	BonusAmount int64                      `json:"bonus_amount"`
	NewStreak   int                        `json:"new_streak"`
	ClaimedAt   time.Time                  `json:"claimed_at"`
	Balance     int64                      `json:"balance"`
	Entries     []ledgerdomain.Transaction `json:"entries"`
}

// DailyStatus is derived at read time from the account's last claim.
type DailyStatus struct {
	Eligible       bool       `json:"eligible"`
	CurrentStreak  int        `json:"current_streak"`
	LastClaimedAt  *time.Time `json:"last_claimed_at,omitempty"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
	StreakExpires  *time.Time `json:"streak_expires_at,omitempty"`
}

type GrantRequest struct {
	OwnerID snowflake.ID        `json:"owner_id"`
	Source  ledgerdomain.Source `json:"source"`

	// Reference scopes repeatable grants, e.g. the shared listing id.
	Reference string `json:"reference,omitempty"`
}

type Service interface {
	ClaimDaily(ctx context.Context, ownerID snowflake.ID) (*ClaimResult, error)
	DailyStatus(ctx context.Context, ownerID snowflake.ID) (*DailyStatus, error)
	Grant(ctx context.Context, req GrantRequest) (*ledgerdomain.Transaction, error)
}

var (
	ErrAlreadyClaimed    = errors.New("already_claimed")
	ErrAlreadyGranted    = errors.New("already_granted")
	ErrUnsupportedGrant  = errors.New("unsupported_grant")
	ErrReferenceRequired = errors.New("reference_required")
	ErrGrantDisabled     = errors.New("grant_disabled")
)
