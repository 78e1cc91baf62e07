package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type RunRequest struct {
	Provider string `json:"provider"`
}

type RunResult struct {
	// Batch is nil when no seller had eligible earnings.
	Batch   *Batch  `json:"batch"`
	Entries []Entry `json:"entries"`
}

type BatchStatusResult struct {
	Batch   *Batch  `json:"batch"`
	Entries []Entry `json:"entries"`
}

type SetDestinationRequest struct {
	OwnerID     snowflake.ID `json:"owner_id"`
	Provider    string       `json:"provider"`
	Destination string       `json:"destination"`
}

// ProviderUpdate is a provider callback for one dispatched entry.
type ProviderUpdate struct {
	Provider          string
	EntryID           snowflake.ID
	ProviderReference string
	Succeeded         bool
	FailureReason     string
	Payload           []byte
}

type Service interface {
	SetDestination(ctx context.Context, req SetDestinationRequest) (*Destination, error)
	RunPayoutBatch(ctx context.Context, req RunRequest) (*RunResult, error)
	GetPayoutBatchStatus(ctx context.Context, batchID snowflake.ID) (*BatchStatusResult, error)
	HandleProviderUpdate(ctx context.Context, update ProviderUpdate) (*Entry, error)
}

var (
	ErrInvalidProvider    = errors.New("invalid_provider")
	ErrInvalidDestination = errors.New("invalid_destination")
	ErrInvalidOwner       = errors.New("invalid_owner")
	ErrBatchNotFound      = errors.New("batch_not_found")
	ErrEntryNotFound      = errors.New("entry_not_found")
	ErrWatermarkMoved     = errors.New("watermark_moved")
)
