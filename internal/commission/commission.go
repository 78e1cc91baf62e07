// Package commission splits a sale amount into platform commission,
// processor fee and seller net using integer minor units.
//
// Percentages are carried as basis points. Each percentage part is rounded
// half up; the seller share is rounded down and any remainder left after
// the three parts goes to the platform commission, so sellers are never
// overpaid and the parts always sum to the sale amount.
package commission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	BasisPointsPerPercent = 100
	FullBasisPoints       = 100 * BasisPointsPerPercent

	// MaxAmount keeps amount*basis points inside int64.
	MaxAmount int64 = 1 << 40
)

var (
	ErrInvalidRate   = errors.New("invalid_rate")
	ErrInvalidAmount = errors.New("invalid_amount")
)

type Rates struct {
	CommissionBps       int64
	ProcessorFeeBps     int64
	ProcessorFixedCents int64
}

type Split struct {
	CommissionCents   int64 `json:"commission_cents"`
	ProcessorFeeCents int64 `json:"processor_fee_cents"`
	SellerNetCents    int64 `json:"seller_net_cents"`
}

func (s Split) Total() int64 {
	return s.CommissionCents + s.ProcessorFeeCents + s.SellerNetCents
}

func (r Rates) Validate() error {
	switch {
	case r.CommissionBps < 0, r.ProcessorFeeBps < 0, r.ProcessorFixedCents < 0:
		return ErrInvalidRate
	case r.CommissionBps > FullBasisPoints, r.ProcessorFeeBps > FullBasisPoints:
		return ErrInvalidRate
	case r.CommissionBps+r.ProcessorFeeBps > FullBasisPoints:
		return ErrInvalidRate
	}
	return nil
}

// ComputeSplit is pure and deterministic for a given amount and rates.
func ComputeSplit(amount int64, rates Rates) (Split, error) {
	if err := rates.Validate(); err != nil {
		return Split{}, err
	}
	if amount <= 0 || amount > MaxAmount {
		return Split{}, ErrInvalidAmount
	}

	fee := applyRate(amount, rates.ProcessorFeeBps) + rates.ProcessorFixedCents
	commission := applyRate(amount, rates.CommissionBps)

	sellerShareBps := FullBasisPoints - rates.CommissionBps - rates.ProcessorFeeBps
	sellerNet := amount*sellerShareBps/FullBasisPoints - rates.ProcessorFixedCents
	if sellerNet < 0 {
		return Split{}, fmt.Errorf("fixed fee exceeds seller share: %w", ErrInvalidAmount)
	}

	commission += amount - commission - fee - sellerNet

	return Split{
		CommissionCents:   commission,
		ProcessorFeeCents: fee,
		SellerNetCents:    sellerNet,
	}, nil
}

// ComputeSplitPercent accepts rates as percent strings such as "2.9".
func ComputeSplitPercent(amount int64, commissionPercent, processorFeePercent string, processorFixedCents int64) (Split, error) {
	commissionBps, err := PercentToBasisPoints(commissionPercent)
	if err != nil {
		return Split{}, err
	}
	feeBps, err := PercentToBasisPoints(processorFeePercent)
	if err != nil {
		return Split{}, err
	}
	return ComputeSplit(amount, Rates{
		CommissionBps:       commissionBps,
		ProcessorFeeBps:     feeBps,
		ProcessorFixedCents: processorFixedCents,
	})
}

// PercentToBasisPoints parses "2.9" into 290. Precision finer than a basis
// point and values outside 0..100 fail with ErrInvalidRate.
func PercentToBasisPoints(raw string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("percent %q: %w", raw, ErrInvalidRate)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100)) {
		return 0, fmt.Errorf("percent %q out of range: %w", raw, ErrInvalidRate)
	}
	bps := d.Mul(decimal.NewFromInt(BasisPointsPerPercent))
	if !bps.Equal(bps.Truncate(0)) {
		return 0, fmt.Errorf("percent %q finer than a basis point: %w", raw, ErrInvalidRate)
	}
	return bps.IntPart(), nil
}

// applyRate rounds amount*bps/10000 half up.
func applyRate(amount, bps int64) int64 {
	return (amount*bps + FullBasisPoints/2) / FullBasisPoints
}
