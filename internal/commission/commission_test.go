package commission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSplitScenario(t *testing.T) {
	split, err := ComputeSplitPercent(1000, "15", "2.9", 30)
	require.NoError(t, err)

	assert.Equal(t, int64(150), split.CommissionCents)
	assert.Equal(t, int64(59), split.ProcessorFeeCents)
	assert.Equal(t, int64(791), split.SellerNetCents)
	assert.Equal(t, int64(1000), split.Total())
}

func TestComputeSplitSumsExactly(t *testing.T) {
	rates := []Rates{
		{CommissionBps: 1500, ProcessorFeeBps: 290, ProcessorFixedCents: 30},
		{CommissionBps: 1234, ProcessorFeeBps: 333, ProcessorFixedCents: 7},
		{CommissionBps: 5000, ProcessorFeeBps: 5000},
		{CommissionBps: 0, ProcessorFeeBps: 290, ProcessorFixedCents: 30},
		{CommissionBps: 1500},
	}
	for _, r := range rates {
		for amount := int64(1); amount <= 2000; amount++ {
			split, err := ComputeSplit(amount, r)
			if err != nil {
				require.ErrorIs(t, err, ErrInvalidAmount)
				continue
			}
			require.Equal(t, amount, split.Total(), "amount %d rates %+v", amount, r)
			require.GreaterOrEqual(t, split.CommissionCents, int64(0))
			require.GreaterOrEqual(t, split.SellerNetCents, int64(0))

			exactNet := amount*(FullBasisPoints-r.CommissionBps-r.ProcessorFeeBps) - r.ProcessorFixedCents*FullBasisPoints
			require.LessOrEqual(t, split.SellerNetCents*FullBasisPoints, exactNet, "seller overpaid at %d", amount)
		}
	}
}

func TestComputeSplitRemainderGoesToCommission(t *testing.T) {
	// 333 * 10% = 33.3 -> 33, 333 * 3.33% = 11.0889 -> 11, net floor(288.6111) = 288
	split, err := ComputeSplit(333, Rates{CommissionBps: 1000, ProcessorFeeBps: 333})
	require.NoError(t, err)
	assert.Equal(t, int64(11), split.ProcessorFeeCents)
	assert.Equal(t, int64(288), split.SellerNetCents)
	assert.Equal(t, int64(34), split.CommissionCents)
}

func TestComputeSplitIsDeterministic(t *testing.T) {
	r := Rates{CommissionBps: 1500, ProcessorFeeBps: 290, ProcessorFixedCents: 30}
	first, err := ComputeSplit(4999, r)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := ComputeSplit(4999, r)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestComputeSplitRejectsInvalidRates(t *testing.T) {
	cases := []Rates{
		{CommissionBps: -1},
		{ProcessorFeeBps: -1},
		{ProcessorFixedCents: -1},
		{CommissionBps: 10001},
		{CommissionBps: 6000, ProcessorFeeBps: 5000},
	}
	for _, r := range cases {
		_, err := ComputeSplit(1000, r)
		assert.ErrorIs(t, err, ErrInvalidRate, "%+v", r)
	}

	_, err := ComputeSplitPercent(1000, "101", "0", 0)
	assert.ErrorIs(t, err, ErrInvalidRate)
	_, err = ComputeSplitPercent(1000, "-5", "0", 0)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestComputeSplitRejectsInvalidAmounts(t *testing.T) {
	r := Rates{CommissionBps: 1500, ProcessorFeeBps: 290, ProcessorFixedCents: 30}
	for _, amount := range []int64{0, -100, MaxAmount + 1} {
		_, err := ComputeSplit(amount, r)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}

	_, err := ComputeSplit(20, r)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPercentToBasisPoints(t *testing.T) {
	cases := map[string]int64{"15": 1500, "2.9": 290, "0": 0, "100": 10000, "0.01": 1}
	for raw, want := range cases {
		got, err := PercentToBasisPoints(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"-1", "100.01", "0.005", "abc"} {
		_, err := PercentToBasisPoints(raw)
		assert.ErrorIs(t, err, ErrInvalidRate, raw)
	}
}
