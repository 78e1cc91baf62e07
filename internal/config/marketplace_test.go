package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultMarketplaceConfigResolved(t *testing.T) {
	cfg := DefaultMarketplaceConfig()
	assert.Equal(t, int64(1500), cfg.Commission.RateBps)
	assert.Equal(t, int64(290), cfg.Commission.ProcessorFeeBps)
	assert.Equal(t, 5, cfg.Payout.SubBatchSize)
}

func TestMarketplaceConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketplace.yml")
	content := `marketplace:
  commission:
    ratePercent: "20"
    processorFeePercent: "3.5"
  payout:
    holdingDelay: 48h
    subBatchSize: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	holder, err := NewMarketplaceConfigHolder(Config{MarketplaceConfigPath: path}, zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, int64(2000), cfg.Commission.RateBps)
	assert.Equal(t, int64(350), cfg.Commission.ProcessorFeeBps)
	assert.Equal(t, int64(30), cfg.Commission.ProcessorFixedCents)
	assert.Equal(t, 48*time.Hour, cfg.Payout.HoldingDelay)
	assert.Equal(t, 10, cfg.Payout.SubBatchSize)
	assert.Equal(t, int64(50), cfg.Rewards.DailyBase)
	assert.Len(t, cfg.Rewards.StreakBonuses, 2)
}

func TestMarketplaceConfigHolderRejectsInvalidSet(t *testing.T) {
	holder, err := NewStaticMarketplaceConfigHolder(DefaultMarketplaceConfig())
	require.NoError(t, err)

	bad := DefaultMarketplaceConfig()
	bad.Commission.RatePercent = "98"
	assert.Error(t, holder.Set(bad))
	assert.Equal(t, int64(1500), holder.Get().Commission.RateBps)
}
