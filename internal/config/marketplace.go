package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/promptmart/internal/commission"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// MarketplaceConfig holds the tunable money rules. It is hot reloaded from
// marketplace.yml; readers must take a fresh copy per operation.
type MarketplaceConfig struct {
	Commission CommissionConfig `mapstructure:"commission"`
	Rewards    RewardsConfig    `mapstructure:"rewards"`
	Payout     PayoutConfig     `mapstructure:"payout"`
	Purchase   PurchaseConfig   `mapstructure:"purchase"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
}

type CommissionConfig struct {
	RatePercent         string `mapstructure:"ratePercent"`
	CreditsRatePercent  string `mapstructure:"creditsRatePercent"`
	ProcessorFeePercent string `mapstructure:"processorFeePercent"`
	ProcessorFixedCents int64  `mapstructure:"processorFixedCents"`

	// Resolved from the percent strings on load.
	RateBps         int64 `mapstructure:"-"`
	CreditsRateBps  int64 `mapstructure:"-"`
	ProcessorFeeBps int64 `mapstructure:"-"`
}

type StreakBonus struct {
	Streak int   `mapstructure:"streak"`
	Amount int64 `mapstructure:"amount"`
}

type RewardsConfig struct {
	DailyBase       int64         `mapstructure:"dailyBase"`
	StreakBonuses   []StreakBonus `mapstructure:"streakBonuses"`
	SignupBonus     int64         `mapstructure:"signupBonus"`
	ProfileComplete int64         `mapstructure:"profileComplete"`
	PromptShare     int64         `mapstructure:"promptShare"`
}

type PayoutConfig struct {
	MinimumCents   int64         `mapstructure:"minimumCents"`
	HoldingDelay   time.Duration `mapstructure:"holdingDelay"`
	SubBatchSize   int           `mapstructure:"subBatchSize"`
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	RetryBaseDelay time.Duration `mapstructure:"retryBaseDelay"`
	RetryMaxDelay  time.Duration `mapstructure:"retryMaxDelay"`
}

type PurchaseConfig struct {
	ProcessorTimeout time.Duration `mapstructure:"processorTimeout"`
}

type LedgerConfig struct {
	MaxConflictRetries int           `mapstructure:"maxConflictRetries"`
	RetryBaseDelay     time.Duration `mapstructure:"retryBaseDelay"`
	RetryMaxDelay      time.Duration `mapstructure:"retryMaxDelay"`
}

func DefaultMarketplaceConfig() MarketplaceConfig {
	cfg := MarketplaceConfig{
		Commission: CommissionConfig{
			RatePercent:         "15",
			CreditsRatePercent:  "15",
			ProcessorFeePercent: "2.9",
			ProcessorFixedCents: 30,
		},
		Rewards: RewardsConfig{
			DailyBase: 50,
			StreakBonuses: []StreakBonus{
				{Streak: 7, Amount: 100},
				{Streak: 30, Amount: 500},
			},
			SignupBonus:     100,
			ProfileComplete: 50,
			PromptShare:     10,
		},
		Payout: PayoutConfig{
			MinimumCents:   1000,
			HoldingDelay:   7 * 24 * time.Hour,
			SubBatchSize:   5,
			MaxAttempts:    3,
			RetryBaseDelay: 500 * time.Millisecond,
			RetryMaxDelay:  10 * time.Second,
		},
		Purchase: PurchaseConfig{
			ProcessorTimeout: 10 * time.Second,
		},
		Ledger: LedgerConfig{
			MaxConflictRetries: 5,
			RetryBaseDelay:     5 * time.Millisecond,
			RetryMaxDelay:      200 * time.Millisecond,
		},
	}
	if err := cfg.resolve(); err != nil {
		panic(err)
	}
	return cfg
}

type MarketplaceConfigHolder struct {
	current atomic.Value // holds MarketplaceConfig
}

// NewStaticMarketplaceConfigHolder returns a holder that never reloads.
func NewStaticMarketplaceConfigHolder(cfg MarketplaceConfig) (*MarketplaceConfigHolder, error) {
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	holder := &MarketplaceConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func NewMarketplaceConfigHolder(appCfg Config, log *zap.Logger) (*MarketplaceConfigHolder, error) {
	log = log.Named("marketplace.config")
	v := viper.New()

	if appCfg.MarketplaceConfigPath != "" {
		v.SetConfigFile(appCfg.MarketplaceConfigPath)
	} else {
		v.SetConfigName("marketplace")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/promptmart/config")
		v.AddConfigPath("/etc/promptmart")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PROMPTMART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setMarketplaceDefaults(v)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
		log.Info("marketplace config file not found, using defaults")
	}

	cfg, err := decodeMarketplace(v)
	if err != nil {
		return nil, err
	}

	holder := &MarketplaceConfigHolder{}
	holder.current.Store(cfg)

	if watch {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeMarketplace(v)
			if err != nil {
				log.Warn("invalid marketplace config ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("marketplace config reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *MarketplaceConfigHolder) Get() MarketplaceConfig {
	return h.current.Load().(MarketplaceConfig)
}

// Set replaces the current config after validation.
func (h *MarketplaceConfigHolder) Set(cfg MarketplaceConfig) error {
	if err := cfg.resolve(); err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}

func setMarketplaceDefaults(v *viper.Viper) {
	d := DefaultMarketplaceConfig()
	v.SetDefault("marketplace.commission.ratePercent", d.Commission.RatePercent)
	v.SetDefault("marketplace.commission.creditsRatePercent", d.Commission.CreditsRatePercent)
	v.SetDefault("marketplace.commission.processorFeePercent", d.Commission.ProcessorFeePercent)
	v.SetDefault("marketplace.commission.processorFixedCents", d.Commission.ProcessorFixedCents)

	bonuses := make([]map[string]any, 0, len(d.Rewards.StreakBonuses))
	for _, b := range d.Rewards.StreakBonuses {
		bonuses = append(bonuses, map[string]any{"streak": b.Streak, "amount": b.Amount})
	}
	v.SetDefault("marketplace.rewards.dailyBase", d.Rewards.DailyBase)
	v.SetDefault("marketplace.rewards.streakBonuses", bonuses)
	v.SetDefault("marketplace.rewards.signupBonus", d.Rewards.SignupBonus)
	v.SetDefault("marketplace.rewards.profileComplete", d.Rewards.ProfileComplete)
	v.SetDefault("marketplace.rewards.promptShare", d.Rewards.PromptShare)

	v.SetDefault("marketplace.payout.minimumCents", d.Payout.MinimumCents)
	v.SetDefault("marketplace.payout.holdingDelay", d.Payout.HoldingDelay.String())
	v.SetDefault("marketplace.payout.subBatchSize", d.Payout.SubBatchSize)
	v.SetDefault("marketplace.payout.maxAttempts", d.Payout.MaxAttempts)
	v.SetDefault("marketplace.payout.retryBaseDelay", d.Payout.RetryBaseDelay.String())
	v.SetDefault("marketplace.payout.retryMaxDelay", d.Payout.RetryMaxDelay.String())

	v.SetDefault("marketplace.purchase.processorTimeout", d.Purchase.ProcessorTimeout.String())

	v.SetDefault("marketplace.ledger.maxConflictRetries", d.Ledger.MaxConflictRetries)
	v.SetDefault("marketplace.ledger.retryBaseDelay", d.Ledger.RetryBaseDelay.String())
	v.SetDefault("marketplace.ledger.retryMaxDelay", d.Ledger.RetryMaxDelay.String())
}

func decodeMarketplace(v *viper.Viper) (MarketplaceConfig, error) {
	// Unmarshal walks every leaf key so file values merge with defaults.
	var wrapper struct {
		Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return MarketplaceConfig{}, err
	}
	cfg := wrapper.Marketplace
	if err := cfg.resolve(); err != nil {
		return MarketplaceConfig{}, err
	}
	return cfg, nil
}

func (c *MarketplaceConfig) resolve() error {
	var err error
	if c.Commission.RateBps, err = commission.PercentToBasisPoints(c.Commission.RatePercent); err != nil {
		return fmt.Errorf("commission.ratePercent: %w", err)
	}
	if c.Commission.CreditsRateBps, err = commission.PercentToBasisPoints(c.Commission.CreditsRatePercent); err != nil {
		return fmt.Errorf("commission.creditsRatePercent: %w", err)
	}
	if c.Commission.ProcessorFeeBps, err = commission.PercentToBasisPoints(c.Commission.ProcessorFeePercent); err != nil {
		return fmt.Errorf("commission.processorFeePercent: %w", err)
	}
	rates := commission.Rates{
		CommissionBps:       c.Commission.RateBps,
		ProcessorFeeBps:     c.Commission.ProcessorFeeBps,
		ProcessorFixedCents: c.Commission.ProcessorFixedCents,
	}
	if err := rates.Validate(); err != nil {
		return fmt.Errorf("commission: %w", err)
	}
	if c.Rewards.DailyBase <= 0 {
		return errors.New("rewards.dailyBase must be positive")
	}
	for _, b := range c.Rewards.StreakBonuses {
		if b.Streak <= 0 || b.Amount <= 0 {
			return fmt.Errorf("rewards.streakBonuses: invalid entry %d/%d", b.Streak, b.Amount)
		}
	}
	if c.Payout.MinimumCents < 0 {
		return errors.New("payout.minimumCents cannot be negative")
	}
	if c.Payout.HoldingDelay < 0 {
		return errors.New("payout.holdingDelay cannot be negative")
	}
	if c.Payout.SubBatchSize <= 0 {
		return errors.New("payout.subBatchSize must be positive")
	}
	if c.Payout.MaxAttempts <= 0 {
		return errors.New("payout.maxAttempts must be positive")
	}
	if c.Purchase.ProcessorTimeout <= 0 {
		return errors.New("purchase.processorTimeout must be positive")
	}
	if c.Ledger.MaxConflictRetries < 0 {
		return errors.New("ledger.maxConflictRetries cannot be negative")
	}
	if c.Ledger.RetryBaseDelay <= 0 || c.Ledger.RetryMaxDelay <= c.Ledger.RetryBaseDelay {
		return errors.New("ledger retry delays must be positive and ordered")
	}
	if c.Payout.RetryBaseDelay <= 0 || c.Payout.RetryMaxDelay <= c.Payout.RetryBaseDelay {
		return errors.New("payout retry delays must be positive and ordered")
	}
	return nil
}
