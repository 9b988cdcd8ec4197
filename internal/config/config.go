package config

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"teoledger/internal/pricing"
	"teoledger/internal/tier"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Balance     string `mapstructure:"balance"`
	Opportunity string `mapstructure:"opportunity"`
	Withdrawal  string `mapstructure:"withdrawal"`
}

// BusinessConfig carries the ledger policy. The TEO peg and the teacher bonus
// percent are configuration on purpose: they are business rules, not code.
type BusinessConfig struct {
	DecisionDeadlineHours int          `mapstructure:"decision_deadline_hours"`
	SweepIntervalSeconds  int          `mapstructure:"sweep_interval_seconds"`
	SweepBatchSize        int          `mapstructure:"sweep_batch_size"`
	WithdrawalCap         int          `mapstructure:"withdrawal_cap"`
	PoolUserID            int64        `mapstructure:"pool_user_id"`
	TeoPerEur             float64      `mapstructure:"teo_per_eur"`
	BonusPercent          float64      `mapstructure:"bonus_percent"`
	MaxRetryCount         int          `mapstructure:"max_retry_count"`
	Tiers                 []TierConfig `mapstructure:"tiers"`
}

type TierConfig struct {
	Name                  string  `mapstructure:"name"`
	MinStake              float64 `mapstructure:"min_stake"`
	CommissionRatePercent float64 `mapstructure:"commission_rate_percent"`
}

func (b BusinessConfig) DecisionDeadline() time.Duration {
	return time.Duration(b.DecisionDeadlineHours) * time.Hour
}

func (b BusinessConfig) SweepInterval() time.Duration {
	return time.Duration(b.SweepIntervalSeconds) * time.Second
}

// TierTable converts the configured brackets for the resolver. Config values
// are plain numbers; they become exact decimals here, once.
func (b BusinessConfig) TierTable() []tier.Tier {
	out := make([]tier.Tier, 0, len(b.Tiers))
	for _, t := range b.Tiers {
		out = append(out, tier.Tier{
			Name:                  t.Name,
			MinStake:              decimal.NewFromFloat(t.MinStake),
			CommissionRatePercent: decimal.NewFromFloat(t.CommissionRatePercent),
		})
	}
	return out
}

var GlobalConfig *Config

// LoadConfig reads the yaml config file and applies policy defaults.
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("business.decision_deadline_hours", 24)
	viper.SetDefault("business.sweep_interval_seconds", 60)
	viper.SetDefault("business.sweep_batch_size", 100)
	viper.SetDefault("business.withdrawal_cap", 3)
	viper.SetDefault("business.pool_user_id", 0)
	viper.SetDefault("business.teo_per_eur", 10)
	viper.SetDefault("business.bonus_percent", 25)
	viper.SetDefault("business.max_retry_count", 3)

	if err := viper.ReadInConfig(); err != nil {
		zap.L().Fatal("failed to read config file", zap.String("path", configPath), zap.Error(err))
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		zap.L().Fatal("failed to unmarshal config", zap.Error(err))
	}

	GlobalConfig = config
	return config
}

// PricingPolicy builds the decimal policy used by the quote engine.
func (b BusinessConfig) PricingPolicy() pricing.Policy {
	return pricing.Policy{
		TeoPerEur:    decimal.NewFromFloat(b.TeoPerEur),
		BonusPercent: decimal.NewFromFloat(b.BonusPercent),
	}
}
