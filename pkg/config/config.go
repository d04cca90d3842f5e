// Package config provides a reusable loader for the energy exchange's
// configuration files and environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/campusgrid/energy-exchange/core"
	"github.com/campusgrid/energy-exchange/pkg/utils"
)

// Config is the unified configuration for a campusmarket process. It
// mirrors every market knob core.MarketConfig exposes, plus the
// persistence and logging settings the ambient stack needs.
type Config struct {
	Market struct {
		EpochDurationMS                 int    `mapstructure:"epoch_duration_ms" json:"epoch_duration_ms"`
		MaxOrdersPerParticipantPerEpoch int    `mapstructure:"max_orders_per_participant_per_epoch" json:"max_orders_per_participant_per_epoch"`
		MaxMetersPerParticipant         int    `mapstructure:"max_meters_per_participant" json:"max_meters_per_participant"`
		FeeBps                          int    `mapstructure:"fee_bps" json:"fee_bps"`
		MinRECValidators                int    `mapstructure:"min_rec_validators" json:"min_rec_validators"`
		OracleRequestTimeoutMS          int    `mapstructure:"oracle_request_timeout_ms" json:"oracle_request_timeout_ms"`
		TokenDecimals                   int    `mapstructure:"token_decimals" json:"token_decimals"`
		FeeRecipientHex                 string `mapstructure:"fee_recipient" json:"fee_recipient"`
		AutoSuspendThreshold            int    `mapstructure:"auto_suspend_threshold" json:"auto_suspend_threshold"`
		UpkeepCronSpec                  string `mapstructure:"upkeep_cron_spec" json:"upkeep_cron_spec"`
	} `mapstructure:"market" json:"market"`

	Storage struct {
		Driver   string `mapstructure:"driver" json:"driver"` // "memory" or "sqlite"
		SQLitePath string `mapstructure:"sqlite_path" json:"sqlite_path"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load.
var AppConfig Config

// Load reads default.yaml (and, if env is non-empty, an env-named overlay)
// from ./config or ./cmd/config, overlays a local .env file, then overlays
// process environment variables. The resulting Config is stored in
// AppConfig and returned.
func Load(env string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	applyDefaults()
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, utils.Wrap(err, "load config")
		}
	}
	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}
	viper.AutomaticEnv()
	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the MARKET_ENV environment
// variable to select an overlay file.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("MARKET_ENV", ""))
}

func applyDefaults() {
	d := core.DefaultMarketConfig()
	viper.SetDefault("market.epoch_duration_ms", d.EpochDuration.Milliseconds())
	viper.SetDefault("market.max_orders_per_participant_per_epoch", d.MaxOrdersPerParticipantPerEpoch)
	viper.SetDefault("market.max_meters_per_participant", d.MaxMetersPerParticipant)
	viper.SetDefault("market.fee_bps", d.FeeBps)
	viper.SetDefault("market.min_rec_validators", d.MinRECValidators)
	viper.SetDefault("market.oracle_request_timeout_ms", d.OracleRequestTimeout.Milliseconds())
	viper.SetDefault("market.token_decimals", d.TokenDecimals)
	viper.SetDefault("market.auto_suspend_threshold", d.AutoSuspendThreshold)
	viper.SetDefault("market.upkeep_cron_spec", "@every 1s")
	viper.SetDefault("storage.driver", "memory")
	viper.SetDefault("storage.sqlite_path", "campusmarket.db")
	viper.SetDefault("logging.level", "info")
}

// ToMarketConfig converts the loaded Config into the core.MarketConfig
// every subsystem actually reads, keeping core free of any
// viper/yaml/.env dependency.
func (c *Config) ToMarketConfig() (core.MarketConfig, error) {
	feeRecipient, err := decodeParticipantHex(c.Market.FeeRecipientHex)
	if err != nil {
		return core.MarketConfig{}, utils.Wrap(err, "fee_recipient")
	}
	return core.MarketConfig{
		EpochDuration:                    time.Duration(c.Market.EpochDurationMS) * time.Millisecond,
		MaxOrdersPerParticipantPerEpoch:  c.Market.MaxOrdersPerParticipantPerEpoch,
		MaxMetersPerParticipant:          c.Market.MaxMetersPerParticipant,
		FeeBps:                           uint64(c.Market.FeeBps),
		MinRECValidators:                 c.Market.MinRECValidators,
		OracleRequestTimeout:             time.Duration(c.Market.OracleRequestTimeoutMS) * time.Millisecond,
		TokenDecimals:                    uint8(c.Market.TokenDecimals),
		FeeRecipient:                     feeRecipient,
		AutoSuspendThreshold:             c.Market.AutoSuspendThreshold,
	}, nil
}

func decodeParticipantHex(s string) (core.ParticipantID, error) {
	var id core.ParticipantID
	if s == "" {
		return id, nil
	}
	raw, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil || len(raw) != len(id) {
		return id, fmt.Errorf("fee_recipient must be a %d-byte hex string", len(id))
	}
	copy(id[:], raw)
	return id, nil
}

func trimHexPrefix(s string) string {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
