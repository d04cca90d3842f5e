package core

import "time"

// MarketConfig carries the numeric knobs every subsystem actually reads.
// pkg/config.Config (the viper/yaml/.env loader) produces one of these via
// its ToMarketConfig method so core never has to import a CLI/file-loading
// dependency.
type MarketConfig struct {
	EpochDuration                    time.Duration
	MaxOrdersPerParticipantPerEpoch  int
	MaxMetersPerParticipant          int
	FeeBps                           uint64
	MinRECValidators                 int
	OracleRequestTimeout             time.Duration
	TokenDecimals                    uint8
	FeeRecipient                     ParticipantID
	// AutoSuspendThreshold is the validator-penalty knob; 0 disables it.
	AutoSuspendThreshold int
}

// DefaultMarketConfig returns the baseline configuration values.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		EpochDuration:                   15 * time.Minute,
		MaxOrdersPerParticipantPerEpoch: 100,
		MaxMetersPerParticipant:         10,
		FeeBps:                          25,
		MinRECValidators:                2,
		OracleRequestTimeout:            100 * time.Second,
		TokenDecimals:                   18,
		AutoSuspendThreshold:            0,
	}
}
