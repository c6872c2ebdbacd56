// Package config loads each service's environment-variable configuration.
// CLI flag parsing is out of scope (spec §1's "CLI option parsing"
// exclusion); the teacher's own Issuer is likewise configured
// programmatically rather than from flags, so env-only configuration
// matches the teacher's idiom as closely as the two approaches can.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Common holds the settings every service needs: where to store data and
// how to reach its upstream collaborators.
type Common struct {
	DataDir        string
	HTTPAddr       string
	LogLevel       string
	L1RPCURL       string
	L2RPCURL       string
	PollInterval   time.Duration
}

func LoadCommon(defaultAddr string) (Common, error) {
	c := Common{
		DataDir:      getEnv("DATA_DIR", "./data"),
		HTTPAddr:     getEnv("HTTP_ADDR", defaultAddr),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		L1RPCURL:     getEnv("L1_RPC_URL", ""),
		L2RPCURL:     getEnv("L2_RPC_URL", ""),
		PollInterval: 2 * time.Second,
	}
	if raw := os.Getenv("POLL_INTERVAL_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			return Common{}, fmt.Errorf("config: invalid POLL_INTERVAL_MS: %w", err)
		}
		c.PollInterval = time.Duration(ms) * time.Millisecond
	}
	return c, nil
}

// BlockBuilderConfig adds the block builder's phase-timing knobs (spec
// §4.4).
type BlockBuilderConfig struct {
	Common
	AcceptingDuration time.Duration
	ProposingDuration time.Duration
	RegistrationOnly  bool
}

func LoadBlockBuilder() (BlockBuilderConfig, error) {
	common, err := LoadCommon(":8080")
	if err != nil {
		return BlockBuilderConfig{}, err
	}
	return BlockBuilderConfig{
		Common:            common,
		AcceptingDuration: durationEnv("ACCEPTING_DURATION_MS", 3*time.Second),
		ProposingDuration: durationEnv("PROPOSING_DURATION_MS", 1*time.Second),
		RegistrationOnly:  boolEnv("REGISTRATION_ONLY", false),
	}, nil
}

func LoadStoreVault() (Common, error) {
	return LoadCommon(":8081")
}

func LoadValidityProver() (Common, error) {
	return LoadCommon(":8082")
}

func LoadWithdrawalServer() (Common, error) {
	return LoadCommon(":8083")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if raw := os.Getenv(key); raw != "" {
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return fallback
}
