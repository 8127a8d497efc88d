package payment

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sponsorrun/SponsorRun/internal/pkg/env"
)

// Defaults target USDC on Base Sepolia with the protocol's fixed sponsorship
// amount of 5 USDC (6 decimals).
const (
	defaultTokenAddress   = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	defaultAmountUnits    = "5000000"
	defaultLookbackBlocks = 100
	defaultPollSeconds    = 10
	defaultWindowMinutes  = 30
)

// Config carries the fixed parameters shared by all monitoring sessions.
type Config struct {
	TokenAddress   common.Address
	ExpectedAmount *big.Int
	LookbackBlocks uint64
	PollInterval   time.Duration
	Window         time.Duration
}

// ConfigFromEnv builds the monitor configuration from the environment.
func ConfigFromEnv() Config {
	amount, ok := new(big.Int).SetString(env.GetEnv("SPONSORSHIP_AMOUNT_UNITS", defaultAmountUnits), 10)
	if !ok || amount.Sign() <= 0 {
		amount, _ = new(big.Int).SetString(defaultAmountUnits, 10)
	}

	lookback := env.GetEnvInt("PAYMENT_LOOKBACK_BLOCKS", defaultLookbackBlocks)
	if lookback <= 0 {
		lookback = defaultLookbackBlocks
	}
	pollSeconds := env.GetEnvInt("PAYMENT_POLL_INTERVAL_SECONDS", defaultPollSeconds)
	if pollSeconds <= 0 {
		pollSeconds = defaultPollSeconds
	}
	windowMinutes := env.GetEnvInt("PAYMENT_WINDOW_MINUTES", defaultWindowMinutes)
	if windowMinutes <= 0 {
		windowMinutes = defaultWindowMinutes
	}

	return Config{
		TokenAddress:   common.HexToAddress(env.GetEnv("SPONSORSHIP_TOKEN_ADDRESS", defaultTokenAddress)),
		ExpectedAmount: amount,
		LookbackBlocks: uint64(lookback),
		PollInterval:   time.Duration(pollSeconds) * time.Second,
		Window:         time.Duration(windowMinutes) * time.Minute,
	}
}
