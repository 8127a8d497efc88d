package payment

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg := ConfigFromEnv()

	assert.Equal(t, common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"), cfg.TokenAddress)
	assert.Equal(t, "5000000", cfg.ExpectedAmount.String())
	assert.Equal(t, uint64(100), cfg.LookbackBlocks)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.Window)
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("SPONSORSHIP_AMOUNT_UNITS", "10000000")
	t.Setenv("PAYMENT_LOOKBACK_BLOCKS", "250")
	t.Setenv("PAYMENT_POLL_INTERVAL_SECONDS", "5")
	t.Setenv("PAYMENT_WINDOW_MINUTES", "60")

	cfg := ConfigFromEnv()
	assert.Equal(t, "10000000", cfg.ExpectedAmount.String())
	assert.Equal(t, uint64(250), cfg.LookbackBlocks)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Hour, cfg.Window)
}

func TestConfigFromEnv_InvalidAmountFallsBack(t *testing.T) {
	t.Setenv("SPONSORSHIP_AMOUNT_UNITS", "not-a-number")

	cfg := ConfigFromEnv()
	assert.Equal(t, "5000000", cfg.ExpectedAmount.String())
}
