package config

import (
	"testing"
	"time"

	"fenrir/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 9001, cfg.Listen.Port)
	assert.Equal(t, 9002, cfg.Listen.FeedPort)
	assert.Equal(t, 100, cfg.Durability.FlushEveryRecords)
	assert.Equal(t, 50*time.Millisecond, cfg.Durability.FlushInterval)
	assert.Equal(t, "cancel_oldest", cfg.Trading.SelfTradePolicy)
	assert.Equal(t, 0.7, cfg.Trading.InsuranceFundShare)
}

func TestLoad_NoPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EnvVarOverridesDefault(t *testing.T) {
	t.Setenv("FENRIR_LISTEN_PORT", "7777")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Listen.Port)
}

func TestLoad_EnvVarOverridesNestedTradingField(t *testing.T) {
	t.Setenv("FENRIR_TRADING_MAKER_FEE_RATE", "0.001")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.001, cfg.Trading.MakerFeeRate)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/path/to/fenrir.yaml")
	assert.Error(t, err)
}

func TestSelfTradePolicy_MapsKnownValues(t *testing.T) {
	cases := map[string]common.SelfTradePolicy{
		"cancel_oldest": common.CancelOldest,
		"cancel_taker":  common.CancelTaker,
		"cancel_maker":  common.CancelMaker,
		"cancel_both":   common.CancelBoth,
		"garbage":       common.CancelOldest,
	}
	for raw, want := range cases {
		cfg := Config{Trading: TradingConfig{SelfTradePolicy: raw}}
		assert.Equal(t, want, cfg.SelfTradePolicy(), "policy string %q", raw)
	}
}
