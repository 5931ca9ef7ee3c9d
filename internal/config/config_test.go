package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultDatabasePath, cfg.DatabasePath)
	assert.Equal(t, "0.015", cfg.CommissionRate.String())
	assert.Equal(t, "100000", cfg.SignupBalance.String())
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Symbols)
	assert.False(t, cfg.Debug)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("COMMISSION_RATE", "0.002")
	t.Setenv("SYMBOLS", "BTC, ETH ,SOL")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "0.002", cfg.CommissionRate.String())
	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, cfg.Symbols)
	assert.True(t, cfg.Debug)
}

func TestLoadRejectsInvalidCommissionRate(t *testing.T) {
	t.Setenv("COMMISSION_RATE", "1.5")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("COMMISSION_RATE", "-0.01")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("COMMISSION_RATE", "lots")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRejectsEmptySymbols(t *testing.T) {
	t.Setenv("SYMBOLS", " , ")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidSymbol(t *testing.T) {
	cfg := &Config{Symbols: []string{"BTC", "ETH"}}
	assert.True(t, cfg.ValidSymbol("BTC"))
	assert.False(t, cfg.ValidSymbol("btc"))
	assert.False(t, cfg.ValidSymbol("DOGE"))
}
