package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "worker"
log_level = "debug"

[chain]
factory_address = "0x1111111111111111111111111111111111111111"
confirm_timeout = "3m"

[wallet]
private_key = "0xabc"

[[tokens]]
symbol = "USDC"
address = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
decimals = 6

[[tokens]]
symbol = "OM"
address = "0x3992B27dA26848C2b19CeA6Fd25ad5568B68AB98"
decimals = 18

[fallback_prices]
USDC = 1.0

[dispatch]
max_concurrency = 4
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "worker", cfg.Mode)
	assert.Equal(t, 4, cfg.Dispatch.MaxConcurrency)
	assert.Equal(t, 3*time.Minute, cfg.Chain.ConfirmTimeout.Duration)
	assert.Equal(t, uint64(500_000), cfg.Chain.ExecuteGasLimit)
	assert.Equal(t, 5*time.Minute, cfg.Price.SnapshotWindow.Duration)
	assert.Equal(t, "*/5 * * * *", cfg.Price.RefreshCron)

	tokens, err := cfg.TokenTable()
	require.NoError(t, err)
	om, err := tokens.Lookup("om")
	require.NoError(t, err)
	assert.Equal(t, int32(18), om.Decimals)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VAULTSIGNAL_DISPATCH_MAX_CONCURRENCY", "32")
	t.Setenv("VAULTSIGNAL_ZEROEX_API_KEY", "k")
	t.Setenv("VAULTSIGNAL_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Dispatch.MaxConcurrency)
	assert.Equal(t, "k", cfg.Providers.ZeroEx.APIKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestDefaultsBoundShutdownWaits(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 3*time.Minute, cfg.Chain.ConfirmTimeout.Duration)
	assert.Equal(t, 5*time.Minute, cfg.Dispatch.DrainTimeout.Duration)
	assert.Equal(t, "vaultsignal", cfg.Intake.Group)

	t.Setenv("VAULTSIGNAL_DISPATCH_DRAIN_TIMEOUT", "45s")
	t.Setenv("VAULTSIGNAL_INTAKE_CONSUMER", "worker-2")
	loaded, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, loaded.Dispatch.DrainTimeout.Duration)
	assert.Equal(t, "worker-2", loaded.Intake.Consumer)

	loaded.Chain.ConfirmTimeout.Duration = 0
	err = loaded.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confirm_timeout")
}

func TestValidateRejectsMissingChainSettings(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "factory_address")
	assert.Contains(t, err.Error(), "wallet")
}

func TestValidateRejectsUnknownQuoteSymbol(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.FactoryAddress = "0x1111111111111111111111111111111111111111"
	cfg.Wallet.PrivateKey = "0xabc"
	cfg.Dispatch.QuoteSymbol = "DAI"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `quote_symbol "DAI"`)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xsecret"
	cfg.Providers.ZeroEx.APIKey = "zx"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Providers.ZeroEx.APIKey)
	assert.Equal(t, "0xsecret", cfg.Wallet.PrivateKey)

	red.Fallback["USDC"] = 42
	assert.Equal(t, 1.0, cfg.Fallback["USDC"])
}
