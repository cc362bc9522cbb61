package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "satreport.db", cfg.Store.SQLitePath)
	assert.Equal(t, "https://api-connect.eos.com", cfg.Provider.BaseURL)
	assert.Equal(t, 1000, cfg.Quota.MonthlyRequests)
	assert.Equal(t, 100, cfg.Quota.PerUserRequests)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.PrimaryModel)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.FallbackModel)
	assert.Equal(t, 4, cfg.Anthropic.CallIntervalSecs)
	assert.Equal(t, 30, cfg.Anthropic.CacheTTLDays)
	assert.Equal(t, "reports", cfg.Reports.OutDir)
	assert.Equal(t, "standard_default", cfg.Reports.DefaultTemplate)
	assert.Equal(t, 30, cfg.Reports.DueDays)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500, cfg.Retry.InitialBackoffMs)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/satreport
provider:
  api_key: eos-key
reports:
  out_dir: /var/reports
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/satreport", cfg.Store.DatabaseURL)
	assert.Equal(t, "eos-key", cfg.Provider.APIKey)
	assert.Equal(t, "/var/reports", cfg.Reports.OutDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 1000, cfg.Quota.MonthlyRequests)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("SATREPORT_STORE_DRIVER", "postgres")
	t.Setenv("SATREPORT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("SATREPORT_SERVER_PORT", "3000")
	t.Setenv("SATREPORT_PROVIDER_API_KEY", "env-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "env-key", cfg.Provider.APIKey)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "satreport.db"
	cfg.Quota.MonthlyRequests = 1000
	cfg.Quota.PerUserRequests = 100
	cfg.Reports.OutDir = "reports"
	cfg.Reports.DueDays = 30
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateAcquire_RequiresAPIKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("acquire")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider.api_key is required")

	cfg.Provider.APIKey = "eos-key"
	assert.NoError(t, cfg.Validate("acquire"))
}

func TestValidateReport(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("report"))

	cfg.Reports.OutDir = ""
	err := cfg.Validate("report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reports.out_dir is required")

	cfg.Reports.OutDir = "reports"
	cfg.Reports.DueDays = -1
	err = cfg.Validate("report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reports.due_days")
}

func TestValidateLegal_RequiresLayerURLs(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("legal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "legal.hydro_url is required")

	cfg.Legal.HydroURL = "https://geoportal.igac.gov.co/hidrografia.zip"
	cfg.Legal.LayerCacheDir = "/tmp/layers"
	assert.NoError(t, cfg.Validate("legal"))
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()

	cfg.Store.Driver = "mysql"
	err := cfg.Validate("export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")

	cfg.Store.Driver = "postgres"
	err = cfg.Validate("export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/satreport"
	assert.NoError(t, cfg.Validate("export"))
}

func TestValidateQuotaBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Quota.MonthlyRequests = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota.monthly_requests must be > 0")

	cfg.Quota.MonthlyRequests = 100
	cfg.Quota.PerUserRequests = 200
	err = cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota.per_user_requests")

	cfg.Quota.PerUserRequests = 50
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
