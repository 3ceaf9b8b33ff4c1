package config

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndAddDefaults(t *testing.T) {
	// Test case with empty ProjectName and DataSource DNS
	cnf := Configuration{
		ProjectName: "",
		DataSource: DataSourceConfig{
			Dns: "",
		},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	// Redis is optional
	cnf = Configuration{
		ProjectName: "Test Project",
		DataSource: DataSourceConfig{
			Dns: "postgres://localhost:5432",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}
	assert.Equal(t, EnvDevelopment, cnf.Environment)
	assert.Equal(t, DEFAULT_WEBHOOK_RATE_LIMIT, cnf.WebhookRateLimit.Limit)
	assert.Equal(t, DEFAULT_WEBHOOK_RATE_WINDOW_SEC, cnf.WebhookRateLimit.WindowSec)
	assert.Equal(t, int64(DEFAULT_AMOUNT_TOLERANCE_MINOR), cnf.Payments.AmountToleranceMinor)
	assert.Equal(t, DEFAULT_PAYSTACK_BASE_URL, cnf.Gateways.Paystack.BaseUrl)
	assert.Equal(t, "payout_receipts", cnf.Queue.ReceiptQueue)
	assert.Equal(t, "Test Project", cnf.Mail.FromName)
	require.NotNil(t, cnf.RateLimit.CleanupIntervalSec)
	assert.Nil(t, cnf.RateLimit.RequestsPerSecond)
}

func TestValidateAndAddDefaults_Environment(t *testing.T) {
	cnf := Configuration{
		Environment: " Production ",
		DataSource:  DataSourceConfig{Dns: "postgres://localhost:5432"},
	}
	require.NoError(t, cnf.validateAndAddDefaults())
	assert.True(t, cnf.IsProduction())

	cnf = Configuration{
		Environment: "staging",
		DataSource:  DataSourceConfig{Dns: "postgres://localhost:5432"},
	}
	assert.EqualError(t, cnf.validateAndAddDefaults(), "environment must be either development or production")
}

func TestValidateAndAddDefaults_FeeFractions(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
		Fees:       FeesConfig{DefaultCrowdpenPct: 10},
	}
	assert.Error(t, cnf.validateAndAddDefaults())

	cnf.Fees = FeesConfig{DefaultCrowdpenPct: 0.1, DefaultStartbuttonPct: 0.05}
	assert.NoError(t, cnf.validateAndAddDefaults())
}

func TestValidateAndAddDefaults_PaystackBaseUrlTrimmed(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
		Gateways: GatewayConfig{
			Paystack: PaystackConfig{BaseUrl: "https://sandbox.example.com/"},
		},
	}
	require.NoError(t, cnf.validateAndAddDefaults())
	assert.Equal(t, "https://sandbox.example.com", cnf.Gateways.Paystack.BaseUrl)
	assert.Equal(t, DEFAULT_VERIFY_TIMEOUT_SEC, cnf.Gateways.Paystack.VerifyTimeoutSec)
}

func TestLoadConfigFromFile(t *testing.T) {
	// Create a temporary file
	tmpFile, err := os.CreateTemp("", "payd.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name()) // Clean up after the test

	// Sample configuration to write to the temp file
	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource: DataSourceConfig{
			Dns: "temp-dns",
		},
		Redis: RedisConfig{
			Dns: "temp-redis",
		},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close() // Close the file so loadConfigFromFile can open it

	// Set an environment variable to override the project name
	t.Setenv("PAYD_PROJECT_NAME", "Env Project")
	t.Setenv("PAYD_WEBHOOK_RATE_LIMIT", "20")

	// Load the configuration from the file
	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	// Fetch the loaded configuration
	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	// Check if the environment variable override worked
	if loadedConfig.ProjectName != "Env Project" {
		t.Errorf("Expected ProjectName to be 'Env Project', got '%s'", loadedConfig.ProjectName)
	}
	assert.Equal(t, 20, loadedConfig.WebhookRateLimit.Limit)

	// Check if the DNS was loaded correctly from the file
	if loadedConfig.DataSource.Dns != "temp-dns" {
		t.Errorf("Expected DataSource.Dns to be 'temp-dns', got '%s'", loadedConfig.DataSource.Dns)
	}
}

func TestInitConfig(t *testing.T) {
	// Create a temporary file
	tmpFile, err := os.CreateTemp("", "payd.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name()) // Clean up after the test

	sampleConfig := Configuration{
		ProjectName: "InitConfig Test",
		DataSource: DataSourceConfig{
			Dns: "init-config-dns",
		},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	if err := InitConfig(tmpFile.Name()); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if loadedConfig.ProjectName != "InitConfig Test" {
		t.Errorf("Expected ProjectName to be 'InitConfig Test', got '%s'", loadedConfig.ProjectName)
	}
	if loadedConfig.DataSource.Dns != "init-config-dns" {
		t.Errorf("Expected DataSource.Dns to be 'init-config-dns', got '%s'", loadedConfig.DataSource.Dns)
	}
}

func TestMockConfig(t *testing.T) {
	MockConfig(&Configuration{ProjectName: "mocked"})
	cnf, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "mocked", cnf.ProjectName)
}
