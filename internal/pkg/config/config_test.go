package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "order.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "order-service", cfg.Service.Name)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "http://localhost:8000", cfg.Inventory.BaseURL)
	assert.Equal(t, "usd", cfg.Payment.Currency)
	assert.Equal(t, InventoryPolicyRecord, cfg.Inventory.FailurePolicy)
	assert.Equal(t, 3*time.Second, cfg.Inventory.Timeout.Std())
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := writeFile(t, `
service:
  port: 9090
inventory:
  base_url: http://stock:8000
  timeout: 750ms
  failure_policy: cancel
payment:
  currency: " EUR "
orders:
  admission_rules:
    - order.quantity <= 10
`)
	t.Setenv("INVENTORY_BASE_URL", "http://stock.internal:8000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Service.Port)
	assert.Equal(t, "http://stock.internal:8000", cfg.Inventory.BaseURL)
	assert.Equal(t, 750*time.Millisecond, cfg.Inventory.Timeout.Std())
	assert.Equal(t, InventoryPolicyCancel, cfg.Inventory.FailurePolicy)
	assert.Equal(t, "eur", cfg.Payment.Currency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, []string{"order.quantity <= 10"}, cfg.Orders.AdmissionRules)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown driver":  func(c *Config) { c.Database.Driver = "sqlite" },
		"mysql no dsn":    func(c *Config) { c.Database.Driver = "mysql" },
		"redis lock":      func(c *Config) { c.Lock.Backend = "redis" },
		"zookeeper lock":  func(c *Config) { c.Lock.Backend = "zookeeper" },
		"unknown policy":  func(c *Config) { c.Inventory.FailurePolicy = "retry" },
		"bad currency":    func(c *Config) { c.Payment.Currency = "dollars" },
		"zero timeout":    func(c *Config) { c.Inventory.Timeout = 0 },
		"port overflow":   func(c *Config) { c.Service.Port = 70000 },
		"empty inventory": func(c *Config) { c.Inventory.BaseURL = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateNormalizesMySQLDSN(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "mysql"
	cfg.Database.DSN = "order:secret@tcp(db:3306)/orders"

	require.NoError(t, cfg.Validate())
	assert.Contains(t, cfg.Database.DSN, "parseTime=true")
}

func TestDurationRejectsGarbage(t *testing.T) {
	path := writeFile(t, "inventory:\n  timeout: soon\n")
	_, err := Load(path)
	assert.Error(t, err)
}
