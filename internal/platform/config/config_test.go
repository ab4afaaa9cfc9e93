package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DEED_DATABASE_URL", "postgres://deed@localhost/deed")
	t.Setenv("DEED_JWT_SIGNING_KEY", "secret")
	t.Setenv("DEED_LEDGER_PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
}

func TestFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, int64(31337), cfg.Ledger.ChainID)
	assert.Equal(t, "LandTitleDeed", cfg.Ledger.ContractName)
	assert.Equal(t, 2*time.Minute, cfg.Ledger.ConfirmationTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Ledger.DropWindow)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.Redis.URL)
}

func TestFromEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DEED_ADDR", ":9090")
	t.Setenv("DEED_LEDGER_CHAIN_ID", "11155111")
	t.Setenv("DEED_LEDGER_CONFIRMATION_TIMEOUT", "45s")
	t.Setenv("DEED_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("DEED_LEDGER_RATE_LIMIT", "0.5")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, int64(11155111), cfg.Ledger.ChainID)
	assert.Equal(t, 45*time.Second, cfg.Ledger.ConfirmationTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.InDelta(t, 0.5, cfg.Ledger.RateLimit, 0.0001)
}

func TestFromEnvReportsEveryBadValue(t *testing.T) {
	setRequired(t)
	t.Setenv("DEED_LEDGER_CHAIN_ID", "mainnet")
	t.Setenv("DEED_ISSUE_TIMEOUT", "soon")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEED_LEDGER_CHAIN_ID")
	assert.Contains(t, err.Error(), "DEED_ISSUE_TIMEOUT")
}

func TestValidateRequiresSecrets(t *testing.T) {
	err := Server{Ledger: LedgerConfig{ChainID: 1, KeyFile: "key.age"}}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEED_DATABASE_URL")
	assert.Contains(t, err.Error(), "DEED_JWT_SIGNING_KEY")
	assert.Contains(t, err.Error(), "DEED_LEDGER_IDENTITY_FILE")
	assert.NotContains(t, err.Error(), "DEED_LEDGER_PRIVATE_KEY")
}
