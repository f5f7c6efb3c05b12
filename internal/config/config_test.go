package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("AI_TIMEOUT", "")
	t.Setenv("TWILIO_MAX_RETRIES", "")
	t.Setenv("DEFAULT_QUIET_HOURS_START", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.AITimeout)
	assert.Equal(t, 3, cfg.TwilioMaxRetries)
	assert.Equal(t, "21:00", cfg.DefaultQuietHoursStart)
	assert.Equal(t, "scheduling.events", cfg.EventsExchange)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("AI_TIMEOUT", "soon")
	t.Setenv("TWILIO_MAX_RETRIES", "many")
	t.Setenv("USE_MEMORY_STORE", "perhaps")

	cfg := Load()
	assert.Equal(t, 10*time.Second, cfg.AITimeout)
	assert.Equal(t, 3, cfg.TwilioMaxRetries)
	assert.False(t, cfg.UseMemoryStore)
}

func TestDSNPrefersDatabaseURL(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://u:p@db/x", DBHost: "localhost"}
	assert.Equal(t, "postgres://u:p@db/x", cfg.DSN())

	cfg.DatabaseURL = ""
	cfg.DBUser, cfg.DBName, cfg.DBPort = "postgres", "smsbook", "5432"
	assert.Contains(t, cfg.DSN(), "dbname=smsbook")
}

func TestValidateProduction(t *testing.T) {
	cfg := &Config{Environment: "production", TwilioMaxRetries: 3, TwilioMaxSendsPerSecond: 1}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twilio credentials")
	assert.Contains(t, err.Error(), "ADMIN_API_KEY")

	cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber = "AC1", "tok", "+15550000000"
	cfg.AdminAPIKey = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestValidateDevelopmentAllowsMissingCredentials(t *testing.T) {
	cfg := &Config{Environment: "development", TwilioMaxRetries: 3, TwilioMaxSendsPerSecond: 1}
	assert.NoError(t, cfg.Validate())
}
