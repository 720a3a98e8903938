package boot

import (
	"testing"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uk.co.dudmesh.gatehouse/internal/model"
)

func TestLoad(t *testing.T) {
	assert := assert.New(t)

	t.Run("Defaults", func(t *testing.T) {
		config, err := LoadWith(envconfig.MapLookuper(map[string]string{}))
		require.NoError(t, err)
		assert.True(config.IsDevelopment())
		assert.Equal("./data", config.DataDirectory())
		assert.Equal("file", config.Store)
		assert.Equal("8080", config.Server.Port)
		assert.Equal("8081", config.Server.MetricsPort)
		assert.Equal([]string{"*"}, config.ServerOrigins())
		assert.Equal(14*24*time.Hour, config.Auth.TokenTTL)
		assert.Equal(15*time.Second, config.Auth.LoginCooldown)
		assert.Equal(model.LockboxStrict, config.LockboxPolicy())
		assert.False(config.Auth.SecureCookies)
		assert.Equal(3*time.Second, config.Notify.Timeout)
		assert.Empty(config.Notify.KeyPassphrase)

		level, err := config.Level()
		assert.NoError(err)
		assert.Equal(log.INFO, level)
	})

	t.Run("Overrides", func(t *testing.T) {
		config, err := LoadWith(envconfig.MapLookuper(map[string]string{
			"ENV":             "prod",
			"LOG_LEVEL":       "debug",
			"STORE":           "sqlite",
			"ALLOWED_ORIGINS": "https://a.example, https://b.example",
			"TOKEN_TTL":       "1h",
			"LOCKBOX_POLICY":  "legacy",
		}))
		require.NoError(t, err)
		assert.True(config.IsProduction())
		assert.True(config.Auth.SecureCookies)
		assert.Equal("sqlite", config.Store)
		assert.Equal([]string{"https://a.example", "https://b.example"}, config.ServerOrigins())
		assert.Equal(time.Hour, config.Auth.TokenTTL)
		assert.Equal(model.LockboxLegacy, config.LockboxPolicy())

		level, _ := config.Level()
		assert.Equal(log.DEBUG, level)
	})

	t.Run("Invalid", func(t *testing.T) {
		for name, env := range map[string]map[string]string{
			"store":      {"STORE": "postgres"},
			"policy":     {"LOCKBOX_POLICY": "lax"},
			"level":      {"LOG_LEVEL": "loud"},
			"ttl":        {"TOKEN_TTL": "0s"},
			"rate limit": {"AUTH_RATE_LIMIT": "0"},
		} {
			_, err := LoadWith(envconfig.MapLookuper(env))
			assert.ErrorIs(err, ErrorInvalidConfig, name)
		}

		_, err := LoadWith(envconfig.MapLookuper(map[string]string{"TOKEN_TTL": "soon"}))
		assert.Error(err)
	})
}
