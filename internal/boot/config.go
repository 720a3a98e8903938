package boot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/sethvargo/go-envconfig"

	"uk.co.dudmesh.gatehouse/internal/docstore"
	"uk.co.dudmesh.gatehouse/internal/model"
)

var ErrorInvalidConfig = errors.New("invalid config")

type Config struct {
	Env      string `env:"ENV,default=dev"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
	DataDir  string `env:"DATA_DIR,default=./data"`
	Store    string `env:"STORE,default=file"`
	Server   struct {
		Port        string  `env:"PORT,default=8080"`
		MetricsPort string  `env:"METRICS_PORT,default=8081"`
		Origins     string  `env:"ALLOWED_ORIGINS,default=*"`
		BodyLimit   string  `env:"BODY_LIMIT,default=1M"`
		RateLimit   float64 `env:"AUTH_RATE_LIMIT,default=5"`
	}
	Auth struct {
		TokenTTL      time.Duration `env:"TOKEN_TTL,default=336h"`
		LoginCooldown time.Duration `env:"LOGIN_COOLDOWN,default=15s"`
		LockboxPolicy string        `env:"LOCKBOX_POLICY,default=strict"`
		SecureCookies bool          `env:"SECURE_COOKIES,default=false"`
		PurgeInterval time.Duration `env:"TOKEN_PURGE_INTERVAL,default=1h"`
	}
	Notify struct {
		Timeout       time.Duration `env:"NOTIFY_TIMEOUT,default=3s"`
		KeyPassphrase string        `env:"NOTIFY_KEY_PASSPHRASE"`
	}
}

func Load() (*Config, error) {
	return LoadWith(envconfig.OsLookuper())
}

func LoadWith(lookuper envconfig.Lookuper) (*Config, error) {
	config := &Config{}
	if err := envconfig.ProcessWith(context.Background(), config, lookuper); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.IsProduction() {
		config.Auth.SecureCookies = true
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case docstore.KindFile, docstore.KindSQLite, docstore.KindMemory:
	default:
		return fmt.Errorf("%w: unknown store %q", ErrorInvalidConfig, c.Store)
	}
	if _, err := model.ParseLockboxPolicy(c.Auth.LockboxPolicy); err != nil {
		return fmt.Errorf("%w: %w", ErrorInvalidConfig, err)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("%w: TOKEN_TTL must be positive", ErrorInvalidConfig)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("%w: AUTH_RATE_LIMIT must be positive", ErrorInvalidConfig)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "dev"
}

func (c *Config) DataDirectory() string {
	return c.DataDir
}

func (c *Config) ServerOrigins() []string {
	origins := []string{}
	for _, origin := range strings.Split(c.Server.Origins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func (c *Config) LockboxPolicy() model.LockboxPolicy {
	policy, _ := model.ParseLockboxPolicy(c.Auth.LockboxPolicy)
	return policy
}

func (c *Config) Level() (log.Lvl, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return log.DEBUG, nil
	case "info", "":
		return log.INFO, nil
	case "warn":
		return log.WARN, nil
	case "error":
		return log.ERROR, nil
	case "off":
		return log.OFF, nil
	}
	return log.INFO, fmt.Errorf("%w: unknown log level %q", ErrorInvalidConfig, c.LogLevel)
}
