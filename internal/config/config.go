package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the service. Values come from
// environment variables (AUTHGRID_* with dots replaced by underscores), an
// optional YAML file pointed to by CONFIG_FILE, and defaults.
type Config struct {
	Server struct {
		Address string `mapstructure:"address"`
		Port    string `mapstructure:"port"`
	} `mapstructure:"server"`

	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Redis struct {
		Addr     string `mapstructure:"addr"` // empty disables the Redis session backend
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Keys struct {
		PrivatePEM     string `mapstructure:"private_pem"`
		PublicPEM      string `mapstructure:"public_pem"`
		PrivatePEMFile string `mapstructure:"private_pem_file"`
		PublicPEMFile  string `mapstructure:"public_pem_file"`
	} `mapstructure:"keys"`

	Tokens struct {
		AccessTTLMinutes  int `mapstructure:"access_ttl_minutes"`
		RefreshTTLMinutes int `mapstructure:"refresh_ttl_minutes"`
		SessionsPerUser   int `mapstructure:"sessions_per_user"`
	} `mapstructure:"tokens"`

	Cache struct {
		RBACRefreshSeconds       int `mapstructure:"rbac_refresh_seconds"`
		VisibilityRefreshSeconds int `mapstructure:"visibility_refresh_seconds"`
	} `mapstructure:"cache"`

	OIDC struct {
		IssuerURL    string `mapstructure:"issuer_url"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
	} `mapstructure:"oidc"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // text|json
	} `mapstructure:"logs"`
}

// AccessTTL returns the access token lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.Tokens.AccessTTLMinutes) * time.Minute
}

// RefreshTTL returns the refresh token lifetime.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.Tokens.RefreshTTLMinutes) * time.Minute
}

// RBACRefreshDelay returns the RBAC snapshot freshness window.
func (c *Config) RBACRefreshDelay() time.Duration {
	return time.Duration(c.Cache.RBACRefreshSeconds) * time.Second
}

// VisibilityRefreshDelay returns the visibility snapshot freshness window.
func (c *Config) VisibilityRefreshDelay() time.Duration {
	return time.Duration(c.Cache.VisibilityRefreshSeconds) * time.Second
}

// PrivatePEM resolves the signing key, preferring the inline value.
func (c *Config) PrivatePEM() (string, error) {
	return resolvePEM(c.Keys.PrivatePEM, c.Keys.PrivatePEMFile, "private")
}

// PublicPEM resolves the verification key, preferring the inline value.
func (c *Config) PublicPEM() (string, error) {
	return resolvePEM(c.Keys.PublicPEM, c.Keys.PublicPEMFile, "public")
}

func resolvePEM(inline, file, kind string) (string, error) {
	if strings.TrimSpace(inline) != "" {
		return inline, nil
	}
	if file == "" {
		return "", fmt.Errorf("%s key is not configured", kind)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read %s key: %w", kind, err)
	}
	return string(data), nil
}

// Load reads configuration from env/file with defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUTHGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", "8080")

	v.SetDefault("database.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("tokens.access_ttl_minutes", 15)
	v.SetDefault("tokens.refresh_ttl_minutes", 60*24*14)
	v.SetDefault("tokens.sessions_per_user", 5)

	v.SetDefault("cache.rbac_refresh_seconds", 1)
	v.SetDefault("cache.visibility_refresh_seconds", 1)

	v.SetDefault("logs.level", "info")
	v.SetDefault("logs.format", "json")
}

func validate(cfg *Config) error {
	if cfg.Tokens.SessionsPerUser < 1 {
		return errors.New("tokens.sessions_per_user must be at least 1")
	}
	if cfg.Tokens.AccessTTLMinutes < 1 || cfg.Tokens.RefreshTTLMinutes < 1 {
		return errors.New("token TTLs must be positive")
	}
	if cfg.Cache.RBACRefreshSeconds < 0 || cfg.Cache.VisibilityRefreshSeconds < 0 {
		return errors.New("cache refresh delays must not be negative")
	}
	return nil
}
