package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Google   GoogleConfig   `yaml:"google"`
	Redis    RedisConfig    `yaml:"redis"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

// AuthConfig holds all token-lifecycle settings. It is built once at
// startup and passed by reference into the services that need it; nothing
// mutates it afterwards.
type AuthConfig struct {
	Secret                   string `yaml:"secret"`
	AccessTokenExpireMinutes int    `yaml:"access_token_expire_minutes"`
	RefreshTokenExpireHours  int    `yaml:"refresh_token_expire_hours"`
	// ReplayMaxAgeHours bounds how old the timestamp embedded in a refresh
	// token may be, independently of the stored expiry.
	ReplayMaxAgeHours   int    `yaml:"replay_max_age_hours"`
	MaxActiveSessions   int    `yaml:"max_active_sessions"`
	RotateRefreshTokens bool   `yaml:"rotate_refresh_tokens"`
	AuditEnabled        bool   `yaml:"audit_enabled"`
	CookieSecure        bool   `yaml:"cookie_secure"`
	CookieSameSite      string `yaml:"cookie_same_site"` // lax, strict, none
}

// AccessTokenLifetime returns the access token validity window.
func (a *AuthConfig) AccessTokenLifetime() time.Duration {
	return time.Duration(a.AccessTokenExpireMinutes) * time.Minute
}

// RefreshTokenLifetime returns the refresh token validity window.
func (a *AuthConfig) RefreshTokenLifetime() time.Duration {
	return time.Duration(a.RefreshTokenExpireHours) * time.Hour
}

// ReplayMaxAge returns the replay-window bound.
func (a *AuthConfig) ReplayMaxAge() time.Duration {
	return time.Duration(a.ReplayMaxAgeHours) * time.Hour
}

// GoogleConfig configures Google ID-token login.
type GoogleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	ClientID string `yaml:"client_id"`
}

// RedisConfig for the optional async audit queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		fileCfg := *DefaultConfig()
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, err
		}
		cfg = &fileCfg
	}

	cfg.overrideFromEnv()
	cfg.Auth.applyDefaults()
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "divetrack.db",
		},
		Auth: AuthConfig{
			Secret:                   "divetrack-secret-key-change-in-production",
			AccessTokenExpireMinutes: 15,
			RefreshTokenExpireHours:  720,
			ReplayMaxAgeHours:        168,
			MaxActiveSessions:        5,
			RotateRefreshTokens:      true,
			AuditEnabled:             true,
			CookieSecure:             false,
			CookieSameSite:           "lax",
		},
		Google: GoogleConfig{
			Enabled: false,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
	}
}

// applyDefaults fills zero values left by a partial config file so the
// token service never runs with a zero lifetime or session cap.
func (a *AuthConfig) applyDefaults() {
	def := DefaultConfig().Auth
	if a.AccessTokenExpireMinutes <= 0 {
		a.AccessTokenExpireMinutes = def.AccessTokenExpireMinutes
	}
	if a.RefreshTokenExpireHours <= 0 {
		a.RefreshTokenExpireHours = def.RefreshTokenExpireHours
	}
	if a.ReplayMaxAgeHours <= 0 {
		a.ReplayMaxAgeHours = def.ReplayMaxAgeHours
	}
	if a.MaxActiveSessions <= 0 {
		a.MaxActiveSessions = def.MaxActiveSessions
	}
	if a.CookieSameSite == "" {
		a.CookieSameSite = def.CookieSameSite
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("AUTH_SECRET"); secret != "" {
		c.Auth.Secret = secret
	}
	if v := os.Getenv("AUTH_MAX_ACTIVE_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Auth.MaxActiveSessions = n
		}
	}
	if v := os.Getenv("AUTH_ACCESS_TOKEN_EXPIRE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Auth.AccessTokenExpireMinutes = n
		}
	}
	if v := os.Getenv("AUTH_REFRESH_TOKEN_EXPIRE_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Auth.RefreshTokenExpireHours = n
		}
	}
	if v := os.Getenv("AUTH_AUDIT_ENABLED"); v != "" {
		c.Auth.AuditEnabled = v == "true" || v == "1"
	}
	if clientID := os.Getenv("GOOGLE_CLIENT_ID"); clientID != "" {
		c.Google.Enabled = true
		c.Google.ClientID = clientID
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
