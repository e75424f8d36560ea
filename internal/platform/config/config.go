package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr         string `validate:"required"`
	Environment  string `validate:"required,oneof=development staging production"`
	BaseURL      string `validate:"required,url"`
	CookieSecure bool

	Redis   RedisConfig
	OAuth   OAuthConfig
	Session SessionConfig

	InventoryCacheTTL time.Duration `validate:"gte=0"`
}

// RedisConfig configures the session store and response cache backend.
type RedisConfig struct {
	URL          string `validate:"required"`
	KeyPrefix    string `validate:"required"`
	PoolSize     int    `validate:"gte=1"`
	MinIdleConns int    `validate:"gte=0"`
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// OAuthConfig describes the vendor's OAuth client registration.
type OAuthConfig struct {
	ClientID       string        `validate:"required"`
	ClientSecret   string        `validate:"required"`
	RedirectURI    string        `validate:"required,url"`
	AccountsURL    string        `validate:"required,url"`
	APIURL         string        `validate:"required,url"`
	OrganizationID string        `validate:"required"`
	Scopes         []string      `validate:"min=1,dive,required"`
	Timeout        time.Duration `validate:"gt=0"`
}

// SessionConfig holds the session lifetime and refresh policy knobs.
type SessionConfig struct {
	TTL                time.Duration `validate:"gt=0"`
	RefreshBuffer      time.Duration `validate:"gte=0"`
	MinRefreshInterval time.Duration `validate:"gte=0"`
}

const (
	DefaultSessionTTL         = 7 * 24 * time.Hour
	DefaultRefreshBuffer      = 300 * time.Second
	DefaultMinRefreshInterval = 10 * time.Second
	DefaultOAuthTimeout       = 10 * time.Second
	DefaultInventoryCacheTTL  = 60 * time.Second
)

var defaultScopes = []string{
	"ZohoInventory.warehouses.READ",
	"ZohoInventory.items.READ",
	"ZohoInventory.packages.ALL",
	"ZohoInventory.purchasereceives.ALL",
	"ZohoInventory.settings.READ",
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Server, error) {
	env := envReader{lookup: lookup}

	environment := env.str("APP_ENV", "development")
	cfg := Server{
		Addr:         env.str("APP_ADDR", ":3000"),
		Environment:  environment,
		BaseURL:      env.str("APP_BASE_URL", "http://localhost:3000"),
		CookieSecure: env.boolean("COOKIE_SECURE", environment == "production"),
		Redis:        readRedis(&env, environment),
		OAuth: OAuthConfig{
			ClientID:       env.str("ZOHO_CLIENT_ID", ""),
			ClientSecret:   env.str("ZOHO_CLIENT_SECRET", ""),
			RedirectURI:    env.str("ZOHO_REDIRECT_URI", "http://localhost:3000/auth/callback"),
			AccountsURL:    env.str("ZOHO_ACCOUNTS_URL", "https://accounts.zoho.com"),
			APIURL:         env.str("ZOHO_API_URL", "https://www.zohoapis.com/inventory/v1"),
			OrganizationID: env.str("ZOHO_ORGANIZATION_ID", ""),
			Scopes:         env.list("ZOHO_SCOPES", defaultScopes),
			Timeout:        env.duration("OAUTH_TIMEOUT", DefaultOAuthTimeout),
		},
		Session:           readSession(&env),
		InventoryCacheTTL: env.duration("INVENTORY_CACHE_TTL", DefaultInventoryCacheTTL),
	}
	if env.err != nil {
		return Server{}, env.err
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Tooling is the subset of configuration operational commands need.
type Tooling struct {
	Environment string `validate:"required,oneof=development staging production"`
	Redis       RedisConfig
	Session     SessionConfig
}

// ToolingFromEnv reads only the Redis and session settings, so operators can
// run maintenance commands without vendor credentials.
func ToolingFromEnv() (Tooling, error) {
	return toolingFromLookup(os.LookupEnv)
}

func toolingFromLookup(lookup func(string) (string, bool)) (Tooling, error) {
	env := envReader{lookup: lookup}
	environment := env.str("APP_ENV", "development")
	cfg := Tooling{
		Environment: environment,
		Redis:       readRedis(&env, environment),
		Session:     readSession(&env),
	}
	if env.err != nil {
		return Tooling{}, env.err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Tooling{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func readRedis(env *envReader, environment string) RedisConfig {
	return RedisConfig{
		URL:          env.str("REDIS_URL", "redis://localhost:6379/0"),
		KeyPrefix:    env.str("CACHE_KEY_PREFIX", environment),
		PoolSize:     env.integer("REDIS_POOL_SIZE", 10),
		MinIdleConns: env.integer("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  env.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  env.duration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: env.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

func readSession(env *envReader) SessionConfig {
	return SessionConfig{
		TTL:                env.duration("SESSION_TTL", DefaultSessionTTL),
		RefreshBuffer:      env.duration("REFRESH_BUFFER", DefaultRefreshBuffer),
		MinRefreshInterval: env.duration("MIN_REFRESH_INTERVAL", DefaultMinRefreshInterval),
	}
}

// Validate checks struct constraints.
func (s Server) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// envReader records the first parse failure so FromEnv can report it once.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *envReader) boolean(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *envReader) integer(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

// duration accepts Go duration strings ("90s") or a bare number of seconds.
func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *envReader) list(key string, def []string) []string {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("parse %s: %w", key, err)
	}
}
