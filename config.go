package authcore

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the immutable configuration tree consumed by [Builder.Build].
// Key material and TTLs are loaded once at startup and never mutated.
type Config struct {
	Token    TokenConfig
	Session  SessionConfig
	Password PasswordConfig
	Security SecurityConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// TokenConfig configures the token codec. SigningMethod is "ed25519"
// (default) or "hs256". For hs256, PrivateKey holds the shared secret; for
// ed25519, PrivateKey/PublicKey hold raw or PEM-encoded keys.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// SessionConfig configures the Redis-backed session store and session policy.
//
// AbsoluteLifetime caps a session regardless of activity. SlidingExpiration
// renews the store TTL on reads up to that cap; SlidingJitter randomizes each
// renewal by up to the given duration so a burst of sessions created together
// does not expire together. EnforceSingleSession revokes a subject's prior
// sessions on login; the default is multi-device.
type SessionConfig struct {
	RedisPrefix           string
	AbsoluteLifetime      time.Duration
	GuestLifetime         time.Duration
	SlidingExpiration     bool
	SlidingJitter         time.Duration
	MaxSessionsPerSubject int
	EnforceSingleSession  bool
}

// PasswordConfig holds the Argon2id cost parameters. Memory is in KB.
type PasswordConfig struct {
	Memory        uint32
	Time          uint32
	Parallelism   uint8
	SaltLength    uint32
	KeyLength     uint32
	RehashOnLogin bool
}

// SecurityConfig configures the login/refresh throttles. These counters are
// the hook point for account lockout policy.
type SecurityConfig struct {
	EnableLoginThrottle   bool
	EnableIPThrottle      bool
	EnableRefreshThrottle bool
	MaxLoginAttempts      int
	LoginCooldown         time.Duration
	MaxRefreshAttempts    int
	RefreshCooldown       time.Duration
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig configures in-process metrics collection.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the baseline configuration: 5m access tokens, 7d
// refresh/session lifetime, 30m guest sessions, Argon2id at 64 MB, throttles
// on, audit and metrics off.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     5 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:           "ac",
			AbsoluteLifetime:      7 * 24 * time.Hour,
			GuestLifetime:         30 * time.Minute,
			SlidingExpiration:     true,
			MaxSessionsPerSubject: 0,
			EnforceSingleSession:  false,
		},
		Password: PasswordConfig{
			Memory:        65536,
			Time:          3,
			Parallelism:   2,
			SaltLength:    16,
			KeyLength:     32,
			RehashOnLogin: true,
		},
		Security: SecurityConfig{
			EnableLoginThrottle:   true,
			EnableIPThrottle:      true,
			EnableRefreshThrottle: true,
			MaxLoginAttempts:      10,
			LoginCooldown:         15 * time.Minute,
			MaxRefreshAttempts:    30,
			RefreshCooldown:       time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// Validate checks the configuration for internally inconsistent or unsafe
// values. Build calls it; callers constructing a Config by hand may call it
// early for better error locality.
func (c Config) Validate() error {
	if c.Token.AccessTTL <= 0 {
		return errors.New("token: AccessTTL must be positive")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("token: RefreshTTL must be positive")
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		return errors.New("token: RefreshTTL must not be shorter than AccessTTL")
	}
	switch c.Token.SigningMethod {
	case "hs256", "ed25519":
	default:
		return fmt.Errorf("token: unsupported signing method %q", c.Token.SigningMethod)
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("token: Leeway must be between 0 and 2m")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("session: RedisPrefix must not be empty")
	}
	if c.Session.AbsoluteLifetime <= 0 {
		return errors.New("session: AbsoluteLifetime must be positive")
	}
	if c.Session.GuestLifetime <= 0 {
		return errors.New("session: GuestLifetime must be positive")
	}
	if c.Session.GuestLifetime > c.Session.AbsoluteLifetime {
		return errors.New("session: GuestLifetime must not exceed AbsoluteLifetime")
	}
	if c.Session.SlidingJitter < 0 {
		return errors.New("session: SlidingJitter must not be negative")
	}
	if c.Session.SlidingJitter >= c.Session.AbsoluteLifetime && c.Session.SlidingJitter > 0 {
		return errors.New("session: SlidingJitter must be shorter than AbsoluteLifetime")
	}
	if c.Session.MaxSessionsPerSubject < 0 {
		return errors.New("session: MaxSessionsPerSubject must not be negative")
	}
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 {
			return errors.New("security: MaxLoginAttempts must be positive when login throttling is enabled")
		}
		if c.Security.LoginCooldown <= 0 {
			return errors.New("security: LoginCooldown must be positive when login throttling is enabled")
		}
	}
	if c.Security.EnableRefreshThrottle {
		if c.Security.MaxRefreshAttempts <= 0 {
			return errors.New("security: MaxRefreshAttempts must be positive when refresh throttling is enabled")
		}
		if c.Security.RefreshCooldown <= 0 {
			return errors.New("security: RefreshCooldown must be positive when refresh throttling is enabled")
		}
	}
	return nil
}

type envConfig struct {
	AccessTTL            time.Duration `env:"AUTHCORE_ACCESS_TTL" envDefault:"5m"`
	RefreshTTL           time.Duration `env:"AUTHCORE_REFRESH_TTL" envDefault:"168h"`
	SigningMethod        string        `env:"AUTHCORE_SIGNING_METHOD" envDefault:"hs256"`
	SigningSecret        string        `env:"AUTHCORE_SIGNING_SECRET"`
	Issuer               string        `env:"AUTHCORE_ISSUER"`
	Audience             string        `env:"AUTHCORE_AUDIENCE"`
	RedisPrefix          string        `env:"AUTHCORE_REDIS_PREFIX" envDefault:"ac"`
	SessionLifetime      time.Duration `env:"AUTHCORE_SESSION_LIFETIME" envDefault:"168h"`
	GuestLifetime        time.Duration `env:"AUTHCORE_GUEST_LIFETIME" envDefault:"30m"`
	SlidingExpiration    bool          `env:"AUTHCORE_SLIDING_EXPIRATION" envDefault:"true"`
	SlidingJitter        time.Duration `env:"AUTHCORE_SLIDING_JITTER" envDefault:"0s"`
	MaxSessions          int           `env:"AUTHCORE_MAX_SESSIONS_PER_SUBJECT" envDefault:"0"`
	EnforceSingleSession bool          `env:"AUTHCORE_ENFORCE_SINGLE_SESSION" envDefault:"false"`
	AuditEnabled         bool          `env:"AUTHCORE_AUDIT_ENABLED" envDefault:"false"`
	MetricsEnabled       bool          `env:"AUTHCORE_METRICS_ENABLED" envDefault:"false"`
}

// ConfigFromEnv builds a Config from AUTHCORE_* environment variables on top
// of [DefaultConfig]. Only hs256 can be configured this way; asymmetric key
// material should be wired programmatically.
func ConfigFromEnv() (Config, error) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Token.AccessTTL = ec.AccessTTL
	cfg.Token.RefreshTTL = ec.RefreshTTL
	cfg.Token.SigningMethod = ec.SigningMethod
	cfg.Token.Issuer = ec.Issuer
	cfg.Token.Audience = ec.Audience
	if ec.SigningSecret != "" {
		cfg.Token.PrivateKey = []byte(ec.SigningSecret)
	}
	cfg.Session.RedisPrefix = ec.RedisPrefix
	cfg.Session.AbsoluteLifetime = ec.SessionLifetime
	cfg.Session.GuestLifetime = ec.GuestLifetime
	cfg.Session.SlidingExpiration = ec.SlidingExpiration
	cfg.Session.SlidingJitter = ec.SlidingJitter
	cfg.Session.MaxSessionsPerSubject = ec.MaxSessions
	cfg.Session.EnforceSingleSession = ec.EnforceSingleSession
	cfg.Audit.Enabled = ec.AuditEnabled
	cfg.Metrics.Enabled = ec.MetricsEnabled

	return cfg, cfg.Validate()
}

// LoadEnvFile loads a dotenv file into the process environment before
// [ConfigFromEnv] runs. A missing file is not an error; a file that exists
// but fails to parse is.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
