package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/relife-labs/authcore/internal/audit"
	"github.com/relife-labs/authcore/internal/rate"
	"github.com/relife-labs/authcore/oauth"
	"github.com/relife-labs/authcore/password"
	"github.com/relife-labs/authcore/session"
	"github.com/relife-labs/authcore/token"
)

// Builder assembles a [Coordinator]. A zero builder starts from
// [DefaultConfig]; each With method overrides one dependency. Build may be
// called once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	creds     CredentialSource
	binder    IdentityBinder
	providers []oauth.Provider
	auditSink AuditSink

	built bool
}

// New returns a [Builder] seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the entire configuration tree.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions and throttles. The client
// stays owned by the caller.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialSource wires the caller's user database for local login.
func (b *Builder) WithCredentialSource(src CredentialSource) *Builder {
	b.creds = src
	return b
}

// WithIdentityBinder wires the mapping from external OAuth2 identities to
// local ones. Required when any provider is registered.
func (b *Builder) WithIdentityBinder(binder IdentityBinder) *Builder {
	b.binder = binder
	return b
}

// WithOAuthProvider registers an OAuth2 provider. May be called multiple
// times; duplicate names fail at Build.
func (b *Builder) WithOAuthProvider(p oauth.Provider) *Builder {
	b.providers = append(b.providers, p)
	return b
}

// WithAuditSink sets the destination for audit events. Without a sink the
// dispatcher stays disabled regardless of Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process metrics collection.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the Authenticate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, constructs all subsystems, and returns
// the [Coordinator].
func (b *Builder) Build() (*Coordinator, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(token.Config{
		SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	var exchanger *oauth.Exchanger
	if len(b.providers) > 0 {
		exchanger, err = oauth.NewExchanger(b.providers...)
		if err != nil {
			return nil, err
		}
		if b.binder == nil {
			return nil, ErrIdentityBinderRequired
		}
	}

	store := session.NewStore(
		b.redis,
		cfg.Session.RedisPrefix,
		cfg.Session.SlidingExpiration,
		cfg.Session.SlidingJitter > 0,
		cfg.Session.SlidingJitter,
	)

	coordinator := &Coordinator{
		config:    cfg,
		codec:     codec,
		store:     store,
		hasher:    hasher,
		creds:     b.creds,
		binder:    b.binder,
		exchanger: exchanger,
		limiter: rate.New(b.redis, rate.Config{
			EnableIPThrottle:      cfg.Security.EnableIPThrottle,
			EnableRefreshThrottle: cfg.Security.EnableRefreshThrottle,
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldown:         cfg.Security.LoginCooldown,
			MaxRefreshAttempts:    cfg.Security.MaxRefreshAttempts,
			RefreshCooldown:       cfg.Security.RefreshCooldown,
		}),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled && b.auditSink != nil,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
	}

	b.built = true

	return coordinator, nil
}
