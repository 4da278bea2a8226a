package tgmux

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/tgmux/tgmux/audit"
	"github.com/tgmux/tgmux/mtproto"
	"github.com/tgmux/tgmux/pool"
	"github.com/tgmux/tgmux/session"
	"github.com/tgmux/tgmux/token"
)

// Builder assembles a [Gateway]. Construction is allocation-only; no I/O
// happens until the first operation on the built gateway.
type Builder struct {
	config  Config
	redis   redis.UniversalClient
	factory mtproto.Factory
	sink    AuditSink
	tokens  *token.Manager

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the builder's configuration with a clone of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the key-value client backing the session store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithClientFactory sets the dialer for new network connections. Each
// client it produces is wrapped with the configured retry policy.
func (b *Builder) WithClientFactory(factory mtproto.Factory) *Builder {
	b.factory = factory
	return b
}

// WithAuditSink sets the destination for audit events. Events are only
// emitted when Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithTokenManager overrides the token manager built from Config.Token,
// for callers that share signing material across services.
func (b *Builder) WithTokenManager(m *token.Manager) *Builder {
	b.tokens = m
	return b
}

// WithMetricsEnabled toggles the in-process metrics block.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the acquire-latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and dependencies and wires the gateway.
// A Builder can build at most once.
func (b *Builder) Build() (*Gateway, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.factory == nil {
		return nil, errors.New("client factory required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// -------- SESSION STORE --------
	codec, err := session.NewCodec(cfg.Crypto.EncryptionKey)
	if err != nil {
		return nil, err
	}
	store := session.NewStore(b.redis, codec, cfg.Session.RedisPrefix)

	// -------- CONNECTION POOL --------
	// Every dialed client goes through the retry decorator so the pool and
	// the gateway see one uniform failure surface.
	inner := b.factory
	retry := mtproto.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	factory := mtproto.Factory(func(ctx context.Context) (mtproto.Client, error) {
		client, err := inner(ctx)
		if err != nil {
			return nil, err
		}
		return mtproto.NewReliable(client, retry), nil
	})

	connPool, err := pool.New(pool.Config{
		MinSize:             cfg.Pool.MinSize,
		MaxSize:             cfg.Pool.MaxSize,
		AcquireTimeout:      cfg.Pool.AcquireTimeout,
		IdleTimeout:         cfg.Pool.IdleTimeout,
		MaintenanceInterval: cfg.Pool.MaintenanceInterval,
	}, factory)
	if err != nil {
		return nil, err
	}

	// -------- TOKEN MANAGER --------
	tokens := b.tokens
	if tokens == nil && cfg.Token.Enabled {
		tokens, err = token.NewManager(token.Config{
			AccessTTL:     cfg.Token.AccessTTL,
			SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Token.SigningKey),
			PublicKey:     cloneBytes(cfg.Token.VerifyKey),
			Issuer:        cfg.Token.Issuer,
			Audience:      cfg.Token.Audience,
			Leeway:        cfg.Token.Leeway,
		})
		if err != nil {
			return nil, err
		}
	}

	g := &Gateway{
		config:  cfg,
		store:   store,
		pool:    connPool,
		tokens:  tokens,
		metrics: NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.sink),
	}

	b.built = true

	return g, nil
}
