package goHook

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MrEthical07/goHook/hooks"
	"github.com/MrEthical07/goHook/internal/rate"
	"github.com/MrEthical07/goHook/jwt"
	"github.com/MrEthical07/goHook/nonce"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  nonce.Store

	logger    zerolog.Logger
	auditSink AuditSink
	errorSink hooks.ErrorSink
	clock     nonce.Clock
	entropy   io.Reader

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
		logger: zerolog.Nop(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis selects the Redis token store and enables the verification
// failure throttle.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithNonceStore overrides the token store chosen by Build.
func (b *Builder) WithNonceStore(store nonce.Store) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithErrorSink adds a sink for action callback failures. Failures are always
// logged and counted; sink receives them in addition.
func (b *Builder) WithErrorSink(sink hooks.ErrorSink) *Builder {
	b.errorSink = sink
	return b
}

func (b *Builder) WithClock(clock nonce.Clock) *Builder {
	b.clock = clock
	return b
}

// WithEntropy replaces crypto/rand as the token id source.
func (b *Builder) WithEntropy(r io.Reader) *Builder {
	b.entropy = r
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = nonce.SystemClock{}
	}

	engine := &Engine{
		config:  cfg,
		logger:  b.logger,
		clock:   clock,
		metrics: NewMetrics(cfg.Metrics),
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink),
	}

	// -------- HOOK REGISTRY --------
	sinks := hooks.MultiSink{
		hooks.NewLogSink(b.logger),
		hooks.SinkFunc(engine.callbackFailed),
	}
	if b.errorSink != nil {
		sinks = append(sinks, b.errorSink)
	}
	engine.hooks = hooks.NewRegistry(
		hooks.WithErrorSink(sinks),
		hooks.WithDefaultPriority(cfg.Hooks.DefaultPriority),
		hooks.WithDefaultAcceptedArgs(cfg.Hooks.DefaultAcceptedArgs),
	)

	// -------- NONCE STORE --------
	store := b.store
	if store == nil {
		if b.redis != nil {
			rs, err := nonce.NewRedisStore(b.redis, nonce.RedisConfig{
				Prefix:    cfg.Nonce.RedisPrefix,
				Secret:    []byte(cfg.Nonce.Secret),
				Retention: cfg.Nonce.Retention,
			})
			if err != nil {
				return nil, err
			}
			store = rs
		} else {
			store = nonce.NewMemoryStore()
		}
	}

	opts := []nonce.Option{
		nonce.WithClock(clock),
		nonce.WithEntropy(b.entropy),
		nonce.WithDefaultTTL(cfg.Nonce.DefaultTTL),
		nonce.WithLogger(b.logger),
		nonce.WithSweepObserver(engine.sweepObserved),
	}

	if method := strings.ToLower(cfg.Nonce.SigningMethod); method != "" {
		jm, err := jwt.NewManager(jwt.Config{
			SigningMethod: jwt.SigningMethod(method),
			PrivateKey:    []byte(cfg.Nonce.SigningKey),
			PublicKey:     []byte(cfg.Nonce.VerifyKey),
			Issuer:        cfg.Nonce.Issuer,
		})
		if err != nil {
			return nil, fmt.Errorf("nonce signing: %w", err)
		}
		opts = append(opts, nonce.WithCodec(jm))
	}

	engine.nonces = nonce.NewAuthority(store, opts...)

	// -------- VERIFY THROTTLE --------
	if b.redis != nil && cfg.Security.EnableVerifyThrottle {
		engine.limiter = rate.New(b.redis, rate.Config{
			Enabled:     true,
			MaxFailures: cfg.Security.MaxVerifyFailures,
			Cooldown:    cfg.Security.VerifyCooldown,
		})
	}

	b.built = true

	return engine, nil
}
