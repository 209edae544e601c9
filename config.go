package goHook

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/goHook/hooks"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override read by LoadConfig.
const EnvPrefix = "GOHOOK_"

// Config is the full engine configuration.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Nonce    NonceConfig    `yaml:"nonce" envPrefix:"NONCE_"`
	Hooks    HooksConfig    `yaml:"hooks" envPrefix:"HOOKS_"`
	Security SecurityConfig `yaml:"security" envPrefix:"SECURITY_"`
	Audit    AuditConfig    `yaml:"audit" envPrefix:"AUDIT_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
}

/*
====================================
NONCE CONFIG
====================================
*/

// NonceConfig controls token lifetime, storage and signing.
type NonceConfig struct {
	DefaultTTL    time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	Retention     time.Duration `yaml:"retention" env:"RETENTION"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	RedisPrefix   string        `yaml:"redis_prefix" env:"REDIS_PREFIX"`
	// Secret keys the hash of token ids in Redis keys.
	Secret string `yaml:"secret" env:"SECRET"`
	// SigningMethod is "" (opaque values), "hs256" or "ed25519".
	SigningMethod string `yaml:"signing_method" env:"SIGNING_METHOD"`
	// SigningKey is the HMAC secret or the Ed25519 private key (PEM).
	SigningKey string `yaml:"signing_key" env:"SIGNING_KEY"`
	// VerifyKey is the Ed25519 public key (PEM).
	VerifyKey string `yaml:"verify_key" env:"VERIFY_KEY"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
}

/*
====================================
HOOKS CONFIG
====================================
*/

// HooksConfig sets registry-wide subscription defaults.
type HooksConfig struct {
	DefaultPriority     int `yaml:"default_priority" env:"DEFAULT_PRIORITY"`
	DefaultAcceptedArgs int `yaml:"default_accepted_args" env:"DEFAULT_ACCEPTED_ARGS"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls the per-client verification failure throttle.
// The throttle needs Redis and is ignored without it.
type SecurityConfig struct {
	EnableVerifyThrottle bool          `yaml:"enable_verify_throttle" env:"ENABLE_VERIFY_THROTTLE"`
	MaxVerifyFailures    int           `yaml:"max_verify_failures" env:"MAX_VERIFY_FAILURES"`
	VerifyCooldown       time.Duration `yaml:"verify_cooldown" env:"VERIFY_COOLDOWN"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled" env:"ENABLED"`
	BufferSize int  `yaml:"buffer_size" env:"BUFFER_SIZE"`
	DropIfFull bool `yaml:"drop_if_full" env:"DROP_IF_FULL"`
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled" env:"ENABLED"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms" env:"ENABLE_LATENCY_HISTOGRAMS"`
}

// DefaultConfig returns the configuration used by New.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Nonce: NonceConfig{
			DefaultTTL:    12 * time.Hour,
			Retention:     time.Hour,
			SweepInterval: 5 * time.Minute,
			RedisPrefix:   "hn",
		},
		Hooks: HooksConfig{
			DefaultPriority:     hooks.DefaultPriority,
			DefaultAcceptedArgs: hooks.DefaultAcceptedArgs,
		},
		Security: SecurityConfig{
			EnableVerifyThrottle: true,
			MaxVerifyFailures:    20,
			VerifyCooldown:       5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

// Config only holds value fields, so a plain copy is a deep copy.
func cloneConfig(cfg Config) Config {
	return cfg
}

// LoadConfig starts from the defaults, overlays the YAML file at path (when
// path is non-empty) and then GOHOOK_* environment variables, and validates
// the result.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse config env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg for inconsistent or unsafe settings.
func (c *Config) Validate() error {
	// Nonce
	if c.Nonce.DefaultTTL <= 0 {
		return errors.New("Nonce DefaultTTL must be > 0")
	}
	if c.Nonce.Retention < 0 {
		return errors.New("Nonce Retention must be >= 0")
	}
	if c.Nonce.SweepInterval < 0 {
		return errors.New("Nonce SweepInterval must be >= 0")
	}
	if strings.TrimSpace(c.Nonce.RedisPrefix) == "" {
		return errors.New("Nonce RedisPrefix must not be empty")
	}
	if len(c.Nonce.Secret) > 64 {
		return errors.New("Nonce Secret must be at most 64 bytes")
	}
	switch strings.ToLower(c.Nonce.SigningMethod) {
	case "":
		// opaque values
	case "hs256":
		if len(c.Nonce.SigningKey) < 32 {
			return errors.New("Nonce hs256 SigningKey must be at least 256 bits")
		}
	case "ed25519":
		if c.Nonce.SigningKey == "" || c.Nonce.VerifyKey == "" {
			return errors.New("Nonce ed25519 requires SigningKey and VerifyKey")
		}
	default:
		return errors.New("Nonce SigningMethod must be empty, hs256, or ed25519")
	}

	// Hooks
	if c.Hooks.DefaultAcceptedArgs < 0 {
		return errors.New("Hooks DefaultAcceptedArgs must be >= 0")
	}

	// Security
	if c.Security.EnableVerifyThrottle {
		if c.Security.MaxVerifyFailures <= 0 {
			return errors.New("Security MaxVerifyFailures must be > 0 when verify throttle is enabled")
		}
		if c.Security.VerifyCooldown <= 0 {
			return errors.New("Security VerifyCooldown must be > 0 when verify throttle is enabled")
		}
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
	}

	return nil
}
