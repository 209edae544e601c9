package nonce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/goHook/internal"
	"github.com/rs/zerolog"
)

// DefaultTTL applies when neither Issue nor WithDefaultTTL specify one.
const DefaultTTL = 12 * time.Hour

// Token is what Issue hands back to the host for embedding in a form, link
// or header. Only Value leaves the server.
type Token struct {
	Value     string
	Purpose   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Authority issues and verifies tokens against a Store.
type Authority struct {
	store      Store
	clock      Clock
	entropy    io.Reader
	codec      Codec
	defaultTTL time.Duration
	logger     zerolog.Logger
	onSweep    func(removed int, err error)
}

// Option configures an Authority.
type Option func(*Authority)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(a *Authority) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithEntropy replaces crypto/rand as the source of token ids.
func WithEntropy(r io.Reader) Option {
	return func(a *Authority) {
		a.entropy = r
	}
}

// WithCodec replaces the opaque base64url encoding of token values.
func WithCodec(c Codec) Option {
	return func(a *Authority) {
		if c != nil {
			a.codec = c
		}
	}
}

// WithDefaultTTL sets the TTL used when Issue is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(a *Authority) {
		if ttl > 0 {
			a.defaultTTL = ttl
		}
	}
}

// WithLogger sets the logger used by the sweeper.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Authority) {
		a.logger = l
	}
}

// WithSweepObserver registers fn to be called after every sweep made by
// RunSweeper.
func WithSweepObserver(fn func(removed int, err error)) Option {
	return func(a *Authority) {
		a.onSweep = fn
	}
}

// NewAuthority creates an Authority over store. A nil store selects a fresh
// MemoryStore.
func NewAuthority(store Store, opts ...Option) *Authority {
	if store == nil {
		store = NewMemoryStore()
	}
	a := &Authority{
		store:      store,
		clock:      SystemClock{},
		codec:      opaqueCodec{},
		defaultTTL: DefaultTTL,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Store returns the backing store.
func (a *Authority) Store() Store {
	return a.store
}

// Issue creates a token for purpose, valid for ttl (the default TTL when
// ttl <= 0). It fails with ErrSourceUnavailable when the entropy source
// cannot be read.
func (a *Authority) Issue(ctx context.Context, purpose string, ttl time.Duration) (Token, error) {
	if purpose == "" {
		return Token{}, ErrInvalidPurpose
	}
	if ttl <= 0 {
		ttl = a.defaultTTL
	}

	id, err := internal.NewNonceID(a.entropy)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	now := a.clock.Now()
	rec := Record{
		ID:        id.String(),
		Purpose:   purpose,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	value, err := a.codec.Encode(rec)
	if err != nil {
		return Token{}, fmt.Errorf("encode nonce: %w", err)
	}
	if err := a.store.Save(ctx, rec); err != nil {
		return Token{}, err
	}

	return Token{
		Value:     value,
		Purpose:   purpose,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// Verify accepts value for purpose at most once. Rejections are reported
// through the Result; the error is non-nil only when the store failed.
func (a *Authority) Verify(ctx context.Context, value, purpose string) (Result, error) {
	if value == "" {
		return NotFound, nil
	}
	id, err := a.codec.Decode(value)
	if err != nil {
		return NotFound, nil
	}
	return a.store.Consume(ctx, id, purpose, a.clock.Now())
}

// Sweep reclaims records that expired before now. Verification never depends
// on it.
func (a *Authority) Sweep(ctx context.Context, now time.Time) (int, error) {
	return a.store.Sweep(ctx, now)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (a *Authority) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("sweep interval must be > 0")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := a.Sweep(ctx, a.clock.Now())
			if a.onSweep != nil {
				a.onSweep(removed, err)
			}
			if err != nil {
				a.logger.Warn().Err(err).Msg("nonce sweep failed")
				continue
			}
			if removed > 0 {
				a.logger.Debug().Int("removed", removed).Msg("nonce sweep")
			}
		}
	}
}

func parseID(value string) (internal.NonceID, error) {
	return internal.ParseNonceID(value)
}
