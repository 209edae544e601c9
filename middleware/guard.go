package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goHook "github.com/MrEthical07/goHook"
)

const (
	// DefaultHeader carries the token on AJAX and API requests.
	DefaultHeader = "X-Nonce"
	// DefaultQueryParam carries the token on action links.
	DefaultQueryParam = "nonce"
	// DefaultFormField carries the token in submitted forms.
	DefaultFormField = "_nonce"
)

type noncePurposeContextKey struct{}

// NonceFromContext returns the purpose of the token accepted for this
// request.
func NonceFromContext(ctx context.Context) (string, bool) {
	purpose, ok := ctx.Value(noncePurposeContextKey{}).(string)
	return purpose, ok
}

type guardConfig struct {
	header     string
	queryParam string
	formField  string
}

// Option configures where RequireNonce looks for the token.
type Option func(*guardConfig)

// WithHeader changes the request header name. An empty name disables it.
func WithHeader(name string) Option {
	return func(c *guardConfig) { c.header = name }
}

// WithQueryParam changes the query parameter name. An empty name disables it.
func WithQueryParam(name string) Option {
	return func(c *guardConfig) { c.queryParam = name }
}

// WithFormField changes the form field name. An empty name disables it.
func WithFormField(name string) Option {
	return func(c *guardConfig) { c.formField = name }
}

func newGuardConfig(opts []Option) guardConfig {
	cfg := guardConfig{
		header:     DefaultHeader,
		queryParam: DefaultQueryParam,
		formField:  DefaultFormField,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// RequireNonce admits a request only when it carries an unconsumed token
// issued for purpose. Every rejection gets the same 403 response.
func RequireNonce(engine *goHook.Engine, purpose string, opts ...Option) func(http.Handler) http.Handler {
	return RequireNonceFor(engine, func(*http.Request) string { return purpose }, opts...)
}

// RequireNonceFor is RequireNonce with a purpose computed per request, for
// purposes that embed an object id such as "delete-post_42".
func RequireNonceFor(engine *goHook.Engine, purposeOf func(*http.Request) string, opts ...Option) func(http.Handler) http.Handler {
	cfg := newGuardConfig(opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil || purposeOf == nil {
				deny(w)
				return
			}

			purpose := purposeOf(r)
			value, ok := cfg.extract(r)
			if !ok || purpose == "" {
				deny(w)
				return
			}

			if err := engine.CheckNonce(r.Context(), value, purpose); err != nil {
				if !errors.Is(err, goHook.ErrNonceRejected) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				deny(w)
				return
			}

			ctx := context.WithValue(r.Context(), noncePurposeContextKey{}, purpose)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (c guardConfig) extract(r *http.Request) (string, bool) {
	if c.header != "" {
		if v := strings.TrimSpace(r.Header.Get(c.header)); v != "" {
			return v, true
		}
	}
	if c.queryParam != "" {
		if v := r.URL.Query().Get(c.queryParam); v != "" {
			return v, true
		}
	}
	if c.formField != "" && r.Method != http.MethodGet && r.Method != http.MethodHead {
		if v := r.PostFormValue(c.formField); v != "" {
			return v, true
		}
	}
	return "", false
}

func deny(w http.ResponseWriter) {
	http.Error(w, "request denied", http.StatusForbidden)
}
