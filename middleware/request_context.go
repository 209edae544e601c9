package middleware

import (
	"net"
	"net/http"
	"strings"

	goHook "github.com/MrEthical07/goHook"
	"github.com/google/uuid"
)

// RequestIDHeader is echoed on responses and reused when the client sends one.
const RequestIDHeader = "X-Request-ID"

// RequestContext attaches the client IP and a request id to the request
// context so that nonce throttling and audit events can use them.
//
// When trustForwarded is set the first X-Forwarded-For entry is used as the
// client IP; only enable it behind a proxy that overwrites the header.
func RequestContext(trustForwarded bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := goHook.WithRequestID(r.Context(), id)
			ctx = goHook.WithClientIP(ctx, clientIP(r, trustForwarded))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
