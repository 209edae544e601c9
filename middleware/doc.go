// Package middleware exposes net/http adapters for goHook.Engine.
//
// # Adapters
//
//   - [RequireNonce] / [RequireNonceFor]: admit a request only with a valid
//     token for the expected purpose.
//   - [ActionRouter]: admin-post style handler that dispatches an action
//     channel named by the "action" parameter.
//   - [RequestContext]: attaches client IP and request id for throttling
//     and audit.
//
// # What this package must NOT do
//
//   - Tell clients why a token was rejected; every rejection is the same 403.
//   - Access Redis (Engine handles I/O).
package middleware
