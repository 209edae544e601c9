package goHook

import (
	"context"
	"errors"

	"github.com/MrEthical07/goHook/hooks"
	"github.com/MrEthical07/goHook/nonce"
	"github.com/google/uuid"
)

const (
	auditEventNonceIssued         = "nonce_issued"
	auditEventNonceIssueFailure   = "nonce_issue_failure"
	auditEventNonceVerified       = "nonce_verified"
	auditEventNonceRejected       = "nonce_rejected"
	auditEventNonceRateLimited    = "nonce_rate_limited"
	auditEventNonceBackendFailure = "nonce_backend_failure"
	auditEventHookCallbackFailed  = "hook_callback_failed"
	auditEventHookFilterAborted   = "hook_filter_aborted"
)

// AuditErrorCode is the coarse error classification written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrRateLimited     AuditErrorCode = "rate_limited"
	auditErrInvalidPurpose  AuditErrorCode = "invalid_purpose"
	auditErrCallbackFailure AuditErrorCode = "callback_failure"
	auditErrCallbackPanic   AuditErrorCode = "callback_panic"
	auditErrUnavailable     AuditErrorCode = "backend_unavailable"
	auditErrInternal        AuditErrorCode = "internal_error"
)

type auditFields struct {
	purpose string
	channel string
	result  string
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	fields auditFields,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		Purpose:   fields.purpose,
		Channel:   fields.channel,
		Result:    fields.result,
		IP:        ClientIPFromContext(ctx),
		RequestID: RequestIDFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	var cerr *hooks.CallbackError
	switch {
	case errors.As(err, &cerr):
		if cerr.Panicked() {
			return auditErrCallbackPanic
		}
		return auditErrCallbackFailure
	case errors.Is(err, ErrNonceRateLimited):
		return auditErrRateLimited
	case errors.Is(err, nonce.ErrInvalidPurpose):
		return auditErrInvalidPurpose
	case errors.Is(err, ErrNonceUnavailable),
		errors.Is(err, nonce.ErrSourceUnavailable),
		errors.Is(err, nonce.ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
