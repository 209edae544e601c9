package goHook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goHook/hooks"
	"github.com/MrEthical07/goHook/internal/rate"
	"github.com/MrEthical07/goHook/nonce"
	"github.com/rs/zerolog"
)

// Engine ties a hook registry and a nonce authority to the shared logging,
// metrics, audit and throttling infrastructure.
//
// Engine methods are safe for concurrent use after Build.
type Engine struct {
	config  Config
	logger  zerolog.Logger
	clock   nonce.Clock
	hooks   *hooks.Registry
	nonces  *nonce.Authority
	limiter *rate.Limiter
	audit   *auditDispatcher
	metrics *Metrics

	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
	sweepWG     sync.WaitGroup
}

// Hooks returns the registry for direct subscription.
func (e *Engine) Hooks() *hooks.Registry {
	if e == nil {
		return nil
	}
	return e.hooks
}

// Nonces returns the underlying authority. Calls made through it bypass
// metrics, audit and throttling.
func (e *Engine) Nonces() *nonce.Authority {
	if e == nil {
		return nil
	}
	return e.nonces
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// Close stops the sweeper and flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.StopSweeper()
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

/*
====================================
HOOKS
====================================
*/

// Do dispatches the action channel name. Callback failures are logged,
// counted and audited; only a kind mismatch is returned.
func (e *Engine) Do(ctx context.Context, name string, args ...any) error {
	if e == nil || e.hooks == nil {
		return ErrEngineNotReady
	}
	e.metricInc(MetricHookDispatch)
	defer e.observe(MetricHookDispatchLatency, time.Now())

	return e.hooks.Dispatch(ctx, name, args...)
}

// Apply runs the filter channel name over seed. A failing filter aborts the
// chain and is returned as *hooks.CallbackError.
func (e *Engine) Apply(ctx context.Context, name string, seed any, args ...any) (any, error) {
	if e == nil || e.hooks == nil {
		return nil, ErrEngineNotReady
	}
	e.metricInc(MetricHookApply)
	defer e.observe(MetricHookApplyLatency, time.Now())

	value, err := e.hooks.Apply(ctx, name, seed, args...)
	if err != nil && errors.Is(err, hooks.ErrCallbackFailure) {
		e.metricInc(MetricHookFilterAborted)
		e.logger.Warn().Str("channel", name).Err(err).Msg("filter chain aborted")
		e.emitAudit(ctx, auditEventHookFilterAborted, false, auditFields{channel: name}, err, nil)
	}
	return value, err
}

// callbackFailed is installed as a registry ErrorSink.
func (e *Engine) callbackFailed(ctx context.Context, cerr *hooks.CallbackError) {
	if cerr.Panicked() {
		e.metricInc(MetricHookCallbackPanic)
	} else {
		e.metricInc(MetricHookCallbackFailure)
	}
	e.emitAudit(ctx, auditEventHookCallbackFailed, false, auditFields{channel: cerr.Channel}, cerr, func() map[string]string {
		return map[string]string{"priority": fmt.Sprint(cerr.Priority)}
	})
}

/*
====================================
NONCES
====================================
*/

// IssueNonce issues a token for purpose with the configured default TTL.
func (e *Engine) IssueNonce(ctx context.Context, purpose string) (nonce.Token, error) {
	return e.IssueNonceTTL(ctx, purpose, 0)
}

// IssueNonceTTL issues a token for purpose valid for ttl (default TTL when
// ttl <= 0). Entropy and store failures are wrapped in ErrNonceUnavailable.
func (e *Engine) IssueNonceTTL(ctx context.Context, purpose string, ttl time.Duration) (nonce.Token, error) {
	if e == nil || e.nonces == nil {
		return nonce.Token{}, ErrEngineNotReady
	}

	tok, err := e.nonces.Issue(ctx, purpose, ttl)
	if err != nil {
		e.metricInc(MetricNonceIssueFailure)
		if errors.Is(err, nonce.ErrSourceUnavailable) || errors.Is(err, nonce.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", ErrNonceUnavailable, err)
		}
		e.logger.Error().Str("purpose", purpose).Err(err).Msg("nonce issue failed")
		e.emitAudit(ctx, auditEventNonceIssueFailure, false, auditFields{purpose: purpose}, err, nil)
		return nonce.Token{}, err
	}

	e.metricInc(MetricNonceIssued)
	e.emitAudit(ctx, auditEventNonceIssued, true, auditFields{purpose: purpose}, nil, func() map[string]string {
		return map[string]string{"expires_at": tok.ExpiresAt.UTC().Format(time.RFC3339)}
	})
	return tok, nil
}

// VerifyNonce checks value for purpose and consumes it when valid.
//
// The error is non-nil only when the client is throttled
// (ErrNonceRateLimited) or the store failed (ErrNonceUnavailable); ordinary
// rejections are reported through the Result.
func (e *Engine) VerifyNonce(ctx context.Context, value, purpose string) (nonce.Result, error) {
	if e == nil || e.nonces == nil {
		return nonce.NotFound, ErrEngineNotReady
	}
	defer e.observe(MetricNonceVerifyLatency, time.Now())

	client := ClientIPFromContext(ctx)
	fields := auditFields{purpose: purpose}

	if e.limiter != nil {
		if err := e.limiter.CheckVerify(ctx, client); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricNonceRateLimited)
				e.emitAudit(ctx, auditEventNonceRateLimited, false, fields, ErrNonceRateLimited, nil)
				return nonce.NotFound, ErrNonceRateLimited
			}
			// The throttle is advisory; verification still decides.
			e.logger.Warn().Err(err).Msg("verify throttle unavailable")
		}
	}

	res, err := e.nonces.Verify(ctx, value, purpose)
	if err != nil {
		e.metricInc(MetricNonceBackendError)
		err = fmt.Errorf("%w: %v", ErrNonceUnavailable, err)
		e.logger.Error().Str("purpose", purpose).Err(err).Msg("nonce verify failed")
		e.emitAudit(ctx, auditEventNonceBackendFailure, false, fields, err, nil)
		return nonce.NotFound, err
	}

	fields.result = res.String()
	e.metricInc(resultMetric(res))

	if res.OK() {
		e.emitAudit(ctx, auditEventNonceVerified, true, fields, nil, nil)
		return res, nil
	}

	e.logger.Debug().Str("purpose", purpose).Str("result", res.String()).Msg("nonce rejected")
	e.emitAudit(ctx, auditEventNonceRejected, false, fields, nil, nil)
	if e.limiter != nil {
		if err := e.limiter.IncrementVerify(ctx, client); err != nil && !errors.Is(err, rate.ErrRateLimited) {
			e.logger.Warn().Err(err).Msg("verify throttle unavailable")
		}
	}
	return res, nil
}

// CheckNonce is VerifyNonce collapsed to an error: nil when the token was
// accepted, ErrNonceRejected for every rejection (throttling included), and
// ErrNonceUnavailable when the store failed.
func (e *Engine) CheckNonce(ctx context.Context, value, purpose string) error {
	res, err := e.VerifyNonce(ctx, value, purpose)
	if err != nil {
		if errors.Is(err, ErrNonceRateLimited) {
			return ErrNonceRejected
		}
		return err
	}
	if !res.OK() {
		return ErrNonceRejected
	}
	return nil
}

func resultMetric(res nonce.Result) MetricID {
	switch res {
	case nonce.Valid:
		return MetricNonceValid
	case nonce.WrongPurpose:
		return MetricNonceWrongPurpose
	case nonce.AlreadyConsumed:
		return MetricNonceReplay
	case nonce.Expired:
		return MetricNonceExpired
	default:
		return MetricNonceNotFound
	}
}

// SweepNonces reclaims expired records now.
func (e *Engine) SweepNonces(ctx context.Context) (int, error) {
	if e == nil || e.nonces == nil {
		return 0, ErrEngineNotReady
	}
	removed, err := e.nonces.Sweep(ctx, e.clock.Now())
	e.sweepObserved(removed, err)
	return removed, err
}

func (e *Engine) sweepObserved(removed int, err error) {
	if err != nil {
		return
	}
	if removed > 0 && e.metrics != nil {
		e.metrics.Add(MetricNonceSwept, uint64(removed))
	}
}

// StartSweeper runs the nonce janitor every Nonce.SweepInterval until ctx is
// done or the engine is closed. It is a no-op when the interval is zero or a
// sweeper is already running.
func (e *Engine) StartSweeper(ctx context.Context) {
	if e == nil || e.nonces == nil || e.config.Nonce.SweepInterval <= 0 {
		return
	}

	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()
	if e.sweepCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	e.sweepCancel = cancel
	e.sweepWG.Add(1)
	go func() {
		defer e.sweepWG.Done()
		_ = e.nonces.RunSweeper(ctx, e.config.Nonce.SweepInterval)
	}()
}

// StopSweeper stops a sweeper started by StartSweeper and waits for it.
func (e *Engine) StopSweeper() {
	if e == nil {
		return
	}
	e.sweepMu.Lock()
	cancel := e.sweepCancel
	e.sweepCancel = nil
	e.sweepMu.Unlock()

	if cancel != nil {
		cancel()
		e.sweepWG.Wait()
	}
}
