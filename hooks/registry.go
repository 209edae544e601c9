package hooks

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
)

type channel struct {
	kind Kind
	// subs is replaced on every mutation and never modified in place, so a
	// reader may keep iterating a slice it loaded earlier.
	subs []*subscription
}

// Registry holds the subscriptions of every channel. The zero value is not
// usable; construct with NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*channel
	seq      atomic.Uint64
	fired    sync.Map // name -> *atomic.Uint64

	sink                ErrorSink
	defaultPriority     int
	defaultAcceptedArgs int
}

// Option configures a Registry.
type Option func(*Registry)

// WithErrorSink sets where recovered action failures are reported.
func WithErrorSink(sink ErrorSink) Option {
	return func(r *Registry) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithDefaultPriority overrides DefaultPriority for this registry.
func WithDefaultPriority(p int) Option {
	return func(r *Registry) {
		r.defaultPriority = p
	}
}

// WithDefaultAcceptedArgs overrides DefaultAcceptedArgs for this registry.
func WithDefaultAcceptedArgs(n int) Option {
	return func(r *Registry) {
		r.defaultAcceptedArgs = n
	}
}

// NewRegistry creates an empty registry. Failures are dropped unless an
// ErrorSink is configured.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		channels:            make(map[string]*channel),
		sink:                NopSink{},
		defaultPriority:     DefaultPriority,
		defaultAcceptedArgs: DefaultAcceptedArgs,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SubscribeAction registers fn on the action channel name.
// The same function may be subscribed more than once; it then runs once per
// subscription.
func (r *Registry) SubscribeAction(name string, fn ActionFunc, opts ...SubscribeOption) (Handle, error) {
	if fn == nil {
		return Handle{}, ErrNilCallback
	}
	return r.subscribe(name, KindAction, &subscription{action: fn}, opts)
}

// SubscribeFilter registers fn on the filter channel name.
func (r *Registry) SubscribeFilter(name string, fn FilterFunc, opts ...SubscribeOption) (Handle, error) {
	if fn == nil {
		return Handle{}, ErrNilCallback
	}
	return r.subscribe(name, KindFilter, &subscription{filter: fn}, opts)
}

func (r *Registry) subscribe(name string, kind Kind, sub *subscription, opts []SubscribeOption) (Handle, error) {
	if name == "" {
		return Handle{}, ErrInvalidChannel
	}

	cfg := subscribeConfig{
		priority:     r.defaultPriority,
		acceptedArgs: r.defaultAcceptedArgs,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	sub.priority = cfg.priority
	sub.acceptedArgs = cfg.acceptedArgs

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		ch = &channel{kind: kind}
		r.channels[name] = ch
	} else if ch.kind != kind {
		return Handle{}, fmt.Errorf("%w: %q is registered as %s", ErrKindMismatch, name, ch.kind)
	}

	// Assigned under the lock so sequence order matches insertion order.
	sub.seq = r.seq.Add(1)

	pos := sort.Search(len(ch.subs), func(i int) bool {
		return sub.before(ch.subs[i])
	})
	next := make([]*subscription, len(ch.subs)+1)
	copy(next, ch.subs[:pos])
	next[pos] = sub
	copy(next[pos+1:], ch.subs[pos:])
	ch.subs = next

	return Handle{channel: name, seq: sub.seq}, nil
}

// Unsubscribe removes the subscription identified by h from channel name.
// It reports whether something was removed; a missing subscription is not an
// error. Invocations already running keep their snapshot.
func (r *Registry) Unsubscribe(name string, h Handle) bool {
	if h.seq == 0 || h.channel != name {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		return false
	}
	for i, s := range ch.subs {
		if s.seq != h.seq {
			continue
		}
		next := make([]*subscription, 0, len(ch.subs)-1)
		next = append(next, ch.subs[:i]...)
		next = append(next, ch.subs[i+1:]...)
		ch.subs = next
		return true
	}
	return false
}

// RemoveAll drops every subscription on name and returns how many were
// removed. The channel keeps its kind.
func (r *Registry) RemoveAll(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		return 0
	}
	n := len(ch.subs)
	ch.subs = nil
	return n
}

// Dispatch runs every action callback on name in priority order.
// Callback failures are reported to the ErrorSink and do not stop the chain.
// Dispatching an unknown channel is a no-op; dispatching a filter channel
// returns ErrKindMismatch.
func (r *Registry) Dispatch(ctx context.Context, name string, args ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.markFired(name)

	kind, subs, ok := r.snapshot(name)
	if !ok {
		return nil
	}
	if kind != KindAction {
		return fmt.Errorf("%w: %q is registered as %s", ErrKindMismatch, name, kind)
	}

	for _, s := range subs {
		if cerr := runAction(ctx, name, s, args); cerr != nil {
			r.report(ctx, cerr)
		}
	}
	return nil
}

// Apply folds seed through every filter callback on name in priority order
// and returns the last value. The first failing callback aborts the fold and
// its *CallbackError is returned. With no subscribers the seed is returned
// unchanged.
func (r *Registry) Apply(ctx context.Context, name string, seed any, args ...any) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	r.markFired(name)

	kind, subs, ok := r.snapshot(name)
	if !ok {
		return seed, nil
	}
	if kind != KindFilter {
		return nil, fmt.Errorf("%w: %q is registered as %s", ErrKindMismatch, name, kind)
	}

	value := seed
	for _, s := range subs {
		next, cerr := runFilter(ctx, name, s, value, args)
		if cerr != nil {
			return nil, cerr
		}
		value = next
	}
	return value, nil
}

func runAction(ctx context.Context, name string, s *subscription, args []any) (cerr *CallbackError) {
	defer func() {
		if p := recover(); p != nil {
			cerr = &CallbackError{
				Channel:  name,
				Kind:     KindAction,
				Priority: s.priority,
				Panic:    p,
				Stack:    debug.Stack(),
			}
		}
	}()

	if err := s.action(ctx, truncateArgs(args, s.acceptedArgs)...); err != nil {
		return &CallbackError{Channel: name, Kind: KindAction, Priority: s.priority, Err: err}
	}
	return nil
}

func runFilter(ctx context.Context, name string, s *subscription, value any, args []any) (out any, cerr *CallbackError) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			cerr = &CallbackError{
				Channel:  name,
				Kind:     KindFilter,
				Priority: s.priority,
				Panic:    p,
				Stack:    debug.Stack(),
			}
		}
	}()

	// The value itself counts as the first accepted argument.
	next, err := s.filter(ctx, value, truncateArgs(args, s.acceptedArgs-1)...)
	if err != nil {
		return nil, &CallbackError{Channel: name, Kind: KindFilter, Priority: s.priority, Err: err}
	}
	return next, nil
}

func (r *Registry) report(ctx context.Context, cerr *CallbackError) {
	defer func() {
		// A broken sink must not break dispatch.
		_ = recover()
	}()
	r.sink.CallbackFailed(ctx, cerr)
}

func (r *Registry) snapshot(name string) (Kind, []*subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[name]
	if !ok {
		return 0, nil, false
	}
	return ch.kind, ch.subs, true
}

func (r *Registry) markFired(name string) {
	v, ok := r.fired.Load(name)
	if !ok {
		v, _ = r.fired.LoadOrStore(name, new(atomic.Uint64))
	}
	v.(*atomic.Uint64).Add(1)
}

// Fired returns how many times Dispatch or Apply was started on name,
// whether or not it had subscribers.
func (r *Registry) Fired(name string) uint64 {
	v, ok := r.fired.Load(name)
	if !ok {
		return 0
	}
	return v.(*atomic.Uint64).Load()
}

// Has reports whether name currently has at least one subscription.
func (r *Registry) Has(name string) bool {
	return r.Count(name) > 0
}

// Count returns the number of subscriptions on name.
func (r *Registry) Count(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[name]
	if !ok {
		return 0
	}
	return len(ch.subs)
}

// Kind returns the kind of name, if the channel has been declared.
func (r *Registry) Kind(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[name]
	if !ok {
		return 0, false
	}
	return ch.kind, true
}

// Channels returns every declared channel name, sorted.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
