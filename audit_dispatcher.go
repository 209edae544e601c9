package goHook

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher decouples event producers from a possibly slow AuditSink.
// One goroutine drains the buffer; Close flushes what is queued.
type auditDispatcher struct {
	dropIfFull bool
	sink       AuditSink
	ch         chan AuditEvent
	done       chan struct{}
	wg         sync.WaitGroup
	emitted    atomic.Uint64
	dropped    atomic.Uint64
	closed     atomic.Bool
	closeOnce  sync.Once
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		dropIfFull: cfg.DropIfFull,
		sink:       sink,
		ch:         make(chan AuditEvent, cfg.BufferSize),
		done:       make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver shields the dispatcher goroutine from a panicking sink.
func (d *auditDispatcher) deliver(event AuditEvent) {
	defer func() {
		_ = recover()
	}()
	d.sink.Emit(context.Background(), event)
	d.emitted.Add(1)
}

// Emit queues event. With DropIfFull a full buffer drops the event and counts
// it; otherwise Emit blocks until there is room, ctx is done or the
// dispatcher closes.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close stops accepting events, drains the buffer and waits for the sink.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *auditDispatcher) Emitted() uint64 {
	if d == nil {
		return 0
	}
	return d.emitted.Load()
}
