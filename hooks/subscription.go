package hooks

import "context"

// Kind is the channel kind, fixed by the first subscription on a name.
type Kind uint8

const (
	// KindAction channels run every callback for side effects.
	KindAction Kind = iota + 1
	// KindFilter channels fold a value through every callback.
	KindFilter
)

func (k Kind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindFilter:
		return "filter"
	default:
		return "unknown"
	}
}

const (
	// DefaultPriority is used when no WithPriority option is given.
	DefaultPriority = 10
	// DefaultAcceptedArgs is used when no WithAcceptedArgs option is given.
	DefaultAcceptedArgs = 1
)

// ActionFunc is an action callback. args holds at most the subscription's
// accepted argument count.
type ActionFunc func(ctx context.Context, args ...any) error

// FilterFunc is a filter callback. It receives the current value and returns
// the value handed to the next callback. args holds at most acceptedArgs-1
// extra arguments, since the value itself counts as the first.
type FilterFunc func(ctx context.Context, value any, args ...any) (any, error)

// Handle identifies one subscription. It is the only way to unsubscribe,
// because function values are not comparable.
type Handle struct {
	channel string
	seq     uint64
}

// Channel returns the channel name the subscription belongs to.
func (h Handle) Channel() string {
	return h.channel
}

// Valid reports whether the handle was produced by a successful subscribe.
func (h Handle) Valid() bool {
	return h.seq != 0
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	priority     int
	acceptedArgs int
}

// WithPriority sets the priority. Lower values run earlier.
func WithPriority(p int) SubscribeOption {
	return func(c *subscribeConfig) {
		c.priority = p
	}
}

// WithAcceptedArgs sets how many leading arguments the callback receives.
// Surplus arguments are dropped; zero or less means none.
func WithAcceptedArgs(n int) SubscribeOption {
	return func(c *subscribeConfig) {
		c.acceptedArgs = n
	}
}

type subscription struct {
	seq          uint64
	priority     int
	acceptedArgs int
	action       ActionFunc
	filter       FilterFunc
}

// before reports whether s sorts ahead of other.
func (s *subscription) before(other *subscription) bool {
	if s.priority != other.priority {
		return s.priority < other.priority
	}
	return s.seq < other.seq
}

func truncateArgs(args []any, n int) []any {
	if n <= 0 {
		return nil
	}
	if len(args) > n {
		return args[:n:n]
	}
	return args
}
