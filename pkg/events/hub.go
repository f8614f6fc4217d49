// Package events fans ledger events out to subscribers.
package events

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/rexliu/dappd/pkg/ledger"
)

const (
	// SourceLedger is the source name used for chain events.
	SourceLedger = "ledger"
	// EventNewBlock is published once per mined block.
	EventNewBlock = "newBlock"

	defaultQueue = 16
)

// Handler receives published blocks.
type Handler func(ledger.Block)

type topic struct {
	source string
	event  string
}

type subscription struct {
	topic topic
	fn    Handler
	queue chan ledger.Block
	done  chan struct{}
}

func (s *subscription) run() {
	defer close(s.done)
	for block := range s.queue {
		s.fn(block)
	}
}

// Hub delivers events to subscriptions keyed by caller-chosen ids. Each
// subscription has its own queue and worker; a full queue drops the event.
type Hub struct {
	logger    zerolog.Logger
	queueSize int

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithQueueSize sets the per-subscription buffer.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// NewHub returns an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		logger:    zerolog.Nop(),
		queueSize: defaultQueue,
		subs:      make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers fn for source/event under id. An existing
// subscription with the same id is replaced.
func (h *Hub) Subscribe(source, event, id string, fn Handler) {
	if fn == nil {
		return
	}
	sub := &subscription{
		topic: topic{source: source, event: event},
		fn:    fn,
		queue: make(chan ledger.Block, h.queueSize),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	old := h.subs[id]
	h.subs[id] = sub
	h.mu.Unlock()

	go sub.run()
	if old != nil {
		close(old.queue)
	}
}

// Unsubscribe removes the subscription with id and waits for its worker to
// drain. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(sub.queue)
	}
	h.mu.Unlock()
	if ok {
		<-sub.done
	}
}

// Publish queues block for every subscription of source/event and returns
// how many accepted it.
func (h *Hub) Publish(source, event string, block ledger.Block) int {
	t := topic{source: source, event: event}
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for id, sub := range h.subs {
		if sub.topic != t {
			continue
		}
		select {
		case sub.queue <- block:
			delivered++
		default:
			h.logger.Warn().Str("subscription", id).Str("event", event).Uint64("block", block.Number).Msg("dropping event for slow subscriber")
		}
	}
	return delivered
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close stops every worker. Later subscriptions are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]*subscription)
	for _, sub := range subs {
		close(sub.queue)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		<-sub.done
	}
}
