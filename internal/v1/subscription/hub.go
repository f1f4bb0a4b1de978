// Package subscription implements the real-time status fan-out: push-based
// broadcast of floor transitions to subscribed observers over a bounded,
// FIFO-delivering per-conversation queue.
package subscription

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/metrics"
)

const (
	// DefaultBufferSize is the default per-subscriber transition buffer cap.
	DefaultBufferSize = 64
	// DefaultHeartbeatInterval is the default silence period after which a
	// heartbeat record is emitted to keep long-lived transports alive.
	DefaultHeartbeatInterval = 30 * time.Second
)

// QueueEntry is a snapshot of one pending floor request carried on a Transition.
type QueueEntry struct {
	SpeakerURI string `json:"speakerUri"`
	Priority   int    `json:"priority"`
}

// Transition is a floor state-change record published by Floor Control.
type Transition struct {
	ConversationID string       `json:"conversationId"`
	Kind           string       `json:"kind"`
	SpeakerURI     string       `json:"speakerUri,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	HolderAfter    string       `json:"holderAfter,omitempty"`
	QueueAfter     []QueueEntry `json:"queueAfter,omitempty"`
}

// IsHeartbeat reports whether this record is a synthetic heartbeat rather
// than a real transition.
func (t Transition) IsHeartbeat() bool {
	return t.Kind == "heartbeat"
}

// Handle is an opaque subscription identifier returned by Subscribe and
// required by Unsubscribe.
type Handle struct {
	id             string
	conversationID string
}

// subscriber holds one observer's delivery queue and lag counter.
type subscriber struct {
	id       string
	ch       chan Transition
	mu       sync.Mutex
	lagCount int
	lastSent time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// Hub fans out Transition records to per-conversation subscribers. Publish
// never blocks: a full subscriber buffer drops its oldest queued record
// and increments that subscriber's lag counter, without affecting other
// subscribers or the publisher.
type Hub struct {
	mu                sync.RWMutex
	subsByConv        map[string]map[string]*subscriber
	bufferSize        int
	heartbeatInterval time.Duration
}

// Option configures a Hub at construction time.
type Option func(*Hub)

// WithBufferSize overrides DefaultBufferSize.
func WithBufferSize(n int) Option {
	return func(h *Hub) { h.bufferSize = n }
}

// WithHeartbeatInterval overrides DefaultHeartbeatInterval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Hub) { h.heartbeatInterval = d }
}

// NewHub creates a Subscription Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subsByConv:        make(map[string]map[string]*subscriber),
		bufferSize:        DefaultBufferSize,
		heartbeatInterval: DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe returns a handle and a receive-only channel of transitions for
// conversationID. The channel is closed when Unsubscribe is called.
func (h *Hub) Subscribe(conversationID string) (Handle, <-chan Transition) {
	sub := &subscriber{
		id:       uuid.NewString(),
		ch:       make(chan Transition, h.bufferSize),
		lastSent: time.Now(),
		stop:     make(chan struct{}),
	}

	h.mu.Lock()
	subs, ok := h.subsByConv[conversationID]
	if !ok {
		subs = make(map[string]*subscriber)
		h.subsByConv[conversationID] = subs
	}
	subs[sub.id] = sub
	h.mu.Unlock()

	metrics.SubscriptionActive.WithLabelValues(conversationID).Inc()

	go h.heartbeatLoop(conversationID, sub)

	return Handle{id: sub.id, conversationID: conversationID}, sub.ch
}

// Unsubscribe releases a subscription. Idempotent.
func (h *Hub) Unsubscribe(handle Handle) {
	h.mu.Lock()
	subs, ok := h.subsByConv[handle.conversationID]
	if !ok {
		h.mu.Unlock()
		return
	}
	sub, ok := subs[handle.id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(subs, handle.id)
	if len(subs) == 0 {
		delete(h.subsByConv, handle.conversationID)
	}
	h.mu.Unlock()

	sub.stopOnce.Do(func() {
		close(sub.stop)
		close(sub.ch)
	})
	metrics.SubscriptionActive.WithLabelValues(handle.conversationID).Dec()
}

// Publish enqueues a transition to every subscriber of its conversation.
// Non-blocking: a subscriber whose buffer is full has its oldest queued
// transition dropped to make room, and its lag counter incremented.
func (h *Hub) Publish(t Transition) {
	h.mu.RLock()
	subs := h.subsByConv[t.ConversationID]
	targets := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		deliver(s, t)
		metrics.TransitionsPublished.WithLabelValues(t.ConversationID, t.Kind).Inc()
	}
}

// deliver performs a non-blocking send, dropping the oldest queued
// transition on overflow per the Hub's slowest-reader policy.
func deliver(s *subscriber, t Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSent = time.Now()

	select {
	case s.ch <- t:
		return
	default:
	}

	// Buffer full: drop the oldest queued transition, then retry once.
	select {
	case <-s.ch:
		s.lagCount++
		metrics.SubscriptionLag.WithLabelValues(t.ConversationID).Inc()
	default:
	}
	select {
	case s.ch <- t:
	default:
		// Another publisher raced us; give up silently rather than block.
	}
}

// LagCount returns the number of transitions dropped for this subscription
// due to a full buffer. The count is read through this method only; it is
// not carried on the delivered Transition records.
func (h *Hub) LagCount(handle Handle) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs, ok := h.subsByConv[handle.conversationID]
	if !ok {
		return 0
	}
	sub, ok := subs[handle.id]
	if !ok {
		return 0
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.lagCount
}

// heartbeatLoop emits a heartbeat transition at least every
// heartbeatInterval of silence, until the subscription is released.
func (h *Hub) heartbeatLoop(conversationID string, sub *subscriber) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
			sub.mu.Lock()
			silentFor := time.Since(sub.lastSent)
			sub.mu.Unlock()
			if silentFor >= h.heartbeatInterval {
				deliver(sub, Transition{ConversationID: conversationID, Kind: "heartbeat"})
			}
		}
	}
}
