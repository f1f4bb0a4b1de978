// Package router implements the Envelope Router: an event-driven dispatcher
// that inspects each envelope's event list and delivers it to the right
// recipients, honoring event-type-specific privacy rules.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/envelope"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/metrics"
)

// DefaultPerDeliveryTimeout is the default deadline given to one handler
// invocation (spec.md §4.D).
const DefaultPerDeliveryTimeout = 10 * time.Second

// DefaultDispatchQueueCap bounds the number of deliveries in flight across
// the whole Router at any moment (spec.md §5). A delivery that arrives
// when the queue is already full is rejected immediately rather than
// queued, applying backpressure to the caller instead of unbounded growth.
const DefaultDispatchQueueCap = 1000

// Handler delivers one envelope to a single registered recipient. A
// non-nil error (including a timeout or recovered panic) is logged and
// does not abort delivery to other recipients.
type Handler func(ctx context.Context, env envelope.Envelope) error

// route holds a recipient's handler plus its own delivery circuit breaker,
// so a wedged recipient fails fast instead of burning perDeliveryTimeout on
// every subsequent envelope (grounded on the teacher's gobreaker-wrapped
// Redis dependency in internal/v1/bus/redis.go).
type route struct {
	handler Handler
	breaker *gobreaker.CircuitBreaker
}

// Router maintains a mapping from speakerUri to delivery handler and
// dispatches each event in a routed envelope to its recipients.
type Router struct {
	mu                 sync.RWMutex
	routes             map[string]*route
	perDeliveryTimeout time.Duration
	dispatchSem        chan struct{}
}

// Option configures a Router at construction time.
type Option func(*Router)

// WithPerDeliveryTimeout overrides DefaultPerDeliveryTimeout.
func WithPerDeliveryTimeout(d time.Duration) Option {
	return func(r *Router) { r.perDeliveryTimeout = d }
}

// WithDispatchQueueCap overrides DefaultDispatchQueueCap.
func WithDispatchQueueCap(n int) Option {
	return func(r *Router) { r.dispatchSem = make(chan struct{}, n) }
}

// New creates an Envelope Router.
func New(opts ...Option) *Router {
	r := &Router{
		routes:             make(map[string]*route),
		perDeliveryTimeout: DefaultPerDeliveryTimeout,
		dispatchSem:        make(chan struct{}, DefaultDispatchQueueCap),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs (or replaces, last-write-wins) the delivery handler
// for speakerUri. Registration is for envelope delivery only; it does not
// constitute agent registration in the protocol sense.
func (r *Router) Register(speakerURI string, handler Handler) {
	st := gobreaker.Settings{
		Name:        speakerURI,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     5 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[speakerURI] = &route{handler: handler, breaker: gobreaker.NewCircuitBreaker(st)}
}

// Unregister removes the delivery handler for speakerUri, if any.
func (r *Router) Unregister(speakerURI string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, speakerURI)
}

// recipientsFor determines, for one event, the set of registered
// speakerUris that should receive it.
func (r *Router) recipientsFor(senderURI string, ev envelope.Event) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ev.To == nil {
		var out []string
		for uri := range r.routes {
			if uri == senderURI {
				continue
			}
			out = append(out, uri)
		}
		return out
	}

	target := ev.To.SpeakerURI
	if target == "" {
		return nil
	}
	if _, ok := r.routes[target]; !ok {
		return nil
	}
	return []string{target}
}

// Route delivers every event in env to its recipients, per speakerUri ->
// handler registrations and the addressing/privacy invariants (spec.md
// §3, §4.D). Returns true iff at least one handler completed successfully.
func (r *Router) Route(ctx context.Context, env envelope.Envelope) bool {
	var routedAny bool

	for _, ev := range env.Events {
		recipients := r.recipientsFor(env.Sender.SpeakerURI, ev)
		if len(recipients) == 0 && ev.To != nil && ev.To.SpeakerURI != "" {
			slog.Warn("no route found for addressed recipient", "speakerUri", ev.To.SpeakerURI, "eventType", ev.EventType)
			continue
		}

		for _, uri := range recipients {
			if r.deliverOne(ctx, uri, ev, env) {
				routedAny = true
			}
		}
	}

	return routedAny
}

// deliverOne invokes the recipient's handler with a bounded deadline,
// recovering panics and routing circuit-breaker trips through the same
// logged-and-continue disposition (spec.md §7).
func (r *Router) deliverOne(ctx context.Context, speakerURI string, ev envelope.Event, env envelope.Envelope) (ok bool) {
	r.mu.RLock()
	rt, found := r.routes[speakerURI]
	r.mu.RUnlock()
	if !found {
		return false
	}

	select {
	case r.dispatchSem <- struct{}{}:
		defer func() { <-r.dispatchSem }()
	default:
		metrics.RouterDispatchRejected.WithLabelValues(string(ev.EventType)).Inc()
		slog.Warn("dispatch queue full, rejecting delivery", "speakerUri", speakerURI, "eventType", ev.EventType)
		return false
	}

	start := time.Now()
	deadline := r.perDeliveryTimeout
	deliverCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	_, err := rt.breaker.Execute(func() (any, error) {
		return nil, invokeHandler(deliverCtx, rt.handler, env)
	})
	metrics.RouterDeliveryDuration.WithLabelValues(string(ev.EventType)).Observe(time.Since(start).Seconds())

	if err != nil {
		status := "error"
		if err == context.DeadlineExceeded || deliverCtx.Err() == context.DeadlineExceeded {
			status = "timeout"
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			status = "breaker_open"
			metrics.CircuitBreakerFailures.WithLabelValues(speakerURI).Inc()
		}
		metrics.RouterDeliveries.WithLabelValues(string(ev.EventType), status).Inc()
		slog.Error("delivery failed", "speakerUri", speakerURI, "eventType", ev.EventType, "status", status, "error", err)
		return false
	}

	metrics.RouterDeliveries.WithLabelValues(string(ev.EventType), "ok").Inc()
	return true
}

// invokeHandler calls handler, converting a panic into an error and
// honoring ctx's deadline even if the handler itself ignores it.
func invokeHandler(ctx context.Context, handler Handler, env envelope.Envelope) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("handler panic: %v", rec)
			}
		}()
		done <- handler(ctx, env)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
