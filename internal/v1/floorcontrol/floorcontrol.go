// Package floorcontrol implements the per-conversation floor arbitration
// state machine: exclusive speaking right, priority queue, lazy timeout,
// and involuntary revocation.
package floorcontrol

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/subscription"
)

const (
	// DefaultMaxHoldTime is the default duration a holder may keep the
	// floor before the next observing call lazily revokes it.
	DefaultMaxHoldTime = 5 * time.Minute
	// DefaultQueueCap is the default maximum number of pending requests
	// per conversation before requestFloor is refused.
	DefaultQueueCap = 100
)

// RevokeReasonTimeout, RevokeReasonOverride, RevokeReasonUninvite are the
// reason tokens carried on a revoked transition.
const (
	RevokeReasonTimeout   = "@timeout"
	RevokeReasonOverride  = "@override"
	RevokeReasonUninvite  = "@uninvite"
)

// TransitionKind enumerates the floor state changes published to subscribers.
type TransitionKind string

const (
	TransitionGranted  TransitionKind = "granted"
	TransitionRevoked  TransitionKind = "revoked"
	TransitionReleased TransitionKind = "released"
)

// Transition describes one floor state change. What publishLocked sends to
// the Subscription Hub on every state change is the equivalent
// subscription.Transition record.
type Transition struct {
	ConversationID string
	Kind           TransitionKind
	SpeakerURI     string
	Reason         string
	HolderAfter    string // "" means none
	QueueAfter     []QueueEntry
}

// QueueEntry is a snapshot of one pending request, as carried on a Transition.
type QueueEntry struct {
	SpeakerURI string
	Priority   int
}

// holder records who currently has the floor and when it was granted.
type holder struct {
	speakerURI string
	grantedAt  time.Time
}

// request is a pending floor request, ordered by (-priority, timestamp).
type request struct {
	speakerURI string
	priority   int
	timestamp  time.Time
}

// conversationState is the process-held state for one conversation id.
type conversationState struct {
	mu                 sync.Mutex
	holder             *holder
	queue              []request
	assignedFloorRoles map[string][]string
}

// Publisher is the subset of the Subscription Hub's API the floor control
// state machine depends on to announce transitions.
type Publisher interface {
	Publish(t subscription.Transition)
}

// Control is one Floor Control instance, holding state for every
// conversation id it has seen. Mutations to a given conversation id are
// serialized by that conversation's own mutex; independent conversations
// proceed concurrently.
type Control struct {
	mu            sync.Mutex
	conversations map[string]*conversationState
	hub           Publisher
	maxHoldTime   time.Duration
	queueCap      int
}

// Option configures a Control at construction time.
type Option func(*Control)

// WithMaxHoldTime overrides DefaultMaxHoldTime.
func WithMaxHoldTime(d time.Duration) Option {
	return func(c *Control) { c.maxHoldTime = d }
}

// WithQueueCap overrides DefaultQueueCap.
func WithQueueCap(n int) Option {
	return func(c *Control) { c.queueCap = n }
}

// New creates a Floor Control instance publishing transitions to hub.
func New(hub Publisher, opts ...Option) *Control {
	c := &Control{
		conversations: make(map[string]*conversationState),
		hub:           hub,
		maxHoldTime:   DefaultMaxHoldTime,
		queueCap:      DefaultQueueCap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// stateFor returns (creating if necessary) the state for a conversation id.
func (c *Control) stateFor(conversationID string) *conversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.conversations[conversationID]
	if !ok {
		st = &conversationState{assignedFloorRoles: make(map[string][]string)}
		c.conversations[conversationID] = st
	}
	return st
}

// RequestFloor implements the requestFloor operation (spec.md §4.B).
// Returns true if the floor was granted immediately, false if the request
// was enqueued or refused for queue overflow.
func (c *Control) RequestFloor(conversationID, speakerURI string, priority int) bool {
	st := c.stateFor(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.holder == nil {
		st.holder = &holder{speakerURI: speakerURI, grantedAt: time.Now()}
		c.publishLocked(st, conversationID, TransitionGranted, speakerURI, "")
		metrics.FloorGrants.WithLabelValues(conversationID).Inc()
		return true
	}

	if len(st.queue) >= c.queueCap {
		slog.Warn("floor request queue overflow", "conversationId", conversationID, "speakerUri", speakerURI)
		metrics.FloorQueueOverflow.WithLabelValues(conversationID).Inc()
		return false
	}

	st.queue = append(st.queue, request{speakerURI: speakerURI, priority: priority, timestamp: time.Now()})
	sortQueue(st.queue)
	metrics.FloorQueueDepth.WithLabelValues(conversationID).Set(float64(len(st.queue)))
	return false
}

// sortQueue stably sorts by (-priority, timestamp ascending).
func sortQueue(q []request) {
	sort.SliceStable(q, func(i, j int) bool {
		if q[i].priority != q[j].priority {
			return q[i].priority > q[j].priority
		}
		return q[i].timestamp.Before(q[j].timestamp)
	})
}

// YieldFloor implements the yieldFloor operation (spec.md §4.B). Only the
// current holder may yield; returns false (no-op) otherwise.
func (c *Control) YieldFloor(conversationID, speakerURI string) bool {
	st := c.stateFor(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.holder == nil {
		return false
	}
	if st.holder.speakerURI != speakerURI {
		return false
	}

	st.holder = nil
	c.publishLocked(st, conversationID, TransitionReleased, speakerURI, "")
	metrics.FloorReleases.WithLabelValues(conversationID).Inc()

	c.promoteQueueHeadLocked(st, conversationID)
	return true
}

// GetHolder implements the getHolder operation (spec.md §4.B), lazily
// enforcing the hold timeout on every call.
func (c *Control) GetHolder(conversationID string) (string, bool) {
	st := c.stateFor(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.holder == nil {
		return "", false
	}
	if time.Since(st.holder.grantedAt) > c.maxHoldTime {
		c.revokeLocked(st, conversationID, RevokeReasonTimeout)
		if st.holder == nil {
			return "", false
		}
		return st.holder.speakerURI, true
	}
	return st.holder.speakerURI, true
}

// Revoke implements the out-of-band convener revoke operation (spec.md
// §4.B). reason is typically one of RevokeReasonTimeout/Override/Uninvite.
func (c *Control) Revoke(conversationID, reason string) bool {
	st := c.stateFor(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.holder == nil {
		return false
	}
	c.revokeLocked(st, conversationID, reason)
	return true
}

// revokeLocked clears the current holder, publishes a revoked transition,
// and promotes the queue head. Caller must hold st.mu.
func (c *Control) revokeLocked(st *conversationState, conversationID, reason string) {
	speakerURI := st.holder.speakerURI
	st.holder = nil
	c.publishLocked(st, conversationID, TransitionRevoked, speakerURI, reason)
	metrics.FloorRevocations.WithLabelValues(conversationID, reason).Inc()
	c.promoteQueueHeadLocked(st, conversationID)
}

// promoteQueueHeadLocked pops the queue head (if any) and grants it the
// floor, publishing a granted transition. Caller must hold st.mu.
func (c *Control) promoteQueueHeadLocked(st *conversationState, conversationID string) {
	if len(st.queue) == 0 {
		return
	}
	next := st.queue[0]
	st.queue = st.queue[1:]
	metrics.FloorQueueDepth.WithLabelValues(conversationID).Set(float64(len(st.queue)))

	st.holder = &holder{speakerURI: next.speakerURI, grantedAt: time.Now()}
	c.publishLocked(st, conversationID, TransitionGranted, next.speakerURI, "")
	metrics.FloorGrants.WithLabelValues(conversationID).Inc()
}

// publishLocked builds and publishes a Transition record. Caller must hold
// st.mu; publish itself must never block (Subscription Hub contract).
func (c *Control) publishLocked(st *conversationState, conversationID string, kind TransitionKind, speakerURI, reason string) {
	if c.hub == nil {
		return
	}
	holderAfter := ""
	if st.holder != nil {
		holderAfter = st.holder.speakerURI
	}
	queueAfter := make([]subscription.QueueEntry, len(st.queue))
	for i, r := range st.queue {
		queueAfter[i] = subscription.QueueEntry{SpeakerURI: r.speakerURI, Priority: r.priority}
	}
	c.hub.Publish(subscription.Transition{
		ConversationID: conversationID,
		Kind:           string(kind),
		SpeakerURI:     speakerURI,
		Reason:         reason,
		HolderAfter:    holderAfter,
		QueueAfter:     queueAfter,
	})
}

// Metadata is the conversation metadata exposed by getMetadata.
type Metadata struct {
	AssignedFloorRoles map[string][]string
	FloorGranted       []string
}

// GetMetadata implements the getMetadata operation (spec.md §4.B).
// FloorGranted is a length-0-or-1 sequence per Open Question 2.
func (c *Control) GetMetadata(conversationID string) Metadata {
	st := c.stateFor(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	roles := make(map[string][]string, len(st.assignedFloorRoles))
	for k, v := range st.assignedFloorRoles {
		roles[k] = append([]string(nil), v...)
	}

	var granted []string
	if st.holder != nil {
		granted = []string{st.holder.speakerURI}
	}
	return Metadata{AssignedFloorRoles: roles, FloorGranted: granted}
}

// IsConvener reports whether speakerURI is listed under the "convener"
// assignedFloorRoles entry for conversationID. Satisfies auth.RoleChecker.
func (c *Control) IsConvener(conversationID, speakerURI string) bool {
	st := c.stateFor(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, uri := range st.assignedFloorRoles["convener"] {
		if uri == speakerURI {
			return true
		}
	}
	return false
}

// SetAssignedFloorRoles replaces the assignedFloorRoles mapping for a
// conversation, e.g. to record which speakerUri is the convener.
func (c *Control) SetAssignedFloorRoles(conversationID string, roles map[string][]string) {
	st := c.stateFor(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()
	copied := make(map[string][]string, len(roles))
	for k, v := range roles {
		copied[k] = append([]string(nil), v...)
	}
	st.assignedFloorRoles = copied
}

// QueueSnapshot returns a copy of the current pending-request queue, in
// current order, for diagnostics and tests.
func (c *Control) QueueSnapshot(conversationID string) []QueueEntry {
	st := c.stateFor(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]QueueEntry, len(st.queue))
	for i, r := range st.queue {
		out[i] = QueueEntry{SpeakerURI: r.speakerURI, Priority: r.priority}
	}
	return out
}
