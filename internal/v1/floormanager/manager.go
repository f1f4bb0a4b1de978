// Package floormanager composes Floor Control, the Subscription Hub, and
// the Envelope Router into the top-level entry point agents submit
// envelopes to.
package floormanager

import (
	"context"
	"log/slog"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/envelope"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/floorcontrol"
)

// ConvenerAuthorizer decides whether sender may issue a revokeFloor for
// conversationID. The default NoopAuthorizer always refuses, making
// revokeFloor a no-op unless an authorizer is explicitly configured
// (spec.md §4.E: "out-of-scope authorization returns the operation to
// no-op").
type ConvenerAuthorizer interface {
	Authorize(ctx context.Context, conversationID, senderSpeakerURI string) bool
}

// NoopAuthorizer refuses every revokeFloor request.
type NoopAuthorizer struct{}

// Authorize always returns false.
func (NoopAuthorizer) Authorize(ctx context.Context, conversationID, senderSpeakerURI string) bool {
	return false
}

// Router is the subset of the Envelope Router's API the Floor Manager
// depends on.
type Router interface {
	Route(ctx context.Context, env envelope.Envelope) bool
}

// FloorControl is the subset of Floor Control's API the Floor Manager
// depends on.
type FloorControl interface {
	RequestFloor(conversationID, speakerURI string, priority int) bool
	YieldFloor(conversationID, speakerURI string) bool
	Revoke(conversationID, reason string) bool
	SetAssignedFloorRoles(conversationID string, roles map[string][]string)
}

// Manager is the Floor Manager composition: the top-level entry point for
// inbound envelopes.
type Manager struct {
	control    FloorControl
	router     Router
	authorizer ConvenerAuthorizer
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithConvenerAuthorizer installs a non-default authorizer for revokeFloor
// requests (spec.md §4.E, Open Question 3).
func WithConvenerAuthorizer(a ConvenerAuthorizer) Option {
	return func(m *Manager) { m.authorizer = a }
}

// New creates a Floor Manager composing control and router.
func New(control FloorControl, router Router, opts ...Option) *Manager {
	m := &Manager{control: control, router: router, authorizer: NoopAuthorizer{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ProcessEnvelope applies each event's pre-routing effect in array order,
// then routes the envelope. Returns true iff any step produced a visible
// effect: a floor state mutation or a successful delivery (spec.md §4.E).
func (m *Manager) ProcessEnvelope(ctx context.Context, env envelope.Envelope) bool {
	var mutated bool

	// A conversation object carrying assignedFloorRoles (e.g. the
	// inviting envelope that establishes the conversation) is how a
	// convener gets recorded; an empty map is treated as "unspecified"
	// rather than "clear the roles", so later envelopes that omit the
	// field don't wipe out a convener set earlier.
	if len(env.Conversation.AssignedFloorRoles) > 0 {
		m.control.SetAssignedFloorRoles(env.Conversation.ID, env.Conversation.AssignedFloorRoles)
	}

	for _, ev := range env.Events {
		switch ev.EventType {
		case envelope.EventRequestFloor:
			priority := priorityOf(ev.Parameters)
			if m.control.RequestFloor(env.Conversation.ID, env.Sender.SpeakerURI, priority) {
				mutated = true
			}
		case envelope.EventYieldFloor:
			if m.control.YieldFloor(env.Conversation.ID, env.Sender.SpeakerURI) {
				mutated = true
			}
		case envelope.EventRevokeFloor:
			if !m.authorizer.Authorize(ctx, env.Conversation.ID, env.Sender.SpeakerURI) {
				slog.Warn("revokeFloor refused: sender not an authorized convener",
					"conversationId", env.Conversation.ID, "speakerUri", env.Sender.SpeakerURI)
				continue
			}
			reason := ev.Reason
			if reason == "" {
				reason = floorcontrol.RevokeReasonOverride
			}
			if m.control.Revoke(env.Conversation.ID, reason) {
				mutated = true
			}
		default:
			// utterance, context, invite, uninvite, acceptInvite,
			// declineInvite, bye, getManifests, publishManifests,
			// grantFloor: no pre-routing effect, forwarded as-is.
		}
	}

	routed := m.router.Route(ctx, env)
	return mutated || routed
}

// priorityOf extracts an integer priority from event parameters, defaulting
// to 0 per spec.md §4.E ("parameters.priority ?? 0").
func priorityOf(params envelope.Params) int {
	if params == nil {
		return 0
	}
	switch v := params["priority"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// CreateEnvelope builds a valid envelope for sender and the given events.
func CreateEnvelope(conversationID string, sender envelope.SenderObject, events []envelope.Event) envelope.Envelope {
	return envelope.Envelope{
		Schema:       envelope.SchemaObject{Version: "1.1.0"},
		Conversation: envelope.ConversationObject{ID: conversationID},
		Sender:       sender,
		Events:       events,
	}
}

// SendUtterance builds a well-formed utterance envelope and routes it.
// target is optional; an empty target broadcasts. private is only
// meaningful when target is non-empty.
func (m *Manager) SendUtterance(ctx context.Context, conversationID string, sender envelope.SenderObject, target, text string, private bool) envelope.Envelope {
	ev := envelope.Event{
		EventType:  envelope.EventUtterance,
		Parameters: envelope.NewUtteranceParams(sender.SpeakerURI, text),
	}
	if target != "" {
		ev.To = &envelope.ToObject{SpeakerURI: target, Private: private}
	}

	env := CreateEnvelope(conversationID, sender, []envelope.Event{ev})
	m.router.Route(ctx, env)
	return env
}
