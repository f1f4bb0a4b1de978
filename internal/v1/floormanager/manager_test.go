package floormanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/envelope"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/floorcontrol"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/router"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/subscription"
)

type allowAll struct{}

func (allowAll) Authorize(ctx context.Context, conversationID, speakerURI string) bool { return true }

func TestProcessEnvelopeRequestFloorMutatesAndRoutes(t *testing.T) {
	hub := subscription.NewHub()
	control := floorcontrol.New(hub)
	r := router.New()
	received := false
	r.Register("s:observer", func(ctx context.Context, env envelope.Envelope) error {
		received = true
		return nil
	})

	m := New(control, r)
	env := CreateEnvelope("C1", envelope.SenderObject{SpeakerURI: "s:a"}, []envelope.Event{
		{EventType: envelope.EventRequestFloor},
	})

	effect := m.ProcessEnvelope(context.Background(), env)

	assert.True(t, effect)
	assert.True(t, received)
	holder, ok := control.GetHolder("C1")
	require.True(t, ok)
	assert.Equal(t, "s:a", holder)
}

func TestProcessEnvelopeYieldFloorAppliedBeforeUtteranceRouting(t *testing.T) {
	hub := subscription.NewHub()
	control := floorcontrol.New(hub)
	control.RequestFloor("C2", "s:a", 0)

	r := router.New()
	var observedHolder string
	r.Register("s:observer", func(ctx context.Context, env envelope.Envelope) error {
		observedHolder, _ = control.GetHolder("C2")
		return nil
	})

	m := New(control, r)
	env := CreateEnvelope("C2", envelope.SenderObject{SpeakerURI: "s:a"}, []envelope.Event{
		{EventType: envelope.EventYieldFloor},
		{EventType: envelope.EventUtterance},
	})

	m.ProcessEnvelope(context.Background(), env)

	// no other requester queued, so the floor is empty by the time the
	// observer's handler runs, proving the yield was applied first.
	assert.Empty(t, observedHolder)
}

func TestProcessEnvelopeRevokeFloorDefaultsToNoop(t *testing.T) {
	hub := subscription.NewHub()
	control := floorcontrol.New(hub)
	control.RequestFloor("C3", "s:a", 0)

	r := router.New()
	m := New(control, r)

	env := CreateEnvelope("C3", envelope.SenderObject{SpeakerURI: "s:not-convener"}, []envelope.Event{
		{EventType: envelope.EventRevokeFloor},
	})
	m.ProcessEnvelope(context.Background(), env)

	holder, ok := control.GetHolder("C3")
	require.True(t, ok)
	assert.Equal(t, "s:a", holder)
}

func TestProcessEnvelopeRevokeFloorWithAuthorizedConvener(t *testing.T) {
	hub := subscription.NewHub()
	control := floorcontrol.New(hub)
	control.RequestFloor("C4", "s:a", 0)

	r := router.New()
	m := New(control, r, WithConvenerAuthorizer(allowAll{}))

	env := CreateEnvelope("C4", envelope.SenderObject{SpeakerURI: "s:convener"}, []envelope.Event{
		{EventType: envelope.EventRevokeFloor, Reason: "@override"},
	})
	effect := m.ProcessEnvelope(context.Background(), env)

	assert.True(t, effect)
	_, ok := control.GetHolder("C4")
	assert.False(t, ok)
}

func TestProcessEnvelopeUtteranceOnlyRoutesNoMutation(t *testing.T) {
	hub := subscription.NewHub()
	control := floorcontrol.New(hub)
	r := router.New()
	delivered := false
	r.Register("s:b", func(ctx context.Context, env envelope.Envelope) error {
		delivered = true
		return nil
	})

	m := New(control, r)
	env := CreateEnvelope("C5", envelope.SenderObject{SpeakerURI: "s:a"}, []envelope.Event{
		{EventType: envelope.EventUtterance},
	})
	effect := m.ProcessEnvelope(context.Background(), env)

	assert.True(t, effect)
	assert.True(t, delivered)
}

func TestSendUtteranceBroadcast(t *testing.T) {
	hub := subscription.NewHub()
	control := floorcontrol.New(hub)
	r := router.New()
	delivered := false
	r.Register("s:b", func(ctx context.Context, env envelope.Envelope) error {
		delivered = true
		text, ok := envelope.UtteranceText(env.Events[0])
		assert.True(t, ok)
		assert.Equal(t, "hello", text)
		return nil
	})

	m := New(control, r)
	env := m.SendUtterance(context.Background(), "C6", envelope.SenderObject{SpeakerURI: "s:a"}, "", "hello", false)

	assert.True(t, delivered)
	assert.Equal(t, envelope.EventUtterance, env.Events[0].EventType)
}

func TestProcessEnvelopeNoEffectReturnsFalse(t *testing.T) {
	hub := subscription.NewHub()
	control := floorcontrol.New(hub)
	r := router.New()
	m := New(control, r)

	env := CreateEnvelope("C7", envelope.SenderObject{SpeakerURI: "s:a"}, []envelope.Event{
		{EventType: envelope.EventUtterance, To: &envelope.ToObject{SpeakerURI: "s:ghost"}},
	})
	effect := m.ProcessEnvelope(context.Background(), env)

	assert.False(t, effect)
}
