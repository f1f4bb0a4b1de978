package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/envelope"
)

func mkEnvelope(sender string, events ...envelope.Event) envelope.Envelope {
	return envelope.Envelope{
		Schema:       envelope.SchemaObject{Version: "1.1.0"},
		Conversation: envelope.ConversationObject{ID: "C1"},
		Sender:       envelope.SenderObject{SpeakerURI: sender},
		Events:       events,
	}
}

func collector() (Handler, func() []envelope.Envelope) {
	var mu sync.Mutex
	var got []envelope.Envelope
	h := func(ctx context.Context, env envelope.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, env)
		return nil
	}
	return h, func() []envelope.Envelope {
		mu.Lock()
		defer mu.Unlock()
		return append([]envelope.Envelope(nil), got...)
	}
}

func TestBroadcastDeliversToEveryoneButSender(t *testing.T) {
	r := New()
	ha, drainA := collector()
	hb, drainB := collector()
	r.Register("s:a", ha)
	r.Register("s:b", hb)

	env := mkEnvelope("s:a", envelope.Event{EventType: envelope.EventUtterance})
	routed := r.Route(context.Background(), env)

	assert.True(t, routed)
	assert.Empty(t, drainA())
	assert.Len(t, drainB(), 1)
}

func TestAddressedEventDeliversOnlyToTarget(t *testing.T) {
	r := New()
	ha, drainA := collector()
	hb, drainB := collector()
	r.Register("s:a", ha)
	r.Register("s:b", hb)

	env := mkEnvelope("s:sender", envelope.Event{
		EventType: envelope.EventUtterance,
		To:        &envelope.ToObject{SpeakerURI: "s:b"},
	})
	routed := r.Route(context.Background(), env)

	assert.True(t, routed)
	assert.Empty(t, drainA())
	assert.Len(t, drainB(), 1)
}

func TestPrivateUtteranceDeliversOnlyToAddressee(t *testing.T) {
	r := New()
	ha, drainA := collector()
	hb, drainB := collector()
	r.Register("s:a", ha)
	r.Register("s:b", hb)

	env := mkEnvelope("s:sender", envelope.Event{
		EventType: envelope.EventUtterance,
		To:        &envelope.ToObject{SpeakerURI: "s:a", Private: true},
	})
	r.Route(context.Background(), env)

	assert.Len(t, drainA(), 1)
	assert.Empty(t, drainB())
}

func TestPrivacyIgnoredForNonUtteranceEventTypes(t *testing.T) {
	r := New()
	ha, drainA := collector()
	hb, drainB := collector()
	r.Register("s:a", ha)
	r.Register("s:b", hb)

	// private=true on a non-utterance event is not a valid addressing
	// narrowing beyond normal `to` semantics: it still only reaches the
	// addressed recipient, same as any addressed event, but the flag
	// itself carries no special meaning (IsPrivate is false for it).
	ev := envelope.Event{
		EventType: envelope.EventContext,
		To:        &envelope.ToObject{SpeakerURI: "s:a", Private: true},
	}
	assert.False(t, ev.IsPrivate())

	env := mkEnvelope("s:sender", ev)
	r.Route(context.Background(), env)

	assert.Len(t, drainA(), 1)
	assert.Empty(t, drainB())
}

func TestUnknownAddressedRecipientIsSkippedWithoutAbortingOthers(t *testing.T) {
	r := New()
	hb, drainB := collector()
	r.Register("s:b", hb)

	env := mkEnvelope("s:sender",
		envelope.Event{EventType: envelope.EventUtterance, To: &envelope.ToObject{SpeakerURI: "s:ghost"}},
		envelope.Event{EventType: envelope.EventUtterance, To: &envelope.ToObject{SpeakerURI: "s:b"}},
	)
	routed := r.Route(context.Background(), env)

	assert.True(t, routed)
	assert.Len(t, drainB(), 1)
}

func TestUnregisterStopsFurtherDelivery(t *testing.T) {
	r := New()
	ha, drainA := collector()
	r.Register("s:a", ha)
	r.Unregister("s:a")

	env := mkEnvelope("s:sender", envelope.Event{
		EventType: envelope.EventUtterance,
		To:        &envelope.ToObject{SpeakerURI: "s:a"},
	})
	routed := r.Route(context.Background(), env)

	assert.False(t, routed)
	assert.Empty(t, drainA())
}

func TestHandlerErrorDoesNotAbortRemainingDeliveries(t *testing.T) {
	r := New()
	failing := func(ctx context.Context, env envelope.Envelope) error {
		return errors.New("boom")
	}
	hb, drainB := collector()
	r.Register("s:a", failing)
	r.Register("s:b", hb)

	env := mkEnvelope("s:sender", envelope.Event{EventType: envelope.EventUtterance})
	routed := r.Route(context.Background(), env)

	assert.True(t, routed)
	assert.Len(t, drainB(), 1)
}

func TestPerDeliveryTimeoutIsEnforced(t *testing.T) {
	r := New(WithPerDeliveryTimeout(20 * time.Millisecond))
	blocked := func(ctx context.Context, env envelope.Envelope) error {
		<-ctx.Done()
		return ctx.Err()
	}
	r.Register("s:a", blocked)

	env := mkEnvelope("s:sender", envelope.Event{
		EventType: envelope.EventUtterance,
		To:        &envelope.ToObject{SpeakerURI: "s:a"},
	})

	start := time.Now()
	routed := r.Route(context.Background(), env)
	elapsed := time.Since(start)

	assert.False(t, routed)
	assert.Less(t, elapsed, time.Second)
}

func TestDispatchQueueCapRejectsWhenSaturated(t *testing.T) {
	r := New(WithDispatchQueueCap(1))
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	blocked := func(ctx context.Context, env envelope.Envelope) error {
		entered <- struct{}{}
		<-release
		return nil
	}
	r.Register("s:a", blocked)

	envToA := mkEnvelope("s:sender", envelope.Event{
		EventType: envelope.EventUtterance,
		To:        &envelope.ToObject{SpeakerURI: "s:a"},
	})

	var firstRouted bool
	done := make(chan struct{})
	go func() {
		firstRouted = r.Route(context.Background(), envToA)
		close(done)
	}()
	<-entered

	// The dispatch slot is now held by the in-flight delivery above; a
	// second, concurrent delivery to the same recipient must be
	// rejected immediately rather than queued.
	secondRouted := r.Route(context.Background(), envToA)
	assert.False(t, secondRouted)

	close(release)
	<-done
	assert.True(t, firstRouted)
}

func TestHandlerPanicIsRecoveredAndTreatedAsFailure(t *testing.T) {
	r := New()
	panics := func(ctx context.Context, env envelope.Envelope) error {
		panic("unexpected")
	}
	r.Register("s:a", panics)

	env := mkEnvelope("s:sender", envelope.Event{
		EventType: envelope.EventUtterance,
		To:        &envelope.ToObject{SpeakerURI: "s:a"},
	})

	var routed bool
	require.NotPanics(t, func() {
		routed = r.Route(context.Background(), env)
	})
	assert.False(t, routed)
}
