// Package envelope implements the Open Floor Protocol conversation envelope:
// an immutable wire-format value type, its JSON (de)serialization, and the
// per-recipient addressing query used by the router.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType enumerates the closed set of envelope event kinds per OFP 1.1.0.
type EventType string

const (
	EventUtterance       EventType = "utterance"
	EventContext         EventType = "context"
	EventInvite          EventType = "invite"
	EventUninvite        EventType = "uninvite"
	EventAcceptInvite    EventType = "acceptInvite"
	EventDeclineInvite   EventType = "declineInvite"
	EventBye             EventType = "bye"
	EventGetManifests    EventType = "getManifests"
	EventPublishManifests EventType = "publishManifests"
	EventRequestFloor    EventType = "requestFloor"
	EventGrantFloor      EventType = "grantFloor"
	EventRevokeFloor     EventType = "revokeFloor"
	EventYieldFloor      EventType = "yieldFloor"
)

// validEventTypes is the closed set an Event.EventType must belong to.
var validEventTypes = map[EventType]bool{
	EventUtterance:        true,
	EventContext:          true,
	EventInvite:           true,
	EventUninvite:         true,
	EventAcceptInvite:     true,
	EventDeclineInvite:    true,
	EventBye:              true,
	EventGetManifests:     true,
	EventPublishManifests: true,
	EventRequestFloor:     true,
	EventGrantFloor:       true,
	EventRevokeFloor:      true,
	EventYieldFloor:       true,
}

// ErrMalformedEnvelope is returned by Parse when a required field is
// missing, events is empty, or an eventType is outside the closed set.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// SchemaObject carries the protocol version tag.
type SchemaObject struct {
	Version string `json:"version"`
}

// ConversantIdentification identifies a single conversation participant.
type ConversantIdentification struct {
	SpeakerURI         string `json:"speakerUri"`
	ServiceURL         string `json:"serviceUrl,omitempty"`
	Organization       string `json:"organization,omitempty"`
	ConversationalName string `json:"conversationalName,omitempty"`
	Department         string `json:"department,omitempty"`
	Role               string `json:"role,omitempty"`
	Synopsis           string `json:"synopsis,omitempty"`
}

// Conversant wraps a conversant's identification per OFP.
type Conversant struct {
	Identification ConversantIdentification `json:"identification"`
}

// ConversationObject describes the conversation a sender's envelope belongs to.
type ConversationObject struct {
	ID                 string              `json:"id"`
	Conversants        []Conversant        `json:"conversants,omitempty"`
	AssignedFloorRoles map[string][]string `json:"assignedFloorRoles,omitempty"`
	FloorGranted       []string            `json:"floorGranted,omitempty"`
}

// SenderObject identifies the agent that produced the envelope.
type SenderObject struct {
	SpeakerURI string `json:"speakerUri"`
	ServiceURL string `json:"serviceUrl,omitempty"`
}

// ToObject addresses a single event. Private is only meaningful for
// utterance events (see Event.IsPrivate).
type ToObject struct {
	SpeakerURI string `json:"speakerUri,omitempty"`
	ServiceURL string `json:"serviceUrl,omitempty"`
	Private    bool   `json:"private,omitempty"`
}

// Params is the schema-free, event-type-specific payload. It is an opaque
// tagged map; callers extract fields by key at the edges that care
// (see UtteranceText for the one built-in extraction this package provides).
type Params map[string]any

// Event is a single protocol action carried by an Envelope.
type Event struct {
	EventType  EventType `json:"eventType"`
	To         *ToObject `json:"to,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Parameters Params    `json:"parameters,omitempty"`
}

// IsPrivate reports whether this event's privacy flag is both set and
// meaningful. Per the addressing invariant, private is honored only for
// utterance events; it is ignored for every other eventType.
func (e Event) IsPrivate() bool {
	return e.EventType == EventUtterance && e.To != nil && e.To.Private
}

// Envelope is the immutable Conversation Envelope value type. It holds
// slices and maps, so it is not comparable with ==; two envelopes with
// equal fields are equal under reflect.DeepEqual. Envelopes carry no
// mutable state and are safe to share across concurrent readers without
// copying.
type Envelope struct {
	Schema       SchemaObject       `json:"schema"`
	Conversation ConversationObject `json:"conversation"`
	Sender       SenderObject       `json:"sender"`
	Events       []Event            `json:"events"`
}

// wireEnvelope is the wrapped wire form: {"openFloor": {...}}.
type wireEnvelope struct {
	OpenFloor *Envelope `json:"openFloor"`
}

// Parse decodes a JSON document in either wrapped ({"openFloor": {...}}) or
// unwrapped form into an Envelope, validating required fields.
func Parse(document []byte) (Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(document, &wire); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var env Envelope
	if wire.OpenFloor != nil {
		env = *wire.OpenFloor
	} else {
		if err := json.Unmarshal(document, &env); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
	}

	if err := validate(env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func validate(env Envelope) error {
	if env.Conversation.ID == "" {
		return fmt.Errorf("%w: conversation.id is required", ErrMalformedEnvelope)
	}
	if env.Sender.SpeakerURI == "" {
		return fmt.Errorf("%w: sender.speakerUri is required", ErrMalformedEnvelope)
	}
	if len(env.Events) == 0 {
		return fmt.Errorf("%w: events must be non-empty", ErrMalformedEnvelope)
	}
	for i, ev := range env.Events {
		if !validEventTypes[ev.EventType] {
			return fmt.Errorf("%w: events[%d].eventType %q is not recognized", ErrMalformedEnvelope, i, ev.EventType)
		}
	}
	return nil
}

// Marshal serializes an Envelope to its wrapped wire form, omitting absent
// fields (handled by the `omitempty` struct tags above).
func Marshal(env Envelope) ([]byte, error) {
	return json.Marshal(wireEnvelope{OpenFloor: &env})
}

// EventsFor returns, in original order, every event addressed to speakerUri:
// events with no `to` (broadcast) and events whose `to.speakerUri` matches,
// or whose `to.serviceUrl` matches when serviceURL is non-empty.
func EventsFor(env Envelope, speakerURI string, serviceURL string) []Event {
	var out []Event
	for _, ev := range env.Events {
		if ev.To == nil {
			out = append(out, ev)
			continue
		}
		if ev.To.SpeakerURI == speakerURI {
			out = append(out, ev)
			continue
		}
		if serviceURL != "" && ev.To.ServiceURL == serviceURL {
			out = append(out, ev)
		}
	}
	return out
}

// UtteranceText extracts the plain-text token stream from an utterance
// event's parameters, per the OFP dialogEvent.features.text.tokens shape.
// Returns "" and false if the shape isn't present.
func UtteranceText(ev Event) (string, bool) {
	if ev.EventType != EventUtterance || ev.Parameters == nil {
		return "", false
	}
	dialogEvent, ok := ev.Parameters["dialogEvent"].(map[string]any)
	if !ok {
		return "", false
	}
	features, ok := dialogEvent["features"].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := features["text"].(map[string]any)
	if !ok {
		return "", false
	}
	tokens, ok := text["tokens"].([]any)
	if !ok {
		return "", false
	}
	var out string
	for i, t := range tokens {
		tok, ok := t.(map[string]any)
		if !ok {
			continue
		}
		s, _ := tok["token"].(string)
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out, true
}

// NewUtteranceParams builds the parameters payload for a plain-text
// utterance event, matching the dialogEvent.features.text.tokens shape.
func NewUtteranceParams(speakerURI, text string) Params {
	return Params{
		"dialogEvent": map[string]any{
			"speakerUri": speakerURI,
			"features": map[string]any{
				"text": map[string]any{
					"mimeType": "text/plain",
					"tokens": []any{
						map[string]any{"token": text},
					},
				},
			},
		},
	}
}
