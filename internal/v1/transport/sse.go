package transport

import (
	"fmt"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/envelope"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/subscription"
)

// handleFloorSSE streams floor transitions for one conversation as
// Server-Sent Events: one `data: <json>\n\n` line per transition,
// including synthesized heartbeats (spec.md §4.G).
func (s *Server) handleFloorSSE(c *gin.Context) {
	conversationID := c.Param("conversationId")

	handle, ch := s.hub.Subscribe(conversationID)
	defer s.hub.Unsubscribe(handle)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case tr, ok := <-ch:
			if !ok {
				return false
			}
			data, err := envelope.Marshal(transitionToEnvelope(conversationID, tr))
			if err != nil {
				return true
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			return true
		case <-clientGone:
			return false
		}
	})
}

// transitionToEnvelope wraps a floor transition as an envelope carrying a
// single context event whose parameters hold the transition kind, holder
// and queue, so SSE and WebSocket subscribers observe the same wire shape
// as routed envelopes.
func transitionToEnvelope(conversationID string, tr subscription.Transition) envelope.Envelope {
	params := envelope.Params{
		"kind":        tr.Kind,
		"holderAfter": tr.HolderAfter,
	}
	if len(tr.QueueAfter) > 0 {
		queue := make([]map[string]any, len(tr.QueueAfter))
		for i, q := range tr.QueueAfter {
			queue[i] = map[string]any{"speakerUri": q.SpeakerURI, "priority": q.Priority}
		}
		params["queueAfter"] = queue
	}

	ev := envelope.Event{
		EventType:  envelope.EventContext,
		Reason:     tr.Reason,
		Parameters: params,
	}
	return envelope.Envelope{
		Schema:       envelope.SchemaObject{Version: "1.1.0"},
		Conversation: envelope.ConversationObject{ID: conversationID},
		Sender:       envelope.SenderObject{SpeakerURI: tr.SpeakerURI},
		Events:       []envelope.Event{ev},
	}
}
