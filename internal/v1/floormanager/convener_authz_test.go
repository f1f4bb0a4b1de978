package floormanager

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/auth"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/envelope"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/floorcontrol"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/router"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/subscription"
)

// newTestJWKSServer starts a TLS JWKS server serving a single RSA key and
// returns a Validator pointing at it plus a token-signing helper, mirroring
// auth.newTestJWKSServer for use from outside the auth package.
func newTestJWKSServer(t *testing.T, audience string) (*auth.Validator, func(claims jwt.MapClaims) string) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(&privateKey.PublicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "test-kid"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))
	require.NoError(t, key.Set(jwk.KeyUsageKey, "sig"))

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := json.Marshal(map[string]interface{}{"keys": []interface{}{key}})
		w.Write(buf)
	}))
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	u.Path = "/.well-known/jwks.json"

	v, err := auth.NewValidator(context.Background(), u.String(), audience, jwk.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	sign := func(claims jwt.MapClaims) string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = "test-kid"
		signed, err := token.SignedString(privateKey)
		require.NoError(t, err)
		return signed
	}
	return v, sign
}

// TestProcessEnvelopeRevokeFloorWithRealConvenerValidator proves the
// Convener authorization path is reachable end to end: a conversation-init
// envelope carrying assignedFloorRoles records the convener, and a
// subsequent revokeFloor from that speakerUri with a valid bearer token
// actually revokes the floor through the real auth.ConvenerValidator, not a
// fake authorizer.
func TestProcessEnvelopeRevokeFloorWithRealConvenerValidator(t *testing.T) {
	validator, sign := newTestJWKSServer(t, "")

	hub := subscription.NewHub()
	control := floorcontrol.New(hub)
	r := router.New()

	cv := auth.NewConvenerValidator(validator, control)
	m := New(control, r, WithConvenerAuthorizer(cv))

	control.RequestFloor("C1", "s:a", 0)

	// The conversation carries its convener assignment; ProcessEnvelope
	// records it before acting on the rest of the events.
	initEnv := envelope.Envelope{
		Schema: envelope.SchemaObject{Version: "1.1.0"},
		Conversation: envelope.ConversationObject{
			ID:                 "C1",
			AssignedFloorRoles: map[string][]string{"convener": {"s:convener"}},
		},
		Sender: envelope.SenderObject{SpeakerURI: "s:convener"},
		Events: []envelope.Event{{EventType: envelope.EventContext}},
	}
	m.ProcessEnvelope(context.Background(), initEnv)

	token := sign(jwt.MapClaims{
		"sub": "s:convener",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	ctx := auth.WithBearerToken(context.Background(), token)

	revokeEnv := CreateEnvelope("C1", envelope.SenderObject{SpeakerURI: "s:convener"}, []envelope.Event{
		{EventType: envelope.EventRevokeFloor, Reason: "@override"},
	})
	effect := m.ProcessEnvelope(ctx, revokeEnv)

	assert.True(t, effect)
	_, ok := control.GetHolder("C1")
	assert.False(t, ok)
}

// TestProcessEnvelopeRevokeFloorRealValidatorRejectsNonConvener confirms the
// same wiring refuses a revoke from a sender never assigned the convener
// role, even with a validly signed token.
func TestProcessEnvelopeRevokeFloorRealValidatorRejectsNonConvener(t *testing.T) {
	validator, sign := newTestJWKSServer(t, "")

	hub := subscription.NewHub()
	control := floorcontrol.New(hub)
	r := router.New()

	cv := auth.NewConvenerValidator(validator, control)
	m := New(control, r, WithConvenerAuthorizer(cv))

	control.RequestFloor("C2", "s:a", 0)

	initEnv := envelope.Envelope{
		Schema: envelope.SchemaObject{Version: "1.1.0"},
		Conversation: envelope.ConversationObject{
			ID:                 "C2",
			AssignedFloorRoles: map[string][]string{"convener": {"s:convener"}},
		},
		Sender: envelope.SenderObject{SpeakerURI: "s:convener"},
		Events: []envelope.Event{{EventType: envelope.EventContext}},
	}
	m.ProcessEnvelope(context.Background(), initEnv)

	token := sign(jwt.MapClaims{
		"sub": "s:impostor",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	ctx := auth.WithBearerToken(context.Background(), token)

	revokeEnv := CreateEnvelope("C2", envelope.SenderObject{SpeakerURI: "s:impostor"}, []envelope.Event{
		{EventType: envelope.EventRevokeFloor, Reason: "@override"},
	})
	m.ProcessEnvelope(ctx, revokeEnv)

	holder, ok := control.GetHolder("C2")
	require.True(t, ok)
	assert.Equal(t, "s:a", holder)
}
