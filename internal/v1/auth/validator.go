// Package auth implements the optional Convener authorization mechanism:
// a JWKS-validated bearer token whose subject must match the sender's
// speakerUri and must be listed in the conversation's "convener"
// assignedFloorRoles before a revokeFloor request is honored. Disabled by
// default (CONVENER_AUTH_ENABLED=false), in which case revokeFloor is a
// no-op per spec.md §4.E.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// CustomClaims are the JWT claims the convener token is expected to carry.
type CustomClaims struct {
	jwt.RegisteredClaims
}

// Validator validates a bearer token against a JWKS endpoint.
type Validator struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience []string
}

// NewValidator creates a Validator that fetches signing keys from jwksURL,
// refreshing them on the usual JWKS cache interval.
func NewValidator(ctx context.Context, jwksURL, audience string, regOpts ...jwk.RegisterOption) (*Validator, error) {
	cache := jwk.NewCache(ctx)

	opts := []jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}
	opts = append(opts, regOpts...)

	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL in cache: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}
		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get keys from cache: %w", err)
		}
		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}
		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("failed to get raw public key: %w", err)
		}
		return pubKey, nil
	}

	v := &Validator{keyFunc: keyFunc, issuer: jwksURL}
	if audience != "" {
		v.audience = []string{audience}
	}
	return v, nil
}

// ValidateToken parses and validates tokenString, returning its claims.
func (v *Validator) ValidateToken(tokenString string) (*CustomClaims, error) {
	opts := []jwt.ParserOption{}
	if len(v.audience) > 0 {
		opts = append(opts, jwt.WithAudience(v.audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, v.keyFunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok {
		return nil, errors.New("failed to cast claims")
	}
	return claims, nil
}

// RoleChecker reports the convener role assignment for a conversation.
// Implemented by *floorcontrol.Control (via its IsConvener method);
// declared narrowly here to avoid an import-cycle between auth and
// floorcontrol.
type RoleChecker interface {
	IsConvener(conversationID, speakerURI string) bool
}

// ConvenerValidator authorizes revokeFloor requests by requiring a valid
// bearer token whose subject is both the requesting speakerUri and
// assigned the "convener" role for that conversation.
type ConvenerValidator struct {
	validator *Validator
	roles     RoleChecker
}

// NewConvenerValidator builds a ConvenerValidator.
func NewConvenerValidator(validator *Validator, roles RoleChecker) *ConvenerValidator {
	return &ConvenerValidator{validator: validator, roles: roles}
}

// Authorize implements floormanager.ConvenerAuthorizer. It extracts the
// bearer token from ctx (set by the HTTP layer via WithBearerToken),
// validates it, and checks that its subject matches senderSpeakerURI and
// holds the convener role in this conversation.
func (c *ConvenerValidator) Authorize(ctx context.Context, conversationID, senderSpeakerURI string) bool {
	token, ok := BearerTokenFromContext(ctx)
	if !ok || token == "" {
		return false
	}
	claims, err := c.validator.ValidateToken(token)
	if err != nil {
		return false
	}
	if claims.Subject != senderSpeakerURI {
		return false
	}
	return c.roles.IsConvener(conversationID, senderSpeakerURI)
}

type bearerTokenKey struct{}

// WithBearerToken attaches a raw bearer token to ctx for later retrieval
// by ConvenerValidator.Authorize.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenKey{}, token)
}

// BearerTokenFromContext retrieves a token attached by WithBearerToken.
func BearerTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerTokenKey{}).(string)
	return token, ok
}

// ExtractBearerToken pulls the raw token out of an Authorization header
// value ("Bearer <token>").
func ExtractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}
