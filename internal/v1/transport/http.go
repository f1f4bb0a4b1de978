// Package transport implements the HTTP, Server-Sent Events, and WebSocket
// adapters over the Floor Manager (spec.md §4.G): envelope submission,
// floor request/release/holder query, directory operations, and the two
// real-time transition streams.
package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/auth"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/directory"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/envelope"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/floorcontrol"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/floormanager"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/ratelimit"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/subscription"
)

// Server bundles the Floor Manager collaborators behind HTTP handlers.
type Server struct {
	manager        *floormanager.Manager
	control        *floorcontrol.Control
	hub            *subscription.Hub
	directory      *directory.Directory
	rateLimiter    *ratelimit.RateLimiter
	allowedOrigins []string
}

// NewServer creates a transport Server wired to the given collaborators.
// rateLimiter may be nil, in which case no rate limiting is applied (used
// by tests that don't exercise throttling). allowedOrigins governs which
// Origin header values ServeFloorWebSocket accepts; a single "*" allows any.
func NewServer(manager *floormanager.Manager, control *floorcontrol.Control, hub *subscription.Hub, dir *directory.Directory, rateLimiter *ratelimit.RateLimiter, allowedOrigins ...string) *Server {
	return &Server{manager: manager, control: control, hub: hub, directory: dir, rateLimiter: rateLimiter, allowedOrigins: allowedOrigins}
}

// noopMiddleware is used in place of a RateLimiter middleware when none is configured.
func noopMiddleware(c *gin.Context) { c.Next() }

// speakerURIMiddleware peeks the request body to make the sender's
// speakerUri available to the rate limiter, which runs ahead of the
// handler that would otherwise be the first to parse the body. The body
// is restored afterward so the handler's own parse/bind sees it intact.
// A body the extractor can't read is left alone; the limiter falls back
// to keying on client IP for that request.
func speakerURIMiddleware(extract func(body []byte) (string, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.Next()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if uri, ok := extract(body); ok {
			c.Set("speakerUri", uri)
		}
		c.Next()
	}
}

// envelopeSenderSpeakerURI extracts sender.speakerUri from a raw envelope document.
func envelopeSenderSpeakerURI(body []byte) (string, bool) {
	env, err := envelope.Parse(body)
	if err != nil || env.Sender.SpeakerURI == "" {
		return "", false
	}
	return env.Sender.SpeakerURI, true
}

// jsonSpeakerURI extracts a top-level "speakerUri" field from a JSON body,
// the shape shared by sendUtteranceRequest and floorRequestBody.
func jsonSpeakerURI(body []byte) (string, bool) {
	var v struct {
		SpeakerURI string `json:"speakerUri"`
	}
	if err := json.Unmarshal(body, &v); err != nil || v.SpeakerURI == "" {
		return "", false
	}
	return v.SpeakerURI, true
}

// RegisterRoutes installs every HTTP route named in spec.md §4.G/§6 onto r.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	envelopeLimit := noopMiddleware
	floorLimit := noopMiddleware
	if s.rateLimiter != nil {
		envelopeLimit = s.rateLimiter.EnvelopeSubmitMiddleware()
		floorLimit = s.rateLimiter.FloorRequestMiddleware()
	}

	envelopeSpeakerURI := speakerURIMiddleware(envelopeSenderSpeakerURI)
	jsonBodySpeakerURI := speakerURIMiddleware(jsonSpeakerURI)

	api := r.Group("/api/v1")

	api.POST("/envelopes/send", envelopeSpeakerURI, envelopeLimit, s.handleEnvelopeSend)
	api.POST("/envelopes/validate", s.handleEnvelopeValidate)
	api.POST("/envelopes/utterance", jsonBodySpeakerURI, envelopeLimit, s.handleSendUtterance)

	api.POST("/floor/request", jsonBodySpeakerURI, floorLimit, s.handleFloorRequest)
	api.POST("/floor/release", jsonBodySpeakerURI, floorLimit, s.handleFloorRelease)
	api.GET("/floor/holder/:conversationId", s.handleFloorHolder)
	api.GET("/floor/events/floor/:conversationId", s.handleFloorSSE)

	api.POST("/manifests/publish", s.handleManifestsPublish)
	api.POST("/manifests/get", s.handleManifestsGet)
	api.GET("/manifests/search", s.handleManifestsSearch)
	api.GET("/manifests/list", s.handleManifestsList)

	r.GET("/ws/floor/:conversationId", s.ServeFloorWebSocket)
}

// handleEnvelopeSend accepts a raw envelope document, routes it through
// the Floor Manager, and reports whether any visible effect occurred.
func (s *Server) handleEnvelopeSend(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	env, err := envelope.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Set("speakerUri", env.Sender.SpeakerURI)

	ctx := c.Request.Context()
	if token, ok := auth.ExtractBearerToken(c.Request); ok {
		ctx = auth.WithBearerToken(ctx, token)
	}

	effect := s.manager.ProcessEnvelope(ctx, env)
	c.JSON(http.StatusOK, gin.H{"routed": effect})
}

// handleEnvelopeValidate parses and validates an envelope without routing
// it, returning 400 with the validation error on failure.
func (s *Server) handleEnvelopeValidate(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	if _, err := envelope.Parse(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// sendUtteranceRequest is the JSON body for POST /envelopes/utterance.
type sendUtteranceRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	SpeakerURI     string `json:"speakerUri" binding:"required"`
	ServiceURL     string `json:"serviceUrl"`
	Target         string `json:"target"`
	Text           string `json:"text" binding:"required"`
	Private        bool   `json:"private"`
}

func (s *Server) handleSendUtterance(c *gin.Context) {
	var req sendUtteranceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Set("speakerUri", req.SpeakerURI)

	env := s.manager.SendUtterance(c.Request.Context(), req.ConversationID,
		envelope.SenderObject{SpeakerURI: req.SpeakerURI, ServiceURL: req.ServiceURL},
		req.Target, req.Text, req.Private)

	c.JSON(http.StatusOK, gin.H{"envelope": env})
}

// floorRequestBody is the JSON body for POST /floor/request and /floor/release.
type floorRequestBody struct {
	ConversationID string `json:"conversationId" binding:"required"`
	SpeakerURI     string `json:"speakerUri" binding:"required"`
	Priority       int    `json:"priority"`
}

func (s *Server) handleFloorRequest(c *gin.Context) {
	var req floorRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Set("speakerUri", req.SpeakerURI)

	granted := s.control.RequestFloor(req.ConversationID, req.SpeakerURI, req.Priority)
	c.JSON(http.StatusOK, gin.H{"granted": granted})
}

func (s *Server) handleFloorRelease(c *gin.Context) {
	var req floorRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Set("speakerUri", req.SpeakerURI)

	released := s.control.YieldFloor(req.ConversationID, req.SpeakerURI)
	if !released {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not the current floor holder"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true})
}

func (s *Server) handleFloorHolder(c *gin.Context) {
	conversationID := c.Param("conversationId")
	holder, ok := s.control.GetHolder(conversationID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"holder": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"holder": holder})
}

// manifestPublishRequest mirrors the publishManifests envelope shape at
// the HTTP boundary (spec.md §4.F).
type manifestPublishRequest struct {
	Manifests []manifestPayload `json:"manifests" binding:"required"`
}

type manifestPayload struct {
	Identification envelope.ConversantIdentification `json:"identification"`
	Capabilities   []string                          `json:"capabilities"`
	Metadata       map[string]any                    `json:"metadata"`
	Status         string                            `json:"status"`
}

func (s *Server) handleManifestsPublish(c *gin.Context) {
	var req manifestPublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records := make([]directory.Manifest, len(req.Manifests))
	for i, m := range req.Manifests {
		records[i] = directory.Manifest{
			Identification: m.Identification,
			Capabilities:   m.Capabilities,
			Metadata:       m.Metadata,
			Status:         directory.Status(m.Status),
		}
	}

	stored := s.directory.Publish(records)
	c.JSON(http.StatusOK, gin.H{"manifests": stored, "count": len(stored)})
}

type manifestFiltersRequest struct {
	Capabilities []string `json:"capabilities"`
	Organization string   `json:"organization"`
	Role         string   `json:"role"`
	SpeakerURI   string   `json:"speakerUri"`
	Status       string   `json:"status"`
}

func (s *Server) handleManifestsGet(c *gin.Context) {
	var req struct {
		Filters manifestFiltersRequest `json:"filters"`
	}
	// An empty body means "no filters"; any other bind error is a 400.
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := s.directory.Search(toDirectoryFilters(req.Filters))
	c.JSON(http.StatusOK, gin.H{"manifests": results, "count": len(results)})
}

func (s *Server) handleManifestsSearch(c *gin.Context) {
	filters := directory.Filters{
		Organization: c.Query("organization"),
		Role:         c.Query("role"),
		SpeakerURI:   c.Query("speakerUri"),
		Status:       directory.Status(c.Query("status")),
	}
	if caps := c.QueryArray("capabilities"); len(caps) > 0 {
		filters.Capabilities = caps
	}

	results := s.directory.Search(filters)
	c.JSON(http.StatusOK, gin.H{"manifests": results, "count": len(results)})
}

func (s *Server) handleManifestsList(c *gin.Context) {
	status := directory.Status(c.DefaultQuery("status", string(directory.StatusActive)))
	results := s.directory.Search(directory.Filters{Status: status})
	c.JSON(http.StatusOK, gin.H{"manifests": results, "count": len(results)})
}

func toDirectoryFilters(req manifestFiltersRequest) directory.Filters {
	return directory.Filters{
		Capabilities: req.Capabilities,
		Organization: req.Organization,
		Role:         req.Role,
		SpeakerURI:   req.SpeakerURI,
		Status:       directory.Status(req.Status),
	}
}
