// Package api exposes the one concrete HTTP surface the ingestion
// pipeline (C9) and router (C10) get in this repo: a thin gin layer over
// POST /v1/memories and POST /v1/query, plus GET /health.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smileformylove/memscreen/engine"
	"github.com/smileformylove/memscreen/ingest"
	"github.com/smileformylove/memscreen/memory"
)

// Server adapts an *engine.Engine to gin handlers. Request DTOs are
// validated through gin's own binding tags, which go-playground/validator
// backs directly — no separate validator.Validate instance is needed
// alongside it.
type Server struct {
	eng *engine.Engine
}

// NewServer constructs a Server over an already-wired Engine.
func NewServer(eng *engine.Engine) *Server {
	return &Server{eng: eng}
}

// NewRouter builds the gin.Engine with every route registered. Callers
// run it themselves (router.Run(addr)) so Server stays test-friendly via
// httptest without binding a socket.
func (s *Server) NewRouter() *gin.Engine {
	r := gin.Default()
	r.GET("/health", s.Health)
	v1 := r.Group("/v1")
	v1.POST("/memories", s.AddMemories)
	v1.POST("/query", s.Query)
	return r
}

// Health handles GET /health.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// memoryMessage mirrors ingest.Message for JSON binding.
type memoryMessage struct {
	Role    string `json:"role" binding:"required,oneof=system user assistant"`
	Content string `json:"content" binding:"required"`
	Name    string `json:"name"`
}

// addMemoriesRequest is POST /v1/memories's body, mirroring ingest.Request
// (§6's "messages, scope ids, infer, memory_type, version").
type addMemoriesRequest struct {
	Messages   []memoryMessage `json:"messages" binding:"required,min=1,dive"`
	UserID     string          `json:"user_id"`
	AgentID    string          `json:"agent_id"`
	RunID      string          `json:"run_id"`
	Metadata   map[string]any  `json:"metadata"`
	Infer      *bool           `json:"infer"`
	MemoryType string          `json:"memory_type" binding:"omitempty,oneof=procedural"`
	Version    string          `json:"version" binding:"omitempty,oneof=v1.0 v1.1"`
}

// AddMemories handles POST /v1/memories: binds the request, validates the
// scope, and delegates to ingest.Pipeline.Add.
func (s *Server) AddMemories(c *gin.Context) {
	var req addMemoriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scope := memory.ScopeKey{UserID: req.UserID, AgentID: req.AgentID, RunID: req.RunID}
	if err := scope.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	messages := make([]ingest.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = ingest.Message{Role: ingest.Role(m.Role), Content: m.Content, Name: m.Name}
	}

	infer := true
	if req.Infer != nil {
		infer = *req.Infer
	}

	version := ingest.APIVersionV11
	if req.Version != "" {
		version = ingest.APIVersion(req.Version)
	}

	result, err := s.eng.Ingest.Add(c.Request.Context(), ingest.Request{
		Messages:   messages,
		Scope:      scope,
		Metadata:   req.Metadata,
		Infer:      infer,
		MemoryType: ingest.MemoryType(req.MemoryType),
		Version:    version,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// queryRequest is POST /v1/query's body: a single input string dispatched
// through the router (C10).
type queryRequest struct {
	Input string `json:"input" binding:"required"`
}

type queryResponse struct {
	Response string `json:"response"`
}

// Query handles POST /v1/query: classifies and dispatches req.Input
// through router.Router.Route.
func (s *Server) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, err := s.eng.Router.Route(c.Request.Context(), req.Input)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, queryResponse{Response: response})
}
