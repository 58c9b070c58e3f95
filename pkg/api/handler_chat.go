package api

import (
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/switchyard-ai/switchyard/pkg/dispatch"
	"github.com/switchyard-ai/switchyard/pkg/fault"
)

// defaultProject attributes cost for callers that never set a project.
const defaultProject = "default"

// maxContentLength bounds a single prompt body.
const maxContentLength = 100_000

// ChatRequest is the HTTP request body for POST /api/chat.
type ChatRequest struct {
	Content    string            `json:"content"`
	ProjectID  string            `json:"project_id,omitempty"`
	AgentID    string            `json:"agent_id,omitempty"`
	SessionKey string            `json:"session_key,omitempty"`
	Estimate   dispatch.Estimate `json:"estimate,omitempty"`
}

// chatHandler handles POST /api/chat: one request through the full dispatch
// path, gates and routing included.
func (s *Server) chatHandler(c *echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return mapFault(c, fault.Wrap(fault.InvalidInput, "malformed request body", err))
	}
	if req.Content == "" {
		return mapFault(c, fault.New(fault.InvalidInput, "content is required"))
	}
	if len(req.Content) > maxContentLength {
		return mapFault(c, fault.Newf(fault.InvalidInput, "content exceeds maximum length of %d characters", maxContentLength))
	}
	if req.ProjectID == "" {
		req.ProjectID = defaultProject
	}
	// Mint a session key for first-contact callers so the response always
	// carries one they can continue the conversation with.
	if req.SessionKey == "" {
		req.SessionKey = uuid.NewString()
	}

	resp, err := s.dispatcher.Dispatch(c.Request().Context(), &dispatch.Request{
		ProjectID:  req.ProjectID,
		SessionKey: req.SessionKey,
		Prompt:     req.Content,
		AgentHint:  req.AgentID,
		Estimate:   req.Estimate,
	})
	if err != nil {
		return mapFault(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// RouteRequest is the HTTP request body for POST /api/route.
type RouteRequest struct {
	Query      string `json:"query"`
	SessionKey string `json:"session_key,omitempty"`
}

// routeHandler handles POST /api/route: a routing decision with no
// invocation, gates untouched.
func (s *Server) routeHandler(c *echo.Context) error {
	var req RouteRequest
	if err := c.Bind(&req); err != nil {
		return mapFault(c, fault.Wrap(fault.InvalidInput, "malformed request body", err))
	}

	decision, err := s.dispatcher.Route(c.Request().Context(), req.SessionKey, req.Query)
	if err != nil {
		return mapFault(c, err)
	}
	return c.JSON(http.StatusOK, decision)
}
