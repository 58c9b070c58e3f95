package api

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/switchyard-ai/switchyard/pkg/fault"
)

// defaultLogTail is how many log lines GET /api/workflows/:id/logs returns
// when the caller does not say.
const defaultLogTail = 200

// ExecuteWorkflowRequest is the HTTP request body for POST /api/workflows/execute.
type ExecuteWorkflowRequest struct {
	WorkflowID string         `json:"workflow_id"`
	ProjectID  string         `json:"project_id,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// ExecuteWorkflowResponse is the HTTP response for POST /api/workflows/execute.
type ExecuteWorkflowResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
}

// workflowExecuteHandler handles POST /api/workflows/execute. The execution
// runs asynchronously; callers poll the status endpoint.
func (s *Server) workflowExecuteHandler(c *echo.Context) error {
	var req ExecuteWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return mapFault(c, fault.Wrap(fault.InvalidInput, "malformed request body", err))
	}
	if req.ProjectID == "" {
		req.ProjectID = defaultProject
	}

	exec, err := s.dispatcher.ExecuteWorkflow(c.Request().Context(), req.WorkflowID, req.ProjectID, req.Context)
	if err != nil {
		return mapFault(c, err)
	}
	return c.JSON(http.StatusAccepted, &ExecuteWorkflowResponse{
		ExecutionID: exec.ID,
		Status:      string(exec.Status),
	})
}

// workflowStatusHandler handles GET /api/workflows/:id/status.
func (s *Server) workflowStatusHandler(c *echo.Context) error {
	exec, err := s.engine.Status(c.Param("id"))
	if err != nil {
		return mapFault(c, err)
	}
	return c.JSON(http.StatusOK, exec)
}

// workflowLogsHandler handles GET /api/workflows/:id/logs. The tail is served
// as newline-delimited JSON, one task log entry per line.
func (s *Server) workflowLogsHandler(c *echo.Context) error {
	lines := defaultLogTail
	if raw := c.QueryParam("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return mapFault(c, fault.New(fault.InvalidInput, "lines must be a positive integer"))
		}
		lines = n
	}

	entries, err := s.engine.Logs(c.Param("id"), lines)
	if err != nil {
		return mapFault(c, err)
	}
	if len(entries) == 0 {
		return c.String(http.StatusOK, "")
	}
	return c.String(http.StatusOK, strings.Join(entries, "\n")+"\n")
}

// CancelWorkflowResponse is the HTTP response for DELETE /api/workflows/:id.
type CancelWorkflowResponse struct {
	Cancelled bool `json:"cancelled"`
}

// workflowCancelHandler handles DELETE /api/workflows/:id. Cancelled reports
// false when the execution already reached a terminal state or is unknown.
func (s *Server) workflowCancelHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &CancelWorkflowResponse{
		Cancelled: s.engine.Cancel(c.Param("id")),
	})
}
