package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/switchyard-ai/switchyard/pkg/budget"
	"github.com/switchyard-ai/switchyard/pkg/fault"
)

// QuotaCounters is the concurrency view inside QuotaStatusResponse.
type QuotaCounters struct {
	ActiveTotal   int `json:"active_total"`
	ActiveProject int `json:"active_project"`
	MaxQueueSize  int `json:"max_queue_size"`
}

// QuotaStatusResponse is the body for GET /api/quotas/status/:project.
type QuotaStatusResponse struct {
	Budget budget.ProjectStatus `json:"budget"`
	Quota  QuotaCounters        `json:"quota"`
}

// quotaStatusHandler handles GET /api/quotas/status/:project: the project's
// spend against its limits plus the admission counters that would gate its
// next request. Unregistered projects are legal and report global defaults.
func (s *Server) quotaStatusHandler(c *echo.Context) error {
	projectID := c.Param("project")
	if projectID == "" {
		return mapFault(c, fault.New(fault.InvalidInput, "project id is required"))
	}

	qs := s.quota.Status()
	return c.JSON(http.StatusOK, &QuotaStatusResponse{
		Budget: s.budget.Status(projectID),
		Quota: QuotaCounters{
			ActiveTotal:   qs.Active,
			ActiveProject: qs.ByProject[projectID],
			MaxQueueSize:  qs.MaxQueueSize,
		},
	})
}
