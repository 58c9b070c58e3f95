package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/switchyard-ai/switchyard/pkg/fault"
	"github.com/switchyard-ai/switchyard/pkg/ledger"
)

// defaultCostWindowHours is the aggregation window for GET /api/costs/summary
// when the caller does not say.
const defaultCostWindowHours = 24

// CostSummaryResponse is the body for GET /api/costs/summary.
type CostSummaryResponse struct {
	WindowHours int                `json:"window_hours"`
	TotalUSD    float64            `json:"total_usd"`
	Events      int                `json:"events"`
	ByProject   map[string]float64 `json:"by_project"`
	ByAgent     map[string]float64 `json:"by_agent"`
	ByModel     map[string]float64 `json:"by_model"`
}

// costSummaryHandler handles GET /api/costs/summary?hours=N.
func (s *Server) costSummaryHandler(c *echo.Context) error {
	hours := defaultCostWindowHours
	if raw := c.QueryParam("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return mapFault(c, fault.New(fault.InvalidInput, "hours must be a positive integer"))
		}
		hours = n
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	byProject := s.ledger.SpendByProject(since)
	total := 0.0
	for _, usd := range byProject {
		total += usd
	}

	return c.JSON(http.StatusOK, &CostSummaryResponse{
		WindowHours: hours,
		TotalUSD:    total,
		Events:      len(s.ledger.Query(ledger.QueryFilter{Since: since})),
		ByProject:   byProject,
		ByAgent:     s.ledger.SpendByAgent(since),
		ByModel:     s.ledger.SpendByModel(since),
	})
}
