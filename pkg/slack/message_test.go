package slack

import (
	"strings"
	"testing"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-ai/switchyard/pkg/events"
)

func sectionText(t *testing.T, block goslack.Block) string {
	t.Helper()
	section, ok := block.(*goslack.SectionBlock)
	require.True(t, ok, "expected a section block")
	return section.Text.Text
}

func TestBuildBudgetMessage_Halted(t *testing.T) {
	fallback, blocks := BuildBudgetMessage(events.EventTypeBudgetHalted, events.BudgetPayload{
		ProjectID:    "research",
		Gate:         "daily",
		CurrentSpend: 25.10,
		Limit:        25.00,
		Remaining:    0,
	})

	assert.Contains(t, fallback, "Budget halted")
	assert.Contains(t, fallback, `"research"`)
	assert.Contains(t, fallback, "daily")

	require.Len(t, blocks, 2)
	assert.Contains(t, sectionText(t, blocks[0]), ":rotating_light:")
	assert.Contains(t, sectionText(t, blocks[0]), "Budget halted")

	body := sectionText(t, blocks[1])
	assert.Contains(t, body, "research")
	assert.Contains(t, body, "$25.1000 of $25.0000")
	assert.Contains(t, body, "rejected until the halt is cleared")
}

func TestBuildBudgetMessage_Warning(t *testing.T) {
	fallback, blocks := BuildBudgetMessage(events.EventTypeBudgetWarning, events.BudgetPayload{
		ProjectID:    "research",
		Gate:         "monthly",
		CurrentSpend: 160,
		Limit:        200,
		Remaining:    40,
	})

	assert.Contains(t, fallback, "Budget warning")

	require.Len(t, blocks, 2)
	assert.Contains(t, sectionText(t, blocks[0]), ":warning:")

	body := sectionText(t, blocks[1])
	assert.Contains(t, body, "*Remaining:* $40.0000")
	assert.NotContains(t, body, "rejected until")
}

func TestBuildBreakerMessage(t *testing.T) {
	fallback, blocks := BuildBreakerMessage(events.BreakerPayload{
		AgentID:  "dev-agent",
		From:     "closed",
		To:       "open",
		Failures: 3,
		Reason:   "upstream timeout",
	})

	assert.Contains(t, fallback, "Circuit opened")
	assert.Contains(t, fallback, `"dev-agent"`)
	assert.Contains(t, fallback, "3 failures")

	require.Len(t, blocks, 2)
	assert.Contains(t, sectionText(t, blocks[0]), ":red_circle:")

	body := sectionText(t, blocks[1])
	assert.Contains(t, body, "*Failures:* 3")
	assert.Contains(t, body, "*Reason:* upstream timeout")
}

func TestBuildAgentMessage(t *testing.T) {
	lastSeen := time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC)
	fallback, blocks := BuildAgentMessage(events.AgentPayload{
		AgentID:  "dev-agent",
		LastSeen: lastSeen,
		Detail:   "unregistered after 30m silence",
	})

	assert.Contains(t, fallback, "Agent timed out")
	assert.Contains(t, fallback, `"dev-agent"`)

	require.Len(t, blocks, 2)
	assert.Contains(t, sectionText(t, blocks[0]), ":ghost:")

	body := sectionText(t, blocks[1])
	assert.Contains(t, body, "2026-02-11T09:30:00Z")
	assert.Contains(t, body, "unregistered after 30m silence")
}

func TestTruncateForSlack(t *testing.T) {
	short := "short message"
	assert.Equal(t, short, truncateForSlack(short))

	long := strings.Repeat("x", maxBlockTextLength+100)
	truncated := truncateForSlack(long)
	assert.Less(t, len(truncated), len(long))
	assert.Contains(t, truncated, "truncated")
}
