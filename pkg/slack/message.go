package slack

import (
	"fmt"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/switchyard-ai/switchyard/pkg/events"
)

const maxBlockTextLength = 2900

var eventEmoji = map[string]string{
	events.EventTypeBudgetHalted:  ":rotating_light:",
	events.EventTypeBudgetWarning: ":warning:",
	events.EventTypeBreakerState:  ":red_circle:",
	events.EventTypeAgentTimeout:  ":ghost:",
}

var eventLabel = map[string]string{
	events.EventTypeBudgetHalted:  "Budget halted",
	events.EventTypeBudgetWarning: "Budget warning",
	events.EventTypeBreakerState:  "Circuit opened",
	events.EventTypeAgentTimeout:  "Agent timed out",
}

func header(eventType string) string {
	emoji := eventEmoji[eventType]
	if emoji == "" {
		emoji = ":bell:"
	}
	label := eventLabel[eventType]
	if label == "" {
		label = eventType
	}
	return fmt.Sprintf("%s *%s*", emoji, label)
}

func sectionBlocks(headerText, body string) []goslack.Block {
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}
	if body != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(body), false, false),
			nil, nil,
		))
	}
	return blocks
}

// BuildBudgetMessage creates Block Kit blocks for a budget warning or halt.
// The returned fallback doubles as the notification text and dedupe key.
func BuildBudgetMessage(eventType string, p events.BudgetPayload) (string, []goslack.Block) {
	fallback := fmt.Sprintf("%s: project %q at $%.2f of $%.2f (%s)",
		eventLabel[eventType], p.ProjectID, p.CurrentSpend, p.Limit, p.Gate)

	body := fmt.Sprintf("*Project:* %s\n*Gate:* %s\n*Spend:* $%.4f of $%.4f\n*Remaining:* $%.4f",
		p.ProjectID, p.Gate, p.CurrentSpend, p.Limit, p.Remaining)
	if eventType == events.EventTypeBudgetHalted {
		body += "\nNew tasks for this project are rejected until the halt is cleared."
	}

	return fallback, sectionBlocks(header(eventType), body)
}

// BuildBreakerMessage creates Block Kit blocks for a circuit opening.
func BuildBreakerMessage(p events.BreakerPayload) (string, []goslack.Block) {
	fallback := fmt.Sprintf("Circuit opened: agent %q after %d failures", p.AgentID, p.Failures)

	body := fmt.Sprintf("*Agent:* %s\n*Failures:* %d", p.AgentID, p.Failures)
	if p.Reason != "" {
		body += "\n*Reason:* " + p.Reason
	}

	return fallback, sectionBlocks(header(events.EventTypeBreakerState), body)
}

// BuildAgentMessage creates Block Kit blocks for an agent liveness timeout.
func BuildAgentMessage(p events.AgentPayload) (string, []goslack.Block) {
	fallback := fmt.Sprintf("Agent timed out: %q unregistered after missed heartbeats", p.AgentID)

	body := "*Agent:* " + p.AgentID
	if !p.LastSeen.IsZero() {
		body += "\n*Last seen:* " + p.LastSeen.UTC().Format(time.RFC3339)
	}
	if p.Detail != "" {
		body += "\n" + p.Detail
	}

	return fallback, sectionBlocks(header(events.EventTypeAgentTimeout), body)
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
