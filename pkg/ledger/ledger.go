// Package ledger provides the durable, append-only record of model spend.
//
// Every successful invocation lands exactly one CostEvent here; aggregates
// (daily and monthly spend per project or agent) are recomputed from the
// log on read, with a small LRU in front of the hot windows. The log is
// newline-delimited JSON so it can be inspected and replayed with standard
// tools.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// aggregateCacheSize bounds the spend-aggregate LRU. Keys embed the event
// count at computation time, so entries self-invalidate after an append.
const aggregateCacheSize = 256

// maxLineBytes bounds a single cost log line during startup replay.
const maxLineBytes = 1 << 20

// CostEvent is one immutable spend record.
type CostEvent struct {
	Timestamp time.Time `json:"timestamp"`
	ProjectID string    `json:"project_id"`
	AgentID   string    `json:"agent_id"`
	Model     string    `json:"model"`
	TokensIn  int64     `json:"tokens_in"`
	TokensOut int64     `json:"tokens_out"`
	CostUSD   float64   `json:"cost_usd"`
	RequestID string    `json:"request_id"`
}

// QueryFilter selects cost events. Zero fields match everything.
type QueryFilter struct {
	ProjectID string
	AgentID   string
	Since     time.Time
}

// Ledger is the append-only cost log. A single lock serializes writers;
// readers work from the in-memory index, which mirrors the file exactly.
type Ledger struct {
	logger    *slog.Logger
	path      string
	fsyncEach bool

	mu     sync.RWMutex
	file   *os.File
	events []CostEvent

	aggregates *lru.Cache[string, float64]
}

// Open loads the cost log at path, creating it (and parent directories) if
// absent. With fsyncEach set, every append is flushed to stable storage
// before Record returns.
func Open(path string, fsyncEach bool, logger *slog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cost log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open cost log: %w", err)
	}

	l := &Ledger{
		logger:    logger.With("component", "cost_ledger"),
		path:      path,
		fsyncEach: fsyncEach,
	}
	l.aggregates, _ = lru.New[string, float64](aggregateCacheSize)

	if err := l.replay(file); err != nil {
		_ = file.Close()
		return nil, err
	}
	l.file = file

	l.logger.Info("Cost ledger opened", "path", path, "events", len(l.events))
	return l, nil
}

// replay loads all existing events into the in-memory index. A corrupt
// final line (torn write from a crash) is tolerated and logged; corruption
// anywhere else aborts since it means the log was edited or damaged.
func (l *Ledger) replay(file *os.File) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var pendingErr error
	line := 0
	for scanner.Scan() {
		line++
		if pendingErr != nil {
			return fmt.Errorf("cost log corrupt at line %d: %w", line-1, pendingErr)
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var evt CostEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			pendingErr = err
			continue
		}
		l.events = append(l.events, evt)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read cost log: %w", err)
	}
	if pendingErr != nil {
		l.logger.Warn("Dropping torn final line in cost log",
			"path", l.path, "line", line, "error", pendingErr)
	}
	return nil
}

// Record appends one event. The timestamp is stamped at append time when
// unset. The event is visible to readers once Record returns.
func (l *Ledger) Record(evt CostEvent) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal cost event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("append cost event: %w", err)
	}
	if l.fsyncEach {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("sync cost log: %w", err)
		}
	}
	l.events = append(l.events, evt)
	return nil
}

// Query returns a snapshot of events matching the filter, oldest first.
func (l *Ledger) Query(filter QueryFilter) []CostEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	matched := make([]CostEvent, 0)
	for _, evt := range l.events {
		if !matches(evt, filter) {
			continue
		}
		matched = append(matched, evt)
	}
	return matched
}

func matches(evt CostEvent, filter QueryFilter) bool {
	if filter.ProjectID != "" && evt.ProjectID != filter.ProjectID {
		return false
	}
	if filter.AgentID != "" && evt.AgentID != filter.AgentID {
		return false
	}
	if !filter.Since.IsZero() && evt.Timestamp.Before(filter.Since) {
		return false
	}
	return true
}

// DailySpend returns the summed cost for a project on the given UTC day.
// An empty projectID sums across all projects.
func (l *Ledger) DailySpend(projectID string, day time.Time) float64 {
	return l.spend("d", projectID, day.UTC().Format(time.DateOnly))
}

// MonthlySpend returns the summed cost for a project in the given UTC month.
// An empty projectID sums across all projects.
func (l *Ledger) MonthlySpend(projectID string, month time.Time) float64 {
	return l.spend("m", projectID, month.UTC().Format("2006-01"))
}

// ProjectSpend returns the daily and monthly totals for a project at now.
func (l *Ledger) ProjectSpend(projectID string, now time.Time) (daily, monthly float64) {
	return l.DailySpend(projectID, now), l.MonthlySpend(projectID, now)
}

func (l *Ledger) spend(kind, projectID, bucket string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	key := fmt.Sprintf("%s|%s|%s|%d", kind, projectID, bucket, len(l.events))
	if total, ok := l.aggregates.Get(key); ok {
		return total
	}

	layout := time.DateOnly
	if kind == "m" {
		layout = "2006-01"
	}

	var total float64
	for _, evt := range l.events {
		if projectID != "" && evt.ProjectID != projectID {
			continue
		}
		if evt.Timestamp.UTC().Format(layout) != bucket {
			continue
		}
		total += evt.CostUSD
	}
	l.aggregates.Add(key, total)
	return total
}

// SpendByProject aggregates cost per project since the given time.
func (l *Ledger) SpendByProject(since time.Time) map[string]float64 {
	return l.groupBy(since, func(evt CostEvent) string { return evt.ProjectID })
}

// SpendByAgent aggregates cost per agent since the given time.
func (l *Ledger) SpendByAgent(since time.Time) map[string]float64 {
	return l.groupBy(since, func(evt CostEvent) string { return evt.AgentID })
}

// SpendByModel aggregates cost per model since the given time.
func (l *Ledger) SpendByModel(since time.Time) map[string]float64 {
	return l.groupBy(since, func(evt CostEvent) string { return evt.Model })
}

func (l *Ledger) groupBy(since time.Time, key func(CostEvent) string) map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	totals := make(map[string]float64)
	for _, evt := range l.events {
		if !since.IsZero() && evt.Timestamp.Before(since) {
			continue
		}
		totals[key(evt)] += evt.CostUSD
	}
	return totals
}

// Len returns the number of recorded events.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Close releases the underlying file. Record must not be called after.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
