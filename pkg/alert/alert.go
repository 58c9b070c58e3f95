// Package alert persists operator-facing alerts to an append-only log and
// keeps a bounded in-memory window for the health endpoints.
package alert

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level grades an alert's severity.
type Level string

const (
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// recentCap bounds how many alerts the in-memory window retains.
const recentCap = 500

// maxLineBytes bounds a single alert log line during startup replay.
const maxLineBytes = 1 << 20

// Alert is one durable operator notification.
type Alert struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// Store appends alerts to a newline-delimited JSON log. Writers are
// serialized; the recent window is replayed from the log on open.
type Store struct {
	logger *slog.Logger
	path   string

	mu     sync.RWMutex
	file   *os.File
	recent []Alert
}

// Open loads the alert log at path, creating it if absent.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create alert log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open alert log: %w", err)
	}

	s := &Store{
		logger: logger.With("component", "alert_store"),
		path:   path,
	}
	s.replay(file)
	s.file = file
	return s, nil
}

// replay restores the recent window from the log. Unparseable lines are
// skipped: the log is advisory history, not a source of truth worth
// refusing startup over.
func (s *Store) replay(file *os.File) {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var a Alert
		if err := json.Unmarshal(raw, &a); err != nil {
			s.logger.Warn("Skipping unparseable alert log line", "error", err)
			continue
		}
		s.append(a)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("Alert log replay stopped early", "path", s.path, "error", err)
	}
}

func (s *Store) append(a Alert) {
	if len(s.recent) == recentCap {
		copy(s.recent, s.recent[1:])
		s.recent[len(s.recent)-1] = a
		return
	}
	s.recent = append(s.recent, a)
}

// Record appends one alert to the log and the recent window.
func (s *Store) Record(a Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("append alert: %w", err)
	}
	s.append(a)
	return nil
}

// Warn records a warning-level alert. Persistence failures are logged and
// swallowed so alerting never takes down the path that raised it.
func (s *Store) Warn(component, message string, details map[string]any) {
	s.record(LevelWarning, component, message, details)
}

// Critical records a critical-level alert with the same failure policy as
// Warn.
func (s *Store) Critical(component, message string, details map[string]any) {
	s.record(LevelCritical, component, message, details)
}

func (s *Store) record(level Level, component, message string, details map[string]any) {
	a := Alert{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Component: component,
		Message:   message,
		Details:   details,
	}
	if err := s.Record(a); err != nil {
		s.logger.Error("Failed to persist alert",
			"level", level, "alert_component", component, "message", message, "error", err)
	}
}

// Recent returns up to limit alerts, newest first.
func (s *Store) Recent(limit int) []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	out := make([]Alert, limit)
	for i := range limit {
		out[i] = s.recent[len(s.recent)-1-i]
	}
	return out
}

// CountSince returns how many alerts at the given level arrived at or after
// since, within the retained window.
func (s *Store) CountSince(level Level, since time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, a := range s.recent {
		if a.Level == level && !a.Timestamp.Before(since) {
			count++
		}
	}
	return count
}

// Close releases the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
