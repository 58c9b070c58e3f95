package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrExecutionNotFound reports a lookup for an execution that was never
// persisted.
var ErrExecutionNotFound = errors.New("execution not found")

// LogEntry is one NDJSON line in an execution's log file.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	TaskID    string    `json:"task_id,omitempty"`
	Message   string    `json:"message"`
}

// Store persists executions under one directory: <id>.json holds the state,
// <id>.log the NDJSON activity log. State writes go through a temp file and
// rename so a crash mid-write never corrupts a record.
type Store struct {
	dir       string
	fsyncEach bool
	logger    *slog.Logger

	// mu serializes log appends from parallel tasks. State writes need no
	// lock: each execution has a single writer goroutine.
	mu sync.Mutex
}

// NewStore opens (and creates if needed) the executions directory.
func NewStore(dir string, fsyncEach bool, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create executions directory: %w", err)
	}
	return &Store{
		dir:       dir,
		fsyncEach: fsyncEach,
		logger:    logger.With("component", "workflow_store"),
	}, nil
}

func (s *Store) statePath(id string) string { return filepath.Join(s.dir, id+".json") }
func (s *Store) logPath(id string) string   { return filepath.Join(s.dir, id+".log") }

// Save writes the execution state atomically.
func (s *Store) Save(e *Execution) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", e.ID, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, e.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("stage execution %s: %w", e.ID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("stage execution %s: %w", e.ID, err)
	}
	if s.fsyncEach {
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return fmt.Errorf("sync execution %s: %w", e.ID, err)
		}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("stage execution %s: %w", e.ID, err)
	}
	if err := os.Rename(tmp.Name(), s.statePath(e.ID)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("persist execution %s: %w", e.ID, err)
	}
	return nil
}

// Load reads one persisted execution.
func (s *Store) Load(id string) (*Execution, error) {
	raw, err := os.ReadFile(s.statePath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
		}
		return nil, fmt.Errorf("read execution %s: %w", id, err)
	}
	var e Execution
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode execution %s: %w", id, err)
	}
	return &e, nil
}

// List returns every persisted execution, newest first. Unreadable records
// are skipped with an error log rather than failing the whole listing.
func (s *Store) List() ([]*Execution, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read executions directory: %w", err)
	}

	var execs []*Execution
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		e, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.logger.Error("Skipping unreadable execution record", "file", name, "error", err)
			continue
		}
		execs = append(execs, e)
	}
	sort.Slice(execs, func(i, j int) bool { return execs[i].StartedAt.After(execs[j].StartedAt) })
	return execs, nil
}

// Prune removes the state and log files of finished executions that ended
// before the cutoff. Running and pending executions are never touched.
// Returns how many executions were removed.
func (s *Store) Prune(olderThan time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read executions directory: %w", err)
	}

	pruned := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		e, err := s.Load(id)
		if err != nil {
			s.logger.Error("Skipping unreadable execution record", "file", name, "error", err)
			continue
		}
		if !e.Status.Terminal() || e.EndedAt == nil || !e.EndedAt.Before(olderThan) {
			continue
		}
		if err := os.Remove(s.statePath(id)); err != nil {
			s.logger.Error("Removing execution state failed", "execution_id", id, "error", err)
			continue
		}
		if err := os.Remove(s.logPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Error("Removing execution log failed", "execution_id", id, "error", err)
		}
		pruned++
	}
	return pruned, nil
}

// AppendLog adds one line to the execution's activity log. Logging is best
// effort: failures are reported on the process log but never propagate into
// the execution's outcome.
func (s *Store) AppendLog(id string, entry LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("Encoding execution log entry failed", "execution_id", id, "error", err)
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.logPath(id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Error("Opening execution log failed", "execution_id", id, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		s.logger.Error("Appending execution log failed", "execution_id", id, "error", err)
	}
}

// ReadLog returns up to maxLines of the execution's log, oldest first,
// keeping the newest lines when truncating. maxLines <= 0 returns everything.
func (s *Store) ReadLog(id string, maxLines int) ([]string, error) {
	raw, err := os.ReadFile(s.logPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// An execution can exist before its first log line.
			if _, serr := os.Stat(s.statePath(id)); serr == nil {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
		}
		return nil, fmt.Errorf("read execution log %s: %w", id, err)
	}

	text := strings.TrimRight(string(raw), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines, nil
}
