package config

import (
	"path/filepath"
	"time"
)

// ServerConfig tunes the HTTP/WebSocket front end.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// AuthTokenEnv names the environment variable holding the bearer token
	// clients must present. Empty disables authentication.
	AuthTokenEnv    string        `yaml:"auth_token_env"`
	AllowedOrigins  []string      `yaml:"allowed_origins,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultServerConfig returns the standard listener settings.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:            ":8080",
		AuthTokenEnv:    "SWITCHYARD_API_TOKEN",
		ShutdownTimeout: 10 * time.Second,
	}
}

// StorageConfig locates everything the gateway persists.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	// FsyncEach flushes the cost log and execution state files to stable
	// storage on every write. Slower, but survives power loss.
	FsyncEach bool `yaml:"fsync_each"`
}

// DefaultStorageConfig returns the standard on-disk layout rooted at ./data.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{DataDir: "data"}
}

// CostLogPath is the append-only cost event log.
func (s *StorageConfig) CostLogPath() string {
	return filepath.Join(s.DataDir, "costs.ndjson")
}

// AlertLogPath is the append-only alert log.
func (s *StorageConfig) AlertLogPath() string {
	return filepath.Join(s.DataDir, "alerts.ndjson")
}

// ExecutionsDir holds one state file and one log per workflow execution.
func (s *StorageConfig) ExecutionsDir() string {
	return filepath.Join(s.DataDir, "executions")
}

// SessionDBPath is the SQLite conversation store.
func (s *StorageConfig) SessionDBPath() string {
	return filepath.Join(s.DataDir, "sessions.db")
}
