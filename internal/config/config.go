// Package config loads and hot-reloads the daemon's runtime configuration:
// an optional ".env" file under the data directory, overridden by process
// environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/joho/godotenv"
)

// Mu guards every field of a live Config while the watcher goroutine may be
// rewriting it out from under readers.
var Mu sync.RWMutex

// Config is the daemon's resolved runtime configuration.
type Config struct {
	DataDir           string
	ClaudeProjectsDir string
	LogFormat         string // "console" or "json"
	LogLevel          string
	ListenAddr        string
	RPCListenAddr     string
	MetricsListenAddr string
	PostgresDSN       string // empty selects the embedded SQLite backend
	HookTimeoutSec    int
}

const (
	envDataDir           = "HAN_DATA_DIR"
	envProjectsDir       = "HAN_CLAUDE_PROJECTS_DIR"
	envLogFormat         = "HAN_LOG_FORMAT"
	envLogLevel          = "HAN_LOG_LEVEL"
	envListenAddr        = "HAN_LISTEN_ADDR"
	envRPCListenAddr     = "HAN_RPC_LISTEN_ADDR"
	envMetricsListenAddr = "HAN_METRICS_LISTEN_ADDR"
	envPostgresDSN       = "HAN_POSTGRES_DSN"
	envHookTimeoutSec    = "HAN_HOOK_TIMEOUT_SECONDS"
)

func defaultDataDir() string {
	home, err := homedir.Dir()
	if err != nil || home == "" {
		return ".han"
	}
	return filepath.Join(home, ".han")
}

// Load resolves Config from the ".env" file in the data directory (if
// present), then applies process environment overrides on top — env vars
// always win over the file, matching the precedence the daemon documents.
func Load() (*Config, error) {
	dataDir := os.Getenv(envDataDir)
	if dataDir == "" {
		dataDir = defaultDataDir()
	}

	envPath := filepath.Join(dataDir, ".env")
	if fileVars, err := godotenv.Read(envPath); err == nil {
		for k, v := range fileVars {
			if os.Getenv(k) == "" {
				os.Setenv(k, v)
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg := &Config{
		DataDir:           dataDir,
		ClaudeProjectsDir: getenvDefault(envProjectsDir, filepath.Join(filepath.Dir(dataDir), ".claude", "projects")),
		LogFormat:         getenvDefault(envLogFormat, "console"),
		LogLevel:          getenvDefault(envLogLevel, "info"),
		ListenAddr:        getenvDefault(envListenAddr, "127.0.0.1:41956"),
		RPCListenAddr:     getenvDefault(envRPCListenAddr, "127.0.0.1:41958"),
		MetricsListenAddr: getenvDefault(envMetricsListenAddr, "127.0.0.1:9090"),
		PostgresDSN:       os.Getenv(envPostgresDSN),
		HookTimeoutSec:    getenvIntDefault(envHookTimeoutSec, 120),
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
