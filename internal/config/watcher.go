package config

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// debounceEnvWrite is the minimum spacing between two applied reloads of
// the same .env file; overridable in tests.
var debounceEnvWrite = 250 * time.Millisecond

// ConfigWatcher watches the data directory's ".env" file and reapplies it
// to a live Config on change, without requiring a process restart.
type ConfigWatcher struct {
	cfg         *Config
	fsw         *fsnotify.Watcher
	envPath     string
	lastEnvHash string
	lastApplied time.Time
	stop        chan struct{}
}

// NewConfigWatcher returns a watcher for cfg's data directory. The watched
// directory (not the file itself) is watched, since editors commonly
// replace rather than truncate-and-rewrite the file.
func NewConfigWatcher(cfg *Config) (*ConfigWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(cfg.DataDir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &ConfigWatcher{
		cfg:     cfg,
		fsw:     fsw,
		envPath: filepath.Join(cfg.DataDir, ".env"),
		stop:    make(chan struct{}),
	}, nil
}

// Start begins watching in the background.
func (cw *ConfigWatcher) Start() error {
	go cw.handleEvents(cw.fsw.Events, cw.fsw.Errors)
	return nil
}

// Stop releases the underlying OS watch.
func (cw *ConfigWatcher) Stop() {
	select {
	case <-cw.stop:
	default:
		close(cw.stop)
	}
	cw.fsw.Close()
}

func (cw *ConfigWatcher) handleEvents(events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-cw.stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(cw.envPath) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if time.Since(cw.lastApplied) < debounceEnvWrite {
				continue
			}
			cw.ReloadConfig()
		case err, ok := <-errs:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher: fsnotify error")
		}
	}
}

// ReloadConfig re-reads the .env file and applies any changed values to the
// live Config, skipping entirely if the file's content hash is unchanged.
func (cw *ConfigWatcher) ReloadConfig() {
	data, err := os.ReadFile(cw.envPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("config watcher: failed to read .env")
		}
		return
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if hash == cw.lastEnvHash {
		return
	}
	cw.lastEnvHash = hash
	cw.lastApplied = time.Now()

	vars, err := godotenv.Unmarshal(string(data))
	if err != nil {
		log.Warn().Err(err).Msg("config watcher: failed to parse .env")
		return
	}

	Mu.Lock()
	defer Mu.Unlock()
	for k, v := range vars {
		applyEnvVar(cw.cfg, k, v)
	}
}

func applyEnvVar(cfg *Config, key, value string) {
	switch key {
	case envLogFormat:
		cfg.LogFormat = value
	case envLogLevel:
		cfg.LogLevel = value
	case envListenAddr:
		cfg.ListenAddr = value
	case envRPCListenAddr:
		cfg.RPCListenAddr = value
	case envMetricsListenAddr:
		cfg.MetricsListenAddr = value
	case envPostgresDSN:
		cfg.PostgresDSN = value
	case envHookTimeoutSec:
		if secs, err := strconv.Atoi(value); err == nil {
			cfg.HookTimeoutSec = secs
		}
	}
}
