package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebushidocollective/han/internal/bus"
	"github.com/thebushidocollective/han/internal/config"
	"github.com/thebushidocollective/han/internal/hooks"
	"github.com/thebushidocollective/han/internal/indexer"
	"github.com/thebushidocollective/han/internal/lock"
	"github.com/thebushidocollective/han/internal/metrics"
	"github.com/thebushidocollective/han/internal/query"
	"github.com/thebushidocollective/han/internal/rpc"
	"github.com/thebushidocollective/han/internal/storage"
	"github.com/thebushidocollective/han/internal/transport"
	"github.com/thebushidocollective/han/internal/watcher"
)

// Version information (set at build time with -ldflags).
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "han",
	Short:   "han - a local observability daemon for AI coding assistant transcripts",
	Long:    "han indexes Claude Code (and compatible) JSONL session transcripts into a queryable knowledge base, runs plugin hooks on tool events, and serves a local query/subscription API.",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("han %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.LogFormat == "json" {
		log.Logger = log.Output(os.Stderr)
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogger(cfg)
	log.Info().Str("data_dir", cfg.DataDir).Msg("starting han daemon")

	coordinator, err := lock.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve coordinator lock path")
	}
	if err := coordinator.Acquire(nil); err != nil {
		var already *lock.AlreadyLockedError
		if ok := asAlreadyLocked(err, &already); ok {
			log.Fatal().Int("pid", already.PID).Msg("another han daemon already holds the coordinator lock")
		}
		log.Fatal().Err(err).Msg("failed to acquire coordinator lock")
	}
	metrics.LockHeld.Set(1)
	stopHeartbeat := coordinator.StartHeartbeat()
	defer stopHeartbeat()
	defer func() {
		if err := coordinator.Release(); err != nil {
			log.Warn().Err(err).Msg("failed to release coordinator lock")
		}
		metrics.LockHeld.Set(0)
	}()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage backend")
	}
	defer store.Close()

	evBus := bus.New()
	ix := indexer.New(store, evBus)

	if err := os.MkdirAll(cfg.ClaudeProjectsDir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", cfg.ClaudeProjectsDir).Msg("failed to ensure projects dir exists")
	}
	configDirID, err := ensureDefaultConfigDir(context.Background(), store, cfg.ClaudeProjectsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register default config dir")
	}

	fw, err := watcher.New(cfg.ClaudeProjectsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start file watcher")
	}
	defer fw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runIndexLoop(ctx, ix, fw, configDirID)

	hookEngine := hooks.NewEngine()
	plugins := discoverPlugins()

	// The cache sweep has no per-key affected-files source wired yet: doing
	// so requires plumbing the per-event file list the engine consults at
	// invocation time back out to a durable per-plugin record. An empty set
	// means the sweep is a no-op until that wiring exists; hook invocations
	// still validate normally.
	scheduler, err := hooks.NewScheduler(hookEngine, "*/5 * * * *", func() map[hooks.CacheKey][]string {
		return nil
	}, func() {
		sweepStaleAsyncHooks(context.Background(), store)
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to create hook cache sweep scheduler")
	} else {
		scheduler.Start()
		defer scheduler.Stop()
	}

	rpcServer := rpc.NewServer(store, coordinator, ix, hookEngine, configDirID, Version)
	rpcServer.SetPlugins(plugins)
	rpcHTTPServer := newHTTPServer(cfg.RPCListenAddr, rpcServer)
	go func() {
		log.Info().Str("addr", cfg.RPCListenAddr).Msg("rpc server listening")
		if err := rpcHTTPServer.ListenAndServe(); err != nil && !isServerClosed(err) {
			log.Fatal().Err(err).Msg("rpc server failed")
		}
	}()

	configWatcher, err := config.NewConfigWatcher(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create config watcher, .env changes will require a restart")
	} else {
		if err := configWatcher.Start(); err != nil {
			log.Warn().Err(err).Msg("failed to start config watcher")
		}
		defer configWatcher.Stop()
	}

	exec := query.NewExecutor(store)
	srv := transport.NewServer(func(q string, vars map[string]any) transport.QueryResponse {
		res := exec.Run(ctx, q, vars)
		return transport.QueryResponse{Data: res.Data, Errors: res.Errors}
	}, Version, nil)

	httpServer := newHTTPServer(cfg.ListenAddr, srv)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("query server listening")
		if err := httpServer.ListenAndServe(); err != nil && !isServerClosed(err) {
			log.Fatal().Err(err).Msg("query server failed")
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsHTTPServer := newHTTPServer(cfg.MetricsListenAddr, metricsMux)
	go func() {
		log.Info().Str("addr", cfg.MetricsListenAddr).Msg("metrics server listening")
		if err := metricsHTTPServer.ListenAndServe(); err != nil && !isServerClosed(err) {
			log.Warn().Err(err).Msg("metrics server failed")
		}
	}()

	waitForShutdown(ctx, cancel, httpServer, rpcHTTPServer, metricsHTTPServer)
	log.Info().Msg("han daemon stopped")
	return nil
}

// discoverPlugins finds hook manifests under the conventional plugin root,
// ~/.claude/plugins/<plugin>/.
func discoverPlugins() []hooks.Plugin {
	home, err := homedir.Dir()
	if err != nil || home == "" {
		return nil
	}
	pluginsDir := filepath.Join(home, ".claude", "plugins")
	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		return nil
	}
	var roots []string
	for _, e := range entries {
		if e.IsDir() {
			roots = append(roots, filepath.Join(pluginsDir, e.Name()))
		}
	}
	return hooks.Discover(roots)
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.PostgresDSN != "" {
		return storage.OpenPostgres(context.Background(), cfg.PostgresDSN)
	}
	dbPath := filepath.Join(cfg.DataDir, "han.db")
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	return storage.OpenSQLite(dbPath)
}

// ensureDefaultConfigDir registers path as the default ConfigDir on first
// run, returning its id (existing or newly created).
func ensureDefaultConfigDir(ctx context.Context, store storage.Store, path string) (string, error) {
	dirs, err := store.ListConfigDirs(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range dirs {
		if d.AbsolutePath == path {
			return d.ID, nil
		}
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	err = store.UpsertConfigDir(ctx, storage.ConfigDir{
		ID:           id,
		AbsolutePath: path,
		DisplayName:  filepath.Base(path),
		IsDefault:    len(dirs) == 0,
		RegisteredAt: now,
	})
	return id, err
}

// asyncHookStaleAfter is how long a queued hook work item may sit in
// pending/running before the scheduler's sweep gives up on it and marks it
// cancelled.
const asyncHookStaleAfter = 10 * time.Minute

// sweepStaleAsyncHooks cancels AsyncHookQueue entries the RPC hook-run path
// enqueued but never completed (e.g. the daemon restarted mid-run), so
// ListPendingAsyncHooks doesn't accumulate rows no orchestration will ever
// finish.
func sweepStaleAsyncHooks(ctx context.Context, store storage.Store) {
	pending, err := store.ListPendingAsyncHooks(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("hooks: failed to list pending async hook queue entries")
		return
	}
	cutoff := time.Now().Add(-asyncHookStaleAfter)
	for _, q := range pending {
		if q.QueuedAt.After(cutoff) {
			continue
		}
		if err := store.UpdateAsyncHookStatus(ctx, q.ID, storage.AsyncHookCancelled); err != nil {
			log.Warn().Err(err).Str("id", q.ID).Msg("hooks: failed to cancel stale async hook queue entry")
		}
	}
}

// runIndexLoop drains the watcher's event channel and feeds each event to
// the indexer until ctx is cancelled.
func runIndexLoop(ctx context.Context, ix *indexer.Indexer, fw *watcher.Watcher, configDirID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			start := time.Now()
			result := ix.IndexFile(ctx, ev, configDirID)
			metrics.IndexPassDuration.Observe(time.Since(start).Seconds())
			if result.Err != nil {
				log.Error().Err(result.Err).Str("path", ev.Path).Msg("indexer: pass failed, cursor not advanced")
				continue
			}
			metrics.MessagesIndexedTotal.Add(float64(result.MessagesIndexed))
			log.Debug().
				Str("session_id", result.SessionID).
				Int("messages_indexed", result.MessagesIndexed).
				Int("total_messages", result.TotalMessages).
				Bool("is_new_session", result.IsNewSession).
				Msg("indexer: pass complete")
		}
	}
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc, servers ...httpShutdowner) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down han daemon")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("server shutdown error")
		}
	}
}
