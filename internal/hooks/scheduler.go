package hooks

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler periodically re-validates the engine's validation cache
// against files that may have changed outside of a hook run (e.g. a
// background formatter), invalidating stale entries proactively instead of
// waiting for the next matching hook invocation to discover the miss.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler wires a cron-driven sweep of engine's cache, running on the
// given standard cron spec (e.g. "*/5 * * * *" for every five minutes).
// sweepAsyncQueue, if non-nil, runs on the same tick to reap queued hook
// work the caller has decided is stale (storage.AsyncHookQueue entries that
// never transitioned out of pending/running); the scheduler itself stays
// storage-agnostic, so the caller owns the store lookup and cutoff policy.
func NewScheduler(engine *Engine, spec string, watchedFiles func() map[CacheKey][]string, sweepAsyncQueue func()) (*Scheduler, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		for key, files := range watchedFiles() {
			if !engine.cache.IsValid(key, files) {
				engine.cache.Invalidate(key)
				log.Debug().Str("plugin", key.PluginName).Str("hook", key.HookName).Msg("hooks: invalidated stale cache entry")
			}
		}
		if sweepAsyncQueue != nil {
			sweepAsyncQueue()
		}
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: c}, nil
}

// Start begins the cron schedule in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
