package hooks

import "context"

// Engine runs every matched hook for an (event, toolName) pair, in
// manifest order, short-circuiting cache-valid hooks.
type Engine struct {
	cache *ValidationCache
}

// NewEngine creates an Engine backed by a fresh validation cache.
func NewEngine() *Engine {
	return &Engine{cache: NewValidationCache()}
}

// RunInput bundles the per-invocation parameters Execute needs beyond the
// matched HookSpec itself.
type RunInput struct {
	Event        string
	ToolName     string
	Dir          string
	EnvAdditions []string
	Files        []string // files this hook run should validate against the cache
}

// Run executes every plugin hook matching (in.Event, in.ToolName), in
// order, against plugins. Cache-valid hooks short-circuit to an immediate
// Result{ExitCode:0, Cached:true}; others spawn a process and, on a clean
// exit, update the cache.
func (e *Engine) Run(ctx context.Context, plugins []Plugin, in RunInput, events chan<- StreamEvent) []Result {
	matched := MatchedHooks(plugins, in.Event, in.ToolName)
	results := make([]Result, 0, len(matched))

	for _, m := range matched {
		if m.Spec.Command == "" {
			results = append(results, Result{ExitCode: 0})
			continue
		}

		key := CacheKey{
			PluginName:  m.Plugin.Name,
			HookName:    in.Event,
			CommandHash: HashCommand(m.Spec.Command),
		}

		if e.cache.IsValid(key, in.Files) {
			results = append(results, CachedResult(m.Plugin.Name, in.Event, events))
			continue
		}

		result := Execute(ctx, m.Spec, m.Plugin.Name, in.Event, in.Dir, in.EnvAdditions, events)
		if result.ExitCode == 0 {
			e.cache.Update(key, in.Files)
		}
		results = append(results, result)
	}

	return results
}
