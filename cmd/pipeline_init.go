package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/cache"
	"github.com/sells-group/coin-research/internal/events"
	"github.com/sells-group/coin-research/internal/jobs"
	"github.com/sells-group/coin-research/internal/model"
	"github.com/sells-group/coin-research/internal/pipeline"
	"github.com/sells-group/coin-research/internal/provider"
	"github.com/sells-group/coin-research/internal/reconcile"
	"github.com/sells-group/coin-research/internal/report"
	"github.com/sells-group/coin-research/internal/resilience"
	"github.com/sells-group/coin-research/internal/store"
	anthropicpkg "github.com/sells-group/coin-research/pkg/anthropic"
	"github.com/sells-group/coin-research/pkg/perplexity"
)

// pipelineEnv holds everything the run and serve commands share.
type pipelineEnv struct {
	Cache     cache.Cache
	Store     store.JobStore // nil when persistence is off
	Providers *provider.Registry
	Jobs      *jobs.Registry
	Progress  *events.Hub[model.ProgressEvent]
	Errors    *events.Hub[model.ErrorEvent]
	Tracker   *events.ProgressTracker
	Reporter  *events.ErrorReporter
	Executor  *pipeline.Executor
	Runner    *pipeline.Runner
}

// Close waits for submitted runs and releases resources.
func (pe *pipelineEnv) Close() {
	if pe.Runner != nil {
		pe.Runner.Wait()
	}
	if pe.Progress != nil {
		pe.Progress.Close()
	}
	if pe.Errors != nil {
		pe.Errors.Close()
	}
	if c, ok := pe.Cache.(io.Closer); ok {
		_ = c.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates the config for mode and wires the cache, store,
// providers, clients and stages into a Runner. Callers should defer
// env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	layout, err := report.LoadConfig(cfg.Pipeline.SectionsFile)
	if err != nil {
		return nil, err
	}

	env := &pipelineEnv{
		Progress: events.NewHub[model.ProgressEvent]("progress"),
		Errors:   events.NewHub[model.ErrorEvent]("errors"),
	}
	env.Tracker = events.NewProgressTracker(env.Progress)
	env.Reporter = events.NewErrorReporter(env.Errors, 0)

	env.Cache, err = cache.New(cfg.Cache)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init cache")
	}

	env.Store, err = store.Open(ctx, cfg.Store)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init store")
	}
	env.Jobs = jobs.NewRegistry(cfg.Jobs.HistoryLimit, env.Store)

	guard := resilience.NewGuard(
		resilience.FromRetryConfig(cfg.Retry),
		resilience.FromCircuitConfig(cfg.Circuit),
	)
	env.Providers = provider.NewRegistryFromConfig(cfg.Providers, guard)
	for _, st := range env.Providers.Statuses() {
		zap.L().Info("provider registered", zap.String("provider", st.Name), zap.Bool("enabled", st.Enabled))
	}

	reconciler := reconcile.New(env.Providers,
		reconcile.WithCache(env.Cache),
		reconcile.WithReporter(env.Reporter),
		reconcile.WithCallTimeout(cfg.Providers.CallTimeout()),
	)

	llm := anthropicpkg.NewClient(cfg.Anthropic.Key,
		anthropicpkg.WithModel(cfg.Anthropic.Model),
		anthropicpkg.WithMaxTokens(cfg.Anthropic.MaxTokens),
	)

	var search perplexity.Searcher
	if cfg.Perplexity.Key != "" {
		search = perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
	} else {
		zap.L().Warn("perplexity key not set, section research will use placeholders")
	}

	stages := pipeline.NewStages(pipeline.StageDeps{
		Gatherer:  reconciler,
		Gather:    reconcile.GatherOptions{UseCache: cfg.Pipeline.UseCache, CacheTTL: cfg.Cache.TTL()},
		LLM:       llm,
		Search:    search,
		Renderer:  report.NewSpecRenderer(cfg.Pipeline.OutputDir),
		Publisher: report.NewMarkdownPublisher(cfg.Pipeline.OutputDir),
		Layout:    layout,
		Reporter:  env.Reporter,
	})
	env.Executor = pipeline.NewExecutor(stages,
		pipeline.WithTracker(env.Tracker),
		pipeline.WithReporter(env.Reporter),
		pipeline.WithSubjectLookup(env.Jobs),
		pipeline.WithStageTimeout(cfg.Pipeline.StageTimeout()),
	)
	env.Runner = pipeline.NewRunner(pipeline.RunnerDeps{
		Executor: env.Executor,
		Registry: env.Jobs,
		Tracker:  env.Tracker,
		Reporter: env.Reporter,
		LLM:      llm,
	})

	zap.L().Info("pipeline ready",
		zap.Int("sections", len(layout.Sections)),
		zap.Int("charts", len(layout.Visualizations)),
		zap.String("cache", cfg.Cache.Driver),
		zap.String("store", cfg.Store.Driver),
	)
	return env, nil
}
