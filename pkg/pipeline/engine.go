package pipeline

import (
	"github.com/lucamihailescu/codescan/pkg/config"
	"github.com/lucamihailescu/codescan/pkg/extraction"
	"github.com/lucamihailescu/codescan/pkg/ignore"
	"github.com/lucamihailescu/codescan/pkg/progress"
	"github.com/lucamihailescu/codescan/pkg/storage"
)

// Engine owns the handles the pipelines run against: the storage factory,
// the progress registry, the ignore matcher and the extractor registry.
// One engine instance serves any number of index and scan runs.
type Engine struct {
	cfg        *config.Config
	store      *storage.Factory
	progress   *progress.Store
	matcher    *ignore.Matcher
	extractors *extraction.Registry
}

// NewEngine wires an engine from explicit handles.
func NewEngine(cfg *config.Config, store *storage.Factory, progressStore *progress.Store, matcher *ignore.Matcher, extractors *extraction.Registry) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      store,
		progress:   progressStore,
		matcher:    matcher,
		extractors: extractors,
	}
}

// NewDefaultEngine builds an engine with the standard collaborators for the
// given configuration.
func NewDefaultEngine(cfg *config.Config) *Engine {
	return NewEngine(
		cfg,
		storage.NewFactory(cfg.Storage),
		progress.NewStore(),
		ignore.NewMatcher(cfg.IgnoredPatterns),
		extraction.NewDefaultRegistry(),
	)
}

// Progress exposes the engine's progress store for observers.
func (e *Engine) Progress() *progress.Store {
	return e.progress
}

// Store exposes the engine's storage factory.
func (e *Engine) Store() *storage.Factory {
	return e.store
}

// IgnoreMatcher exposes the engine's ignore matcher.
func (e *Engine) IgnoreMatcher() *ignore.Matcher {
	return e.matcher
}

// SimilarityConfig returns the current similarity configuration.
func (e *Engine) SimilarityConfig() config.SimilarityConfig {
	return e.cfg.Similarity
}

// Cancel flags a running task for cooperative cancellation.
func (e *Engine) Cancel(taskID string) bool {
	return e.progress.Cancel(taskID)
}

// Shutdown tears down the engine's pools. Called once at process exit.
func (e *Engine) Shutdown() error {
	return e.store.Shutdown()
}

// workerCount resolves the configured pool size for parallel runs.
func (e *Engine) workerCount() int {
	threading := e.cfg.Storage.Threading
	threading.SetDefaults()
	return threading.MaxWorkers
}

// parallel reports whether the pipelines should fan out to a worker pool.
func (e *Engine) parallel() bool {
	return e.cfg.Storage.Threading.Enabled
}
