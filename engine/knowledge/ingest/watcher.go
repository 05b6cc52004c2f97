package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/romdo/go-debounce"

	appconfig "github.com/compozy/ragpipe/pkg/config"
	"github.com/compozy/ragpipe/pkg/logger"
)

const defaultWatchDebounce = 500 * time.Millisecond

// WatchOptions tunes a Watcher.
type WatchOptions struct {
	// Debounce coalesces bursts of events for the same path.
	Debounce time.Duration
	// RescanSchedule is a standard cron expression. When set the whole
	// directory is re-ingested on that schedule to catch missed events.
	RescanSchedule string
	// OnResult observes every ingestion the watcher triggers.
	OnResult func(FileResult)
}

// WatchOptionsFromConfig maps the ingest section of the application configuration.
func WatchOptionsFromConfig(cfg *appconfig.Config) WatchOptions {
	if cfg == nil {
		return WatchOptions{}
	}
	return WatchOptions{
		Debounce:       cfg.Ingest.WatchDebounce,
		RescanSchedule: cfg.Ingest.RescanSchedule,
	}
}

type pendingIngest struct {
	trigger func()
	cancel  func()
}

// Watcher ingests supported files created or modified under a directory.
// Removals are ignored; deleting a document is an explicit operation.
type Watcher struct {
	pipeline *Pipeline
	dir      string
	opts     WatchOptions
	schedule cron.Schedule

	mu      sync.Mutex
	pending map[string]*pendingIngest
	closed  bool
	wg      sync.WaitGroup
}

func NewWatcher(pipeline *Pipeline, dir string, opts WatchOptions) (*Watcher, error) {
	if pipeline == nil {
		return nil, errors.New("ingest: watcher requires a pipeline")
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("ingest: watch directory is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultWatchDebounce
	}
	w := &Watcher{
		pipeline: pipeline,
		dir:      filepath.Clean(dir),
		opts:     opts,
		pending:  make(map[string]*pendingIngest),
	}
	if expr := strings.TrimSpace(opts.RescanSchedule); expr != "" {
		schedule, err := cron.ParseStandard(expr)
		if err != nil {
			return nil, fmt.Errorf("ingest: invalid rescan schedule %q: %w", expr, err)
		}
		w.schedule = schedule
	}
	return w, nil
}

// Run blocks until ctx is canceled. Pending debounced ingestions are
// dropped on shutdown; in-flight ones finish before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	log := logger.FromContext(ctx).With("dir", w.dir)
	if err := w.pipeline.fs.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("ingest: create watch directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		if cerr := watcher.Close(); cerr != nil {
			log.Warn("Failed to close watcher", "error", cerr)
		}
	}()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("ingest: watch %s: %w", w.dir, err)
	}
	var scheduler *cron.Cron
	if w.schedule != nil {
		scheduler = cron.New()
		scheduler.Schedule(w.schedule, cron.FuncJob(func() { w.rescan(ctx) }))
		scheduler.Start()
	}
	log.Info("Watching directory for documents", "debounce", w.opts.Debounce, "rescan", w.opts.RescanSchedule)
	defer func() {
		if scheduler != nil {
			<-scheduler.Stop().Done()
		}
		w.cancelPending()
		w.wg.Wait()
		log.Info("Directory watcher stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if w.relevant(event) {
				log.Debug("Detected document change, debouncing", "file", event.Name, "op", event.Op.String())
				w.arm(ctx, filepath.Clean(event.Name))
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", werr)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return false
	}
	info, err := w.pipeline.fs.Stat(event.Name)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return w.pipeline.Supports(event.Name)
}

// arm starts or extends the debounce window of a single path.
func (w *Watcher) arm(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if p, ok := w.pending[path]; ok {
		p.trigger()
		return
	}
	entry := &pendingIngest{}
	entry.trigger, entry.cancel = debounce.NewWithMaxWait(w.opts.Debounce, 10*w.opts.Debounce, func() {
		go w.fire(ctx, path, entry)
	})
	w.pending[path] = entry
	entry.trigger()
}

func (w *Watcher) fire(ctx context.Context, path string, entry *pendingIngest) {
	w.mu.Lock()
	if w.pending[path] == entry {
		delete(w.pending, path)
	}
	w.mu.Unlock()
	if !w.begin(ctx) {
		return
	}
	defer w.wg.Done()
	res := w.pipeline.IngestFile(ctx, path)
	if w.opts.OnResult != nil {
		w.opts.OnResult(res)
	}
}

func (w *Watcher) rescan(ctx context.Context) {
	if !w.begin(ctx) {
		return
	}
	defer w.wg.Done()
	report, err := w.pipeline.IngestPaths(ctx, []string{w.dir})
	if err != nil {
		logger.FromContext(ctx).Warn("Scheduled rescan failed", "dir", w.dir, "error", err)
		return
	}
	if w.opts.OnResult != nil {
		for _, res := range report.Files {
			w.opts.OnResult(res)
		}
	}
}

// begin registers an ingestion unless the watcher is shutting down.
func (w *Watcher) begin(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || ctx.Err() != nil {
		return false
	}
	w.wg.Add(1)
	return true
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for path, p := range w.pending {
		p.cancel()
		delete(w.pending, path)
	}
}
