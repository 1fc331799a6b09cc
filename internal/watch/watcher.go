// Package watch discovers chunk files in arrival order and drives the batch
// trigger loop. Scheduling is single-flight: one batch at a time, and a slow
// batch delays the next trigger rather than overlapping it.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/VenketeszRR/fraudlens/internal/record"
	apperrors "github.com/VenketeszRR/fraudlens/pkg/errors"
	"github.com/VenketeszRR/fraudlens/pkg/metrics"
)

// BatchHandler processes one discovered chunk as a batch. Returning an error
// abandons the batch; the same chunk is retried on the next trigger.
type BatchHandler func(ctx context.Context, batchID string, records []record.Transaction) error

// Watcher polls the chunk directory on a fixed cadence and feeds each new
// chunk, in lexical (= arrival) order, to the handler. Each chunk moves
// through waiting → processing → committed; only a committed chunk advances
// the frontier, and chunks at or before the frontier are never replayed.
type Watcher struct {
	dir      string
	pattern  string
	interval time.Duration
	handler  BatchHandler

	// frontier is guarded by mu: Run writes it, health probes read it.
	mu       sync.Mutex
	frontier string

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Watcher resuming after lastCommitted (empty string means
// start from the first chunk).
func New(dir, pattern string, interval time.Duration, lastCommitted string, handler BatchHandler, m *metrics.Metrics) *Watcher {
	return &Watcher{
		dir:      dir,
		pattern:  pattern,
		interval: interval,
		handler:  handler,
		frontier: lastCommitted,
		metrics:  m,
		logger:   slog.Default().With("component", "ingestion-watcher"),
	}
}

// Run blocks, triggering on every tick until ctx is cancelled. An immediate
// first pass picks up any backlog before the first tick. Fatal errors from
// the handler stop the loop; batch-level errors leave the frontier in place
// so the chunk is retried.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher started",
		"dir", w.dir,
		"pattern", w.pattern,
		"interval", w.interval,
		"resume_after", w.frontier,
	)
	if err := w.trigger(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.trigger(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			w.logger.Info("watcher stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// trigger processes all pending chunks strictly in order. The first failure
// stops the pass: later chunks must not commit before an earlier one.
func (w *Watcher) trigger(ctx context.Context) error {
	pending, err := w.discover()
	if err != nil {
		// A transient listing error just skips this trigger.
		w.logger.Warn("chunk discovery failed", "error", err)
		return nil
	}
	for _, chunk := range pending {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.processChunk(ctx, chunk); err != nil {
			if apperrors.IsFatal(err) {
				return err
			}
			w.logger.Error("batch abandoned, will retry next trigger",
				"batch", batchID(chunk),
				"error", err,
			)
			return nil
		}
	}
	return nil
}

// discover lists chunk files past the committed frontier, sorted ascending.
func (w *Watcher) discover() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(w.dir, w.pattern))
	if err != nil {
		return nil, fmt.Errorf("globbing %s/%s: %w", w.dir, w.pattern, err)
	}
	frontier := w.Frontier()
	var pending []string
	for _, m := range matches {
		if batchID(m) > frontier {
			pending = append(pending, m)
		}
	}
	sort.Strings(pending)
	if len(pending) > 0 && w.metrics != nil {
		w.metrics.ChunksDiscoveredTotal.Add(float64(len(pending)))
	}
	return pending, nil
}

func (w *Watcher) processChunk(ctx context.Context, path string) error {
	id := batchID(path)
	w.logger.Info("processing chunk", "batch", id, "path", path)

	result, err := record.ReadChunk(path)
	if err != nil {
		return fmt.Errorf("reading chunk: %w", err)
	}
	if result.Skipped > 0 {
		w.logger.Warn("malformed rows skipped", "batch", id, "skipped", result.Skipped)
		if w.metrics != nil {
			w.metrics.MalformedRecordsTotal.Add(float64(result.Skipped))
		}
	}

	if err := w.handler(ctx, id, result.Records); err != nil {
		return err
	}
	w.mu.Lock()
	w.frontier = id
	w.mu.Unlock()
	return nil
}

// batchID derives the batch identifier from a chunk path: base name without
// extension, so ordering matches the feed's file naming.
func batchID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Frontier returns the id of the last committed batch, for observability.
func (w *Watcher) Frontier() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frontier
}
