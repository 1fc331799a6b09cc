// Package batch orchestrates one micro-batch end to end: counter updates,
// snapshot capture, parallel pattern detection, durable output, and the
// checkpoint advance that commits the batch.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/VenketeszRR/fraudlens/internal/checkpoint"
	"github.com/VenketeszRR/fraudlens/internal/counter"
	"github.com/VenketeszRR/fraudlens/internal/detect"
	"github.com/VenketeszRR/fraudlens/internal/output"
	"github.com/VenketeszRR/fraudlens/internal/record"
	"github.com/VenketeszRR/fraudlens/internal/reference"
	apperrors "github.com/VenketeszRR/fraudlens/pkg/errors"
	"github.com/VenketeszRR/fraudlens/pkg/metrics"
)

// storeConcurrency bounds parallel counter-store round trips per batch.
const storeConcurrency = 8

// Checkpointer commits a batch. Only the checkpoint manager implements it in
// production; tests substitute fakes.
type Checkpointer interface {
	Advance(ctx context.Context, batchID string, audit checkpoint.Audit) error
}

// Processor runs one batch at a time. It holds only immutable collaborators
// and is safe to reuse across batches; the single-flight discipline (no two
// batches concurrently) is enforced by the ingestion watcher.
type Processor struct {
	counters   counter.Store
	ref        *reference.Table
	writer     *output.Writer
	publisher  *output.Publisher
	ckpt       Checkpointer
	thresholds detect.Thresholds
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewProcessor wires a Processor. publisher and m may be nil.
func NewProcessor(
	counters counter.Store,
	ref *reference.Table,
	writer *output.Writer,
	publisher *output.Publisher,
	ckpt Checkpointer,
	thresholds detect.Thresholds,
	m *metrics.Metrics,
) *Processor {
	return &Processor{
		counters:   counters,
		ref:        ref,
		writer:     writer,
		publisher:  publisher,
		ckpt:       ckpt,
		thresholds: thresholds,
		metrics:    m,
		logger:     slog.Default().With("component", "batch-processor"),
	}
}

// Process runs the full batch pipeline for batchID. On any detector or write
// error the batch is abandoned without advancing the checkpoint, so the next
// trigger retries it whole; counter increments already applied are re-applied
// on that retry (the documented double-count hazard).
func (p *Processor) Process(ctx context.Context, batchID string, records []record.Transaction) error {
	batchStart := time.Now()

	if len(records) == 0 {
		// No counter mutation, no output; the checkpoint still advances so
		// the empty chunk is never revisited.
		if err := p.ckpt.Advance(ctx, batchID, checkpoint.Audit{}); err != nil {
			return apperrors.Newf(apperrors.ErrBatchAbandoned, false, "empty batch %s: %v", batchID, err)
		}
		p.observeOutcome("empty", batchStart, 0)
		p.logger.Info("empty batch skipped", "batch", batchID)
		return nil
	}

	// Same-merchant deltas must be pre-summed into a single atomic call to
	// avoid lost updates; distinct merchants may be incremented concurrently.
	deltas := merchantDeltas(records)
	p.applyIncrements(ctx, deltas)

	// One post-increment read per distinct merchant forms the immutable
	// snapshot the detectors share; no per-row store round trips.
	snapshot := p.fetchSnapshot(ctx, deltas)

	detections, err := p.runDetectors(ctx, records, snapshot)
	if err != nil {
		p.observeOutcome("abandoned", batchStart, len(records))
		return apperrors.Newf(apperrors.ErrBatchAbandoned, false, "batch %s detectors: %v", batchID, err)
	}

	// Stamp every row with the batch start and a fresh detection time
	// captured at merge.
	detectionTime := time.Now()
	for i := range detections {
		detections[i].BatchStartTime = batchStart
		detections[i].DetectionTime = detectionTime
	}

	// Durable write strictly precedes the checkpoint advance. A crash between
	// the two yields duplicate (but correct) units on replay.
	if _, err := p.writer.WriteBatch(ctx, batchID, detections); err != nil {
		p.observeOutcome("abandoned", batchStart, len(records))
		return apperrors.Newf(apperrors.ErrBatchAbandoned, false, "batch %s output: %v", batchID, err)
	}

	if p.publisher != nil {
		p.publisher.PublishBatch(ctx, batchID, detections)
	}

	audit := buildAudit(records, detections)
	if err := p.ckpt.Advance(ctx, batchID, audit); err != nil {
		p.observeOutcome("abandoned", batchStart, len(records))
		return apperrors.Newf(apperrors.ErrBatchAbandoned, false, "batch %s checkpoint: %v", batchID, err)
	}

	p.observeOutcome("committed", batchStart, len(records))
	if p.metrics != nil {
		p.metrics.CheckpointAdvancesTotal.Inc()
		p.metrics.DetectionsTotal.WithLabelValues(string(record.PatternElevatedRisk)).Add(float64(audit.ElevatedRisk))
		p.metrics.DetectionsTotal.WithLabelValues(string(record.PatternLowValueHighFrq)).Add(float64(audit.LowValueHighFreq))
		p.metrics.DetectionsTotal.WithLabelValues(string(record.PatternGenderImbalance)).Add(float64(audit.GenderImbalance))
	}
	p.logger.Info("batch committed",
		"batch", batchID,
		"records", len(records),
		"merchants", len(deltas),
		"detections", len(detections),
		"took", time.Since(batchStart).Round(time.Millisecond),
	)
	return nil
}

// merchantDeltas counts this batch's transactions per merchant.
func merchantDeltas(records []record.Transaction) map[string]int64 {
	deltas := make(map[string]int64)
	for _, txn := range records {
		deltas[txn.Merchant]++
	}
	return deltas
}

// applyIncrements issues one pre-summed increment per distinct merchant.
// Store failures degrade (dropped increments) inside the store and never fail
// the batch.
func (p *Processor) applyIncrements(ctx context.Context, deltas map[string]int64) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(storeConcurrency)
	for merchant, delta := range deltas {
		merchant, delta := merchant, delta
		g.Go(func() error {
			return p.counters.Increment(ctx, merchant, delta)
		})
	}
	// Increment never returns an error by contract; Wait only propagates
	// context cancellation.
	_ = g.Wait()
}

// fetchSnapshot reads the post-increment cumulative count of every merchant
// in the batch into an immutable map shared by the detectors.
func (p *Processor) fetchSnapshot(ctx context.Context, deltas map[string]int64) map[string]int64 {
	snapshot := make(map[string]int64, len(deltas))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(storeConcurrency)
	for merchant := range deltas {
		merchant := merchant
		g.Go(func() error {
			count, _ := p.counters.Get(ctx, merchant)
			mu.Lock()
			snapshot[merchant] = count
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return snapshot
}

// runDetectors evaluates the three patterns in parallel over the shared
// snapshot and merges their outputs in pattern order. There is no
// cross-detector deduplication: different patterns may co-fire for the same
// merchant.
func (p *Processor) runDetectors(ctx context.Context, records []record.Transaction, snapshot map[string]int64) ([]record.Detection, error) {
	var elevated, lowValue, imbalance []record.Detection

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		elevated = detect.ElevatedRisk(records, snapshot, p.ref, p.thresholds)
		return nil
	})
	g.Go(func() error {
		lowValue = detect.LowValueHighFreq(records, p.thresholds)
		return nil
	})
	g.Go(func() error {
		imbalance = detect.GenderImbalance(records)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch interrupted: %w", err)
	}

	merged := make([]record.Detection, 0, len(elevated)+len(lowValue)+len(imbalance))
	merged = append(merged, elevated...)
	merged = append(merged, lowValue...)
	merged = append(merged, imbalance...)
	return merged, nil
}

func buildAudit(records []record.Transaction, detections []record.Detection) checkpoint.Audit {
	audit := checkpoint.Audit{
		Records:    len(records),
		Detections: len(detections),
	}
	for _, d := range detections {
		switch d.Pattern {
		case record.PatternElevatedRisk:
			audit.ElevatedRisk++
		case record.PatternLowValueHighFrq:
			audit.LowValueHighFreq++
		case record.PatternGenderImbalance:
			audit.GenderImbalance++
		}
	}
	return audit
}

func (p *Processor) observeOutcome(outcome string, batchStart time.Time, records int) {
	if p.metrics == nil {
		return
	}
	p.metrics.BatchesProcessedTotal.WithLabelValues(outcome).Inc()
	p.metrics.BatchRecords.Observe(float64(records))
	p.metrics.BatchDuration.Observe(time.Since(batchStart).Seconds())
}
