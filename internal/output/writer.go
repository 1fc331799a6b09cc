// Package output durably writes detection batches as partitioned CSV units
// and publishes detection events to Kafka for live consumers.
package output

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/VenketeszRR/fraudlens/internal/record"
	apperrors "github.com/VenketeszRR/fraudlens/pkg/errors"
	"github.com/VenketeszRR/fraudlens/pkg/metrics"
	"github.com/VenketeszRR/fraudlens/pkg/resilience"
)

// TimeLayout formats batch-start and detection timestamps in output rows.
const TimeLayout = "2006-01-02 15:04:05.000"

var unitHeader = []string{
	"pattern_id", "action_type", "customer_name", "merchant_id",
	"batch_start_time", "detection_time",
}

// Writer partitions a batch's detections into contiguous groups of at most
// batchSize rows and writes each group as one new, uniquely named CSV unit.
// Units are never appended to or mutated: replays after a crash produce
// duplicate units, and consumers needing exactly-once semantics deduplicate
// by (pattern_id, customer, merchant, batch_start_time).
type Writer struct {
	dir       string
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewWriter creates a Writer for dir, creating it if needed. batchSize <= 0
// falls back to 50.
func NewWriter(dir string, batchSize int, m *metrics.Metrics) (*Writer, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &Writer{
		dir:       dir,
		batchSize: batchSize,
		metrics:   m,
		logger:    slog.Default().With("component", "output-writer"),
	}, nil
}

// WriteBatch writes all detections for batchID, one unit per partition, and
// returns the unit file names. Partition writes are independent and run in
// parallel; any failure fails the whole batch (the caller abandons it and
// retries from the same input).
func (w *Writer) WriteBatch(ctx context.Context, batchID string, detections []record.Detection) ([]string, error) {
	if len(detections) == 0 {
		return nil, nil
	}

	partitions := partition(detections, w.batchSize)
	names := make([]string, len(partitions))

	g, ctx := errgroup.WithContext(ctx)
	for i, part := range partitions {
		i, part := i, part
		g.Go(func() error {
			name := fmt.Sprintf("detections_%s_%s.csv", batchID, uuid.NewString())
			err := resilience.Retry(ctx, "output-unit-write", resilience.RetryConfig{}, func() error {
				return w.writeUnit(name, part)
			})
			if err != nil {
				return apperrors.Newf(apperrors.ErrOutputWriteFailed, false, "unit %s: %v", name, err)
			}
			names[i] = name
			if w.metrics != nil {
				w.metrics.OutputUnitsWrittenTotal.Inc()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	w.logger.Info("detection batch written",
		"batch", batchID,
		"detections", len(detections),
		"units", len(names),
	)
	return names, nil
}

// partition splits detections into contiguous groups of at most size rows.
func partition(detections []record.Detection, size int) [][]record.Detection {
	var parts [][]record.Detection
	for start := 0; start < len(detections); start += size {
		end := start + size
		if end > len(detections) {
			end = len(detections)
		}
		parts = append(parts, detections[start:end])
	}
	return parts
}

// writeUnit creates the unit atomically: write to a .tmp file, fsync, rename.
func (w *Writer) writeUnit(name string, detections []record.Detection) error {
	finalPath := filepath.Join(w.dir, name)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp unit file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(unitHeader); err != nil {
		return fmt.Errorf("writing unit header: %w", err)
	}
	for _, d := range detections {
		row := []string{
			string(d.Pattern),
			string(d.Action),
			d.Customer,
			d.Merchant,
			d.BatchStartTime.UTC().Format(TimeLayout),
			d.DetectionTime.UTC().Format(TimeLayout),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing detection row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing unit: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing unit file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming unit file: %w", err)
	}
	return nil
}
