package batch

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/VenketeszRR/fraudlens/internal/checkpoint"
	"github.com/VenketeszRR/fraudlens/internal/counter"
	"github.com/VenketeszRR/fraudlens/internal/detect"
	"github.com/VenketeszRR/fraudlens/internal/output"
	"github.com/VenketeszRR/fraudlens/internal/record"
	"github.com/VenketeszRR/fraudlens/internal/reference"
	apperrors "github.com/VenketeszRR/fraudlens/pkg/errors"
)

// fakeCheckpoint records advances in memory and can fail on demand.
type fakeCheckpoint struct {
	mu       sync.Mutex
	batches  []string
	audits   []checkpoint.Audit
	failNext bool
}

func (f *fakeCheckpoint) Advance(ctx context.Context, batchID string, audit checkpoint.Audit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("checkpoint store unavailable")
	}
	f.batches = append(f.batches, batchID)
	f.audits = append(f.audits, audit)
	return nil
}

// loadTable writes a 10-entry importance table whose bottom cut point is 0.1,
// so (C001, M001) with weight 0.1 sits exactly at the inclusive boundary.
func loadTable(t *testing.T) *reference.Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "importance.csv")
	content := "Source,Target,Weight\n"
	for i := 1; i <= 10; i++ {
		content += fmt.Sprintf("C%03d,M001,%.1f\n", i, float64(i)/10)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	table, err := reference.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func newTestProcessor(t *testing.T, store counter.Store, ckpt Checkpointer) (*Processor, string) {
	t.Helper()
	dir := t.TempDir()
	writer, err := output.NewWriter(dir, 50, nil)
	if err != nil {
		t.Fatal(err)
	}
	p := NewProcessor(store, loadTable(t), writer, nil, ckpt, detect.Thresholds{
		MerchantTxnLimit: 50000,
		AvgAmountLimit:   23.0,
		MinTxnCount:      3,
	}, nil)
	return p, dir
}

// readAllDetections collects (pattern, customer, merchant) rows across all
// units in dir.
func readAllDetections(t *testing.T, dir string) map[string]int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	rows := make(map[string]int)
	for _, e := range entries {
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		all, err := csv.NewReader(f).ReadAll()
		f.Close()
		if err != nil {
			t.Fatal(err)
		}
		for _, row := range all[1:] {
			rows[row[0]+"|"+row[2]+"|"+row[3]]++
		}
	}
	return rows
}

func lowValueRows(customer, merchant string, n int) []record.Transaction {
	var out []record.Transaction
	for i := 0; i < n; i++ {
		out = append(out, record.Transaction{
			Customer: customer,
			Merchant: merchant,
			Gender:   "M",
			Amount:   5,
		})
	}
	return out
}

func TestProcessCommitsBatch(t *testing.T) {
	store := counter.NewMemoryStore()
	ckpt := &fakeCheckpoint{}
	p, dir := newTestProcessor(t, store, ckpt)
	ctx := context.Background()

	// 4 low-value rows for (C1, M9) plus a gender-imbalanced merchant M8.
	records := lowValueRows("C1", "M9", 4)
	records = append(records,
		record.Transaction{Customer: "CA", Merchant: "M8", Gender: "M", Amount: 100},
		record.Transaction{Customer: "CB", Merchant: "M8", Gender: "M", Amount: 100},
		record.Transaction{Customer: "CC", Merchant: "M8", Gender: "F", Amount: 100},
	)

	if err := p.Process(ctx, "chunk_000001", records); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Same-merchant deltas were pre-summed into single increments.
	if got, _ := store.Get(ctx, "M9"); got != 4 {
		t.Errorf("M9 counter = %d, want 4", got)
	}
	if got, _ := store.Get(ctx, "M8"); got != 3 {
		t.Errorf("M8 counter = %d, want 3", got)
	}

	detections := readAllDetections(t, dir)
	if detections["PatId2|C1|M9"] != 1 {
		t.Errorf("missing PatId2 detection for C1/M9: %v", detections)
	}
	if detections["PatId3||M8"] != 1 {
		t.Errorf("missing PatId3 detection for M8: %v", detections)
	}

	if len(ckpt.batches) != 1 || ckpt.batches[0] != "chunk_000001" {
		t.Fatalf("checkpoint advances = %v, want [chunk_000001]", ckpt.batches)
	}
	audit := ckpt.audits[0]
	if audit.Records != len(records) || audit.Detections != 2 || audit.LowValueHighFreq != 1 || audit.GenderImbalance != 1 {
		t.Errorf("audit = %+v", audit)
	}
}

func TestProcessEmptyBatchAdvancesCheckpointOnly(t *testing.T) {
	store := counter.NewMemoryStore()
	ckpt := &fakeCheckpoint{}
	p, dir := newTestProcessor(t, store, ckpt)

	if err := p.Process(context.Background(), "chunk_000002", nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(ckpt.batches) != 1 {
		t.Fatalf("checkpoint advances = %v, want one trivial advance", ckpt.batches)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("empty batch wrote %d units", len(entries))
	}
}

func TestProcessElevatedRiskUsesPostIncrementSnapshot(t *testing.T) {
	store := counter.NewMemoryStore()
	ctx := context.Background()
	// One increment short of the limit: the batch's own increment must tip it.
	store.Increment(ctx, "M001", 50000)

	ckpt := &fakeCheckpoint{}
	p, dir := newTestProcessor(t, store, ckpt)

	records := []record.Transaction{
		{Customer: "C001", Merchant: "M001", Gender: "M", Amount: 40},
	}
	if err := p.Process(ctx, "chunk_000003", records); err != nil {
		t.Fatalf("Process: %v", err)
	}
	detections := readAllDetections(t, dir)
	if detections["PatId1|C001|M001"] != 1 {
		t.Errorf("missing PatId1 detection after post-increment count 50001: %v", detections)
	}
}

func TestAbandonedBatchRetriesWithIdenticalDetections(t *testing.T) {
	store := counter.NewMemoryStore()
	ckpt := &fakeCheckpoint{failNext: true}
	p, dir := newTestProcessor(t, store, ckpt)
	ctx := context.Background()

	records := lowValueRows("C1", "M9", 4)

	err := p.Process(ctx, "chunk_000004", records)
	if err == nil {
		t.Fatal("expected batch abandonment on checkpoint failure")
	}
	if !errors.Is(err, apperrors.ErrBatchAbandoned) {
		t.Fatalf("error = %v, want ErrBatchAbandoned", err)
	}
	if apperrors.IsFatal(err) {
		t.Fatal("batch abandonment must not be fatal")
	}

	// Retry from the same input commits and reproduces the same detection
	// set; the earlier attempt's units remain as duplicates.
	if err := p.Process(ctx, "chunk_000004", records); err != nil {
		t.Fatalf("retry: %v", err)
	}
	detections := readAllDetections(t, dir)
	if detections["PatId2|C1|M9"] != 2 {
		t.Errorf("PatId2|C1|M9 written %d times across attempts, want 2 (duplicate units)", detections["PatId2|C1|M9"])
	}
	for key := range detections {
		if key != "PatId2|C1|M9" {
			t.Errorf("unexpected detection %s", key)
		}
	}

	// The replay re-applied counter increments: the documented double-count
	// hazard, preserved rather than corrected.
	if got, _ := store.Get(ctx, "M9"); got != 8 {
		t.Errorf("M9 counter after replay = %d, want 8", got)
	}
}
