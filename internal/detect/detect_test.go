package detect

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/VenketeszRR/fraudlens/internal/record"
	"github.com/VenketeszRR/fraudlens/internal/reference"
)

// loadTable builds a reference table with weights 0.01..1.00 for customers
// C001..C100 against merchant M001. Bottom cut point is 0.02 (rank ⌊100·0.01⌋
// of the ascending weight list).
func loadTable(t *testing.T) *reference.Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "importance.csv")
	content := "Source,Target,Weight\n"
	for i := 1; i <= 100; i++ {
		content += fmt.Sprintf("C%03d,M001,%.2f\n", i, float64(i)/100)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	table, err := reference.Load(path)
	if err != nil {
		t.Fatalf("loading table: %v", err)
	}
	if table.BottomCut() != 0.02 {
		t.Fatalf("fixture bottom cut = %v, want 0.02", table.BottomCut())
	}
	return table
}

func txn(customer, merchant, gender string, amount float64) record.Transaction {
	return record.Transaction{
		Customer: customer,
		Merchant: merchant,
		Gender:   gender,
		Amount:   amount,
	}
}

func defaultThresholds() Thresholds {
	return Thresholds{
		MerchantTxnLimit: 50000,
		AvgAmountLimit:   23.0,
		MinTxnCount:      80,
	}
}

func TestElevatedRiskBoundaries(t *testing.T) {
	table := loadTable(t)
	records := []record.Transaction{txn("C002", "M001", "M", 10)}

	tests := []struct {
		name  string
		count int64
		want  int
	}{
		{"count above limit fires", 50001, 1},
		{"count at limit does not fire", 50000, 0},
		{"count below limit does not fire", 49999, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counters := map[string]int64{"M001": tt.count}
			got := ElevatedRisk(records, counters, table, defaultThresholds())
			if len(got) != tt.want {
				t.Fatalf("got %d detections, want %d", len(got), tt.want)
			}
			if tt.want == 1 {
				d := got[0]
				if d.Pattern != record.PatternElevatedRisk || d.Action != record.ActionUpgrade {
					t.Errorf("detection = %+v, want PatId1/UPGRADE", d)
				}
				if d.Customer != "C002" || d.Merchant != "M001" {
					t.Errorf("attribution = %s/%s, want C002/M001", d.Customer, d.Merchant)
				}
			}
		})
	}
}

func TestElevatedRiskWeightCutIsInclusive(t *testing.T) {
	table := loadTable(t)
	counters := map[string]int64{"M001": 50001}

	// C002's weight equals the cut point exactly: inclusive, fires.
	got := ElevatedRisk([]record.Transaction{txn("C002", "M001", "M", 10)}, counters, table, defaultThresholds())
	if len(got) != 1 {
		t.Fatalf("weight == cut: got %d detections, want 1", len(got))
	}

	// C003's weight is just above the cut: does not fire.
	got = ElevatedRisk([]record.Transaction{txn("C003", "M001", "M", 10)}, counters, table, defaultThresholds())
	if len(got) != 0 {
		t.Fatalf("weight > cut: got %d detections, want 0", len(got))
	}
}

func TestElevatedRiskExcludesUnmatchedAndDeduplicates(t *testing.T) {
	table := loadTable(t)
	counters := map[string]int64{"M001": 60000, "M999": 60000}
	records := []record.Transaction{
		txn("C001", "M001", "M", 10),
		txn("C001", "M001", "F", 20), // same pair again
		txn("CXXX", "M999", "M", 10), // no reference entry
	}
	got := ElevatedRisk(records, counters, table, defaultThresholds())
	if len(got) != 1 {
		t.Fatalf("got %d detections, want 1 (deduplicated, unmatched excluded)", len(got))
	}
}

func TestLowValueHighFreqBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		count  int
		amount float64
		want   int
	}{
		{"80 txns averaging 22.99 fires", 80, 22.99, 1},
		{"79 txns averaging 22.99 does not fire", 79, 22.99, 0},
		{"80 txns averaging exactly 23.00 does not fire", 80, 23.00, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []record.Transaction
			for i := 0; i < tt.count; i++ {
				records = append(records, txn("C2", "M2", "M", tt.amount))
			}
			got := LowValueHighFreq(records, defaultThresholds())
			if len(got) != tt.want {
				t.Fatalf("got %d detections, want %d", len(got), tt.want)
			}
			if tt.want == 1 {
				d := got[0]
				if d.Pattern != record.PatternLowValueHighFrq || d.Action != record.ActionChild {
					t.Errorf("detection = %+v, want PatId2/CHILD", d)
				}
			}
		})
	}
}

func TestLowValueHighFreqIsBatchLocal(t *testing.T) {
	// 40 + 40 rows for the same pair split across two calls: neither call
	// alone reaches the minimum count. The rule carries no cross-batch memory.
	var half []record.Transaction
	for i := 0; i < 40; i++ {
		half = append(half, txn("C2", "M2", "M", 10))
	}
	if got := LowValueHighFreq(half, defaultThresholds()); len(got) != 0 {
		t.Fatalf("first half: got %d detections, want 0", len(got))
	}
	if got := LowValueHighFreq(half, defaultThresholds()); len(got) != 0 {
		t.Fatalf("second half: got %d detections, want 0", len(got))
	}
}

func TestGenderImbalance(t *testing.T) {
	build := func(male, female int) []record.Transaction {
		var records []record.Transaction
		for i := 0; i < male; i++ {
			records = append(records, txn(fmt.Sprintf("CM%d", i), "M3", "M", 10))
		}
		for i := 0; i < female; i++ {
			records = append(records, txn(fmt.Sprintf("CF%d", i), "M3", "F", 10))
		}
		return records
	}

	got := GenderImbalance(build(10, 9))
	if len(got) != 1 {
		t.Fatalf("10M/9F: got %d detections, want 1", len(got))
	}
	d := got[0]
	if d.Pattern != record.PatternGenderImbalance || d.Action != record.ActionDEINeeded {
		t.Errorf("detection = %+v, want PatId3/DEI-NEEDED", d)
	}
	if d.Customer != "" {
		t.Errorf("customer attribution = %q, want empty", d.Customer)
	}

	if got := GenderImbalance(build(10, 10)); len(got) != 0 {
		t.Fatalf("10M/10F: got %d detections, want 0", len(got))
	}
	if got := GenderImbalance(build(10, 0)); len(got) != 0 {
		t.Fatalf("10M/0F (one gender absent): got %d detections, want 0", len(got))
	}
}

func TestGenderImbalanceIgnoresOtherGenders(t *testing.T) {
	records := []record.Transaction{
		txn("C1", "M3", "M", 10),
		txn("C2", "M3", "F", 10),
		txn("C3", "M3", "E", 10),
		txn("C4", "M3", "U", 10),
		txn("C5", "M3", "F", 10),
	}
	// 1M / 2F once E and U are excluded: no detection.
	if got := GenderImbalance(records); len(got) != 0 {
		t.Fatalf("got %d detections, want 0", len(got))
	}
}

func TestDetectorOutputIsDeterministic(t *testing.T) {
	var records []record.Transaction
	for m := 0; m < 5; m++ {
		for i := 0; i < 90; i++ {
			records = append(records, txn("C2", fmt.Sprintf("M%d", m), "M", 5))
		}
	}
	first := LowValueHighFreq(records, defaultThresholds())
	second := LowValueHighFreq(records, defaultThresholds())
	if len(first) != 5 || len(second) != 5 {
		t.Fatalf("got %d/%d detections, want 5/5", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("order differs at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

// BenchmarkLowValueHighFreq measures the per-batch aggregation cost of the
// busiest detector at a realistic batch size.
func BenchmarkLowValueHighFreq(b *testing.B) {
	var records []record.Transaction
	for i := 0; i < 10000; i++ {
		records = append(records, record.Transaction{
			Customer: fmt.Sprintf("C%03d", i%200),
			Merchant: fmt.Sprintf("M%02d", i%30),
			Gender:   "M",
			Amount:   float64(i % 50),
		})
	}
	th := defaultThresholds()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		LowValueHighFreq(records, th)
	}
}
