// Package reference loads the static customer-merchant importance table and
// computes the frozen percentile cut points used by the elevated-risk rule.
// The table is read once at startup and never refreshed; a missing or
// unreadable file is fatal to the process.
package reference

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/VenketeszRR/fraudlens/pkg/errors"
)

// Table is the in-memory importance table plus its frozen cut points. It is
// immutable after Load and safe to share across goroutines without locking.
type Table struct {
	weights   map[string]float64
	bottomCut float64
	topCut    float64
	size      int
}

func key(customer, merchant string) string {
	return customer + "|" + merchant
}

// Load reads the Source,Target,Weight CSV at path, builds the lookup map and
// computes the 1st/99th percentile cut points over the sorted weight list.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrReferenceUnreadable, true, "opening %s: %v", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrReferenceUnreadable, true, "reading header of %s: %v", path, err)
	}
	if len(header) < 3 || strings.TrimSpace(header[0]) != "Source" ||
		strings.TrimSpace(header[1]) != "Target" || strings.TrimSpace(header[2]) != "Weight" {
		return nil, apperrors.Newf(apperrors.ErrReferenceUnreadable, true,
			"%s: expected header Source,Target,Weight, got %v", path, header)
	}

	weights := make(map[string]float64)
	all := make([]float64, 0, 1024)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrReferenceUnreadable, true, "reading %s: %v", path, err)
		}
		if len(row) < 3 {
			return nil, apperrors.Newf(apperrors.ErrReferenceUnreadable, true,
				"%s: row with %d fields", path, len(row))
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrReferenceUnreadable, true,
				"%s: parsing weight %q: %v", path, row[2], err)
		}
		weights[key(strings.TrimSpace(row[0]), strings.TrimSpace(row[1]))] = w
		all = append(all, w)
	}
	if len(all) == 0 {
		return nil, apperrors.Newf(apperrors.ErrReferenceUnreadable, true, "%s: empty reference table", path)
	}

	bottom, top := cutPoints(all)
	t := &Table{
		weights:   weights,
		bottomCut: bottom,
		topCut:    top,
		size:      len(all),
	}
	slog.Default().With("component", "reference").Info("importance table loaded",
		"entries", t.size,
		"bottom_cut", t.bottomCut,
		"top_cut", t.topCut,
	)
	return t, nil
}

// cutPoints sorts weights ascending and returns the values at ranks
// ⌊n·0.01⌋ and ⌊n·0.99⌋ (0-indexed).
func cutPoints(weights []float64) (bottom, top float64) {
	sorted := make([]float64, len(weights))
	copy(sorted, weights)
	sort.Float64s(sorted)
	n := len(sorted)
	return sorted[n/100], sorted[n*99/100]
}

// Weight returns the importance weight for (customer, merchant), reporting
// whether the pair is present in the table.
func (t *Table) Weight(customer, merchant string) (float64, bool) {
	w, ok := t.weights[key(customer, merchant)]
	return w, ok
}

// BottomCut returns the frozen 1st-percentile cut point.
func (t *Table) BottomCut() float64 {
	return t.bottomCut
}

// TopCut returns the frozen 99th-percentile cut point.
func (t *Table) TopCut() float64 {
	return t.topCut
}

// Size returns the number of reference entries loaded.
func (t *Table) Size() int {
	return t.size
}
