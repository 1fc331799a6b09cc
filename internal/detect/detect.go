// Package detect holds the three pattern evaluators. Each detector is a pure
// function of the batch's records, the immutable counter snapshot, and the
// frozen reference data; detectors share no state and may run in parallel.
//
// Detectors emit tuples without timestamps; the batch processor stamps
// batch-start and detection times when merging.
package detect

import (
	"sort"

	"github.com/VenketeszRR/fraudlens/internal/record"
	"github.com/VenketeszRR/fraudlens/internal/reference"
)

// Thresholds carries the rule constants, supplied by configuration.
type Thresholds struct {
	// MerchantTxnLimit is the cumulative transaction count a merchant must
	// strictly exceed for the elevated-risk rule.
	MerchantTxnLimit int64
	// AvgAmountLimit is the strict upper bound on mean amount for the
	// low-value high-frequency rule.
	AvgAmountLimit float64
	// MinTxnCount is the inclusive lower bound on per-pair row count for the
	// low-value high-frequency rule.
	MinTxnCount int
}

// ElevatedRisk (PatId1) fires for (customer, merchant) pairs whose importance
// weight is at or below the bottom percentile cut AND whose merchant's
// post-increment cumulative count strictly exceeds the merchant limit. Rows
// with no matching reference weight are excluded.
func ElevatedRisk(records []record.Transaction, counters map[string]int64, ref *reference.Table, th Thresholds) []record.Detection {
	seen := make(map[string]struct{})
	var out []record.Detection
	for _, txn := range records {
		weight, ok := ref.Weight(txn.Customer, txn.Merchant)
		if !ok {
			continue
		}
		if weight > ref.BottomCut() {
			continue
		}
		if counters[txn.Merchant] <= th.MerchantTxnLimit {
			continue
		}
		k := txn.Customer + "|" + txn.Merchant
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, record.Detection{
			Pattern:  record.PatternElevatedRisk,
			Action:   record.ActionUpgrade,
			Customer: txn.Customer,
			Merchant: txn.Merchant,
		})
	}
	sortDetections(out)
	return out
}

// LowValueHighFreq (PatId2) is batch-local: it groups the current batch's
// records by (customer, merchant) and fires when the in-batch mean amount is
// strictly below the limit and the in-batch row count meets the minimum.
// There is no cross-batch memory, so results depend on batch boundaries.
func LowValueHighFreq(records []record.Transaction, th Thresholds) []record.Detection {
	type agg struct {
		customer string
		merchant string
		sum      float64
		count    int
	}
	groups := make(map[string]*agg)
	for _, txn := range records {
		k := txn.Customer + "|" + txn.Merchant
		g, ok := groups[k]
		if !ok {
			g = &agg{customer: txn.Customer, merchant: txn.Merchant}
			groups[k] = g
		}
		g.sum += txn.Amount
		g.count++
	}

	var out []record.Detection
	for _, g := range groups {
		if g.count < th.MinTxnCount {
			continue
		}
		if g.sum/float64(g.count) >= th.AvgAmountLimit {
			continue
		}
		out = append(out, record.Detection{
			Pattern:  record.PatternLowValueHighFrq,
			Action:   record.ActionChild,
			Customer: g.customer,
			Merchant: g.merchant,
		})
	}
	sortDetections(out)
	return out
}

// GenderImbalance (PatId3) is batch-local: restricted to gender M or F, it
// counts per merchant and gender and fires for merchants with both genders
// present where the female count is strictly below the male count. No
// customer attribution.
func GenderImbalance(records []record.Transaction) []record.Detection {
	type counts struct {
		male   int
		female int
	}
	byMerchant := make(map[string]*counts)
	for _, txn := range records {
		if txn.Gender != "M" && txn.Gender != "F" {
			continue
		}
		c, ok := byMerchant[txn.Merchant]
		if !ok {
			c = &counts{}
			byMerchant[txn.Merchant] = c
		}
		if txn.Gender == "M" {
			c.male++
		} else {
			c.female++
		}
	}

	var out []record.Detection
	for merchant, c := range byMerchant {
		if c.male == 0 || c.female == 0 {
			continue
		}
		if c.female >= c.male {
			continue
		}
		out = append(out, record.Detection{
			Pattern:  record.PatternGenderImbalance,
			Action:   record.ActionDEINeeded,
			Merchant: merchant,
		})
	}
	sortDetections(out)
	return out
}

// sortDetections orders by (merchant, customer) so detector output is
// deterministic for identical inputs.
func sortDetections(ds []record.Detection) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Merchant != ds[j].Merchant {
			return ds[i].Merchant < ds[j].Merchant
		}
		return ds[i].Customer < ds[j].Customer
	})
}
