// Package record defines the engine's data model: transaction records read
// from chunk files, customer-merchant importance entries, and the detections
// emitted by the pattern evaluators.
package record

import "time"

// Pattern identifies which rule produced a detection.
type Pattern string

const (
	PatternElevatedRisk    Pattern = "PatId1"
	PatternLowValueHighFrq Pattern = "PatId2"
	PatternGenderImbalance Pattern = "PatId3"
)

// Action is the remediation attached to a detection.
type Action string

const (
	ActionUpgrade   Action = "UPGRADE"
	ActionChild     Action = "CHILD"
	ActionDEINeeded Action = "DEI-NEEDED"
)

// ActionFor returns the action a pattern always emits.
func ActionFor(p Pattern) Action {
	switch p {
	case PatternElevatedRisk:
		return ActionUpgrade
	case PatternLowValueHighFrq:
		return ActionChild
	case PatternGenderImbalance:
		return ActionDEINeeded
	default:
		return ""
	}
}

// Transaction is one row of a chunk file. Transactions are consumed per batch
// and never persisted by the engine.
type Transaction struct {
	Step        int
	Customer    string
	Age         string
	Gender      string
	OriginZip   string
	Merchant    string
	MerchantZip string
	Category    string
	Amount      float64
	Fraud       int
	IngestedAt  string
}

// ImportanceEntry is one row of the customer-merchant importance table,
// loaded once at startup and immutable for the process lifetime.
type ImportanceEntry struct {
	Customer string
	Merchant string
	Weight   float64
}

// Detection is one rule match. Customer is empty for merchant-level patterns
// (written as a null column). A detection is created once per batch and is
// immutable; replays may duplicate it physically but never change it.
type Detection struct {
	Pattern        Pattern
	Action         Action
	Customer       string
	Merchant       string
	BatchStartTime time.Time
	DetectionTime  time.Time
}

// DedupKey returns the key consumers use to deduplicate at-least-once output:
// (pattern, customer, merchant, batch start time).
func (d Detection) DedupKey() string {
	return string(d.Pattern) + "|" + d.Customer + "|" + d.Merchant + "|" +
		d.BatchStartTime.UTC().Format(time.RFC3339Nano)
}
