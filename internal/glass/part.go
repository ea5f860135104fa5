package glass

import "time"

// Price is a part price in integer minor currency units (cents).
type Price struct {
	Cents  int64     `json:"cents"`
	Source string    `json:"source"`
	AsOf   time.Time `json:"as_of"`
}

// PartResult is the canonical shape every resolution source is translated
// into: one authoritative NAGS part number for one glass position.
// Immutable once produced.
type PartResult struct {
	NAGSPartNumber      string   `json:"nags_part_number"`
	AlternatePartNumber string   `json:"alternate_part_number,omitempty"`
	Position            Position `json:"position"`
	Features            []string `json:"features,omitempty"`
	Price               *Price   `json:"price,omitempty"`
	// Source names the distributor or tier that produced this result.
	Source string `json:"source"`
}

// TierOutcome is the result of one tier invocation. It is aggregated by the
// orchestrator and logged, never persisted.
type TierOutcome struct {
	Success    bool
	Source     string
	Parts      []PartResult
	DurationMs int64
	Error      string
}
