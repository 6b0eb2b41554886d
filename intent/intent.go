// Package intent turns a natural-language question into a typed Intent
// record via a function-calling chat model.
package intent

import (
	"fmt"
	"strings"
)

// Kind enumerates the query shapes the engine understands.
type Kind string

const (
	KindCheapest           Kind = "cheapest"
	KindMostExpensive      Kind = "most_expensive"
	KindHighestRated       Kind = "highest_rated"
	KindCostComparison     Kind = "cost_comparison"
	KindVolumeLeaders      Kind = "volume_leaders"
	KindMultiProcedureStat Kind = "multi_procedure_stats"
)

var validKinds = map[Kind]struct{}{
	KindCheapest:           {},
	KindMostExpensive:      {},
	KindHighestRated:       {},
	KindCostComparison:     {},
	KindVolumeLeaders:      {},
	KindMultiProcedureStat: {},
}

// Intent is the immutable per-request record the binder works from. Optional
// fields are zero when the question did not mention them.
type Intent struct {
	Kind          Kind
	ProcedureText string
	DRGCode       string
	State         string
	City          string
	ZipCode       string
	MinRating     float64
	MaxCost       float64
	Limit         int

	// Degraded marks an intent built from the default fallback after an
	// extraction failure.
	Degraded bool
}

// BindableFields counts the filter fields set on the intent, which is the
// placeholder budget a matching template should consume. Limit always binds.
func (in Intent) BindableFields() int {
	n := 1 // limit
	if in.ProcedureText != "" || in.DRGCode != "" {
		n++
	}
	if in.State != "" {
		n++
	}
	if in.City != "" {
		n++
	}
	if in.ZipCode != "" {
		n++
	}
	if in.MinRating > 0 {
		n++
	}
	if in.MaxCost > 0 {
		n++
	}
	return n
}

// normalize validates and canonicalizes raw extractor output in place.
func (in *Intent) normalize(maxRows, defaultLimit int) error {
	if _, ok := validKinds[in.Kind]; !ok {
		return fmt.Errorf("unknown query kind %q", in.Kind)
	}

	in.ProcedureText = strings.TrimSpace(in.ProcedureText)
	in.City = strings.TrimSpace(in.City)

	in.DRGCode = strings.TrimSpace(in.DRGCode)
	if in.DRGCode != "" && !drgCodeRe.MatchString(in.DRGCode) {
		in.DRGCode = ""
	}

	// Unknown state strings stay as written; the state filter simply
	// matches no rows for them.
	in.State, _ = NormalizeState(in.State)

	in.ZipCode = strings.TrimSpace(in.ZipCode)
	if in.ZipCode != "" && !zipRe.MatchString(in.ZipCode) {
		in.ZipCode = ""
	}

	if in.MinRating < 0 || in.MinRating > 10 {
		in.MinRating = 0
	}
	if in.MaxCost < 0 {
		in.MaxCost = 0
	}

	if in.Limit <= 0 {
		in.Limit = defaultLimit
	}
	if in.Limit > maxRows {
		in.Limit = maxRows
	}
	return nil
}
