package clinical

import (
	"github.com/shopspring/decimal"

	"github.com/mawule-gabriel/synthesis/internal/parser"
)

// PersistenceThreshold is the materiality cutoff: only differentials strictly
// above it are written to storage.
var PersistenceThreshold = decimal.RequireFromString("0.5")

var (
	minConfidence = decimal.Zero
	maxConfidence = decimal.NewFromInt(1)
)

// ShouldPersist reports whether a differential is confident enough to be
// stored. A confidence of exactly 0.5 is not.
func ShouldPersist(d parser.Differential) bool {
	return d.Confidence.GreaterThan(PersistenceThreshold)
}

func confidenceInRange(c decimal.Decimal) bool {
	return c.GreaterThanOrEqual(minConfidence) && c.LessThanOrEqual(maxConfidence)
}
