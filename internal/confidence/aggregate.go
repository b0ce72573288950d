package confidence

import "github.com/shopspring/decimal"

// Aggregate returns the mean of the present readings rounded half-up to two
// decimal places. Nil readings are skipped rather than counted as zero; with
// no readings at all the result is 0.
func Aggregate(readings []*float64) float64 {
	sum := decimal.Zero
	count := 0

	for _, r := range readings {
		if r == nil {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(*r))
		count++
	}

	if count == 0 {
		return 0
	}

	return sum.DivRound(decimal.NewFromInt(int64(count)), 2).InexactFloat64()
}
