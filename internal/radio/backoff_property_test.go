package radio

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// simulateBackoffSymbols models csmaAttemptLoop's exponent growth against an
// arbitrary schedule of CCA outcomes (true = clear, attempt succeeds and
// stops), returning the total unit-backoff symbols consumed. It mirrors the
// loop's exponent bookkeeping without any real sleeping, so the bound can be
// checked over many schedules quickly.
func simulateBackoffSymbols(ccaResults []bool) int {
	exponent := initialBackoffExp
	total := 0
	for attempt := 0; attempt < maxCSMABackoffs; attempt++ {
		maxSlots := 1 << uint(exponent)
		total += maxSlots * unitBackoffSymbols
		if attempt < len(ccaResults) && ccaResults[attempt] {
			return total
		}
		if exponent < maxBackoffExponent {
			exponent++
		}
	}
	return total
}

// TestRadioBackoffBound checks spec invariant 5: under any schedule of CCA
// failures, total elapsed time before declaring send failure is bounded by
// 3 * 2^5 * 20 symbols (worst case: every attempt draws the maximum slot
// count for its exponent and every CCA reports busy).
func TestRadioBackoffBound(t *testing.T) {
	const bound = maxCSMABackoffs * (1 << maxBackoffExponent) * unitBackoffSymbols

	rapid.Check(t, func(t *rapid.T) {
		results := rapid.SliceOfN(rapid.Bool(), 0, maxCSMABackoffs).Draw(t, "ccaResults")
		total := simulateBackoffSymbols(results)
		require.LessOrEqual(t, total, bound)
	})
}
