package peripheral

import "sync/atomic"

// quadratureDivisor is the raw-count-to-reported-delta scale: the decoder's
// raw edge count increments 4x per detent, per spec §4.I "Quadrature
// decoder": "reports deltas (divided by 4)".
const quadratureDivisor = 4

// Quadrature accumulates raw encoder counts and reports deltas scaled down
// by quadratureDivisor whenever the accumulated delta is non-zero.
type Quadrature struct {
	raw      int64
	reported int64
}

// NewQuadrature returns a zeroed Quadrature.
func NewQuadrature() *Quadrature { return &Quadrature{} }

// Accumulate adds n raw counts (n may be negative), as an interrupt handler
// observing the encoder's A/B edges would.
func (q *Quadrature) Accumulate(n int64) {
	atomic.AddInt64(&q.raw, n)
}

// Delta returns the whole-detent delta accumulated since the last call to
// Delta, or zero if fewer than quadratureDivisor raw counts have
// accumulated since then.
func (q *Quadrature) Delta() int64 {
	raw := atomic.LoadInt64(&q.raw)
	wholeCounts := raw / quadratureDivisor
	delta := wholeCounts - q.reported
	if delta == 0 {
		return 0
	}
	q.reported = wholeCounts
	return delta
}
