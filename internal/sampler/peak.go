package sampler

import (
	"math"
	"sync/atomic"
)

const (
	// NoData is returned when no sample was observed since the last query.
	NoData = -1.0
	// MeasurementError is returned when the tracked value is not finite.
	MeasurementError = -2.0
)

// PeakTracker holds the maximum sample observed since it was last queried.
// One goroutine may Observe at high frequency while another queries; neither
// takes a lock.
type PeakTracker struct {
	bits atomic.Uint64
}

// NewPeakTracker returns a tracker in the no-data state.
func NewPeakTracker() *PeakTracker {
	t := &PeakTracker{}
	t.bits.Store(math.Float64bits(NoData))
	return t
}

// Observe raises the stored value to sample when sample is strictly greater.
// A NaN sample latches the tracker until the next query, which then reports
// MeasurementError.
func (t *PeakTracker) Observe(sample float64) {
	if math.IsNaN(sample) {
		t.bits.Store(math.Float64bits(sample))
		return
	}
	for {
		old := t.bits.Load()
		if !(sample > math.Float64frombits(old)) {
			return
		}
		if t.bits.CompareAndSwap(old, math.Float64bits(sample)) {
			return
		}
	}
}

// TakePeakSinceLastQuery returns the stored peak and resets the tracker to
// NoData in the same atomic step.
func (t *PeakTracker) TakePeakSinceLastQuery() float64 {
	v := math.Float64frombits(t.bits.Swap(math.Float64bits(NoData)))
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return MeasurementError
	}
	return v
}
