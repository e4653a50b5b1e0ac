package aggregator

import "shredlead/types"

// HistogramBuckets and HistogramBucketWidthNs implement spec.md §4.7's
// mandated fixed equi-width histogram over the accepted lead-time range:
// 2500 buckets, 1ms each, covering [-500ms, +2000ms]. Per spec.md §9's
// design note, this is deliberately NOT an approximate streaming sketch.
const (
	HistogramBuckets       = 2500
	HistogramBucketWidthNs = 1_000_000 // 1ms
)

// Histogram is an exactly mergeable fixed-bucket percentile sketch.
type Histogram struct {
	buckets [HistogramBuckets]uint64
	count   uint64
}

func bucketIndex(deltaNs int64) int {
	idx := int((deltaNs - types.MinAcceptedDeltaNs) / HistogramBucketWidthNs)
	if idx < 0 {
		idx = 0
	}
	if idx >= HistogramBuckets {
		idx = HistogramBuckets - 1
	}
	return idx
}

// Add records one accepted delta.
func (h *Histogram) Add(deltaNs int64) {
	h.buckets[bucketIndex(deltaNs)]++
	h.count++
}

// Merge folds another histogram's counts into this one; used to combine the
// previous tumbling window when computing snapshot percentiles.
func (h *Histogram) Merge(other *Histogram) {
	for i := range h.buckets {
		h.buckets[i] += other.buckets[i]
	}
	h.count += other.count
}

// Percentile returns the microsecond value at the given quantile (0..1) by
// walking buckets until the cumulative count reaches it.
func (h *Histogram) Percentile(q float64) int64 {
	if h.count == 0 {
		return 0
	}
	target := uint64(q * float64(h.count))
	if target == 0 {
		target = 1
	}
	var cum uint64
	for i, c := range h.buckets {
		cum += c
		if cum >= target {
			bucketStartNs := types.MinAcceptedDeltaNs + int64(i)*HistogramBucketWidthNs
			return bucketStartNs / 1000 // report in microseconds per spec.md §6
		}
	}
	return types.MaxAcceptedDeltaNs / 1000
}

// Count returns the number of samples recorded.
func (h *Histogram) Count() uint64 {
	return h.count
}
