package processor

import (
	"math"

	"github.com/nci/lakeice/utils"
)

// Histogram holds equal-width buckets in ascending order. Means are the
// average of the values in each bucket, the midpoint for an empty one, and
// Counts the number of pixels per bucket.
type Histogram struct {
	Means  []float64
	Counts []float64
	Min    float64
	Width  float64
}

// Total returns the number of pixels counted.
func (h *Histogram) Total() float64 {
	var t float64
	for _, c := range h.Counts {
		t += c
	}
	return t
}

// regionValues returns the valid values of b, restricted to region when
// region is not nil.
func regionValues(b *Band, region *utils.Region) ([]float64, error) {
	if region != nil {
		clipped, err := ClipToRegion(b, region)
		if err != nil {
			return nil, err
		}
		b = clipped
	}
	vals := make([]float64, 0, len(b.Data))
	for _, v := range b.Data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			vals = append(vals, v)
		}
	}
	return vals, nil
}

// NewHistogram buckets the valid pixels of b inside region into at most
// maxBuckets equal-width buckets spanning the value range. A band without
// valid pixels gives an empty histogram.
func NewHistogram(b *Band, region *utils.Region, maxBuckets int) (*Histogram, error) {
	vals, err := regionValues(b, region)
	if err != nil {
		return nil, err
	}
	h := &Histogram{}
	if len(vals) == 0 {
		return h, nil
	}
	if maxBuckets <= 0 {
		maxBuckets = utils.DefaultBuckets
	}

	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	n := maxBuckets
	width := (hi - lo) / float64(n)
	if width == 0 {
		n = 1
		width = 1
	}

	h.Min = lo
	h.Width = width
	h.Means = make([]float64, n)
	h.Counts = make([]float64, n)
	for i := range h.Means {
		h.Means[i] = lo + (float64(i)+0.5)*width
	}
	if n == 1 {
		h.Means[0] = lo
	}
	sums := make([]float64, n)
	for _, v := range vals {
		i := int((v - lo) / width)
		if i >= n {
			i = n - 1
		}
		h.Counts[i]++
		sums[i] += v
	}
	for i, c := range h.Counts {
		if c > 0 {
			h.Means[i] = sums[i] / c
		}
	}
	return h, nil
}
