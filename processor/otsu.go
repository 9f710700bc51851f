package processor

import "math"

// Otsu returns the threshold maximising the between-class variance of h.
//
// Split i puts buckets [0, i) in the lower class. Splits leaving a class
// empty are skipped. Among equal maxima the last split wins and the
// threshold is the mean of the last bucket of its lower class. An empty
// histogram gives NaN; a histogram with a single occupied bucket gives
// that bucket's mean.
func Otsu(h *Histogram) float64 {
	n := len(h.Means)
	total := h.Total()
	if n == 0 || total == 0 {
		return math.NaN()
	}

	var sum float64
	for i, m := range h.Means {
		sum += m * h.Counts[i]
	}
	mean := sum / total

	best := math.Inf(-1)
	threshold := math.NaN()
	var aCount, aSum float64
	for i := 1; i < n; i++ {
		aCount += h.Counts[i-1]
		aSum += h.Means[i-1] * h.Counts[i-1]
		bCount := total - aCount
		if aCount == 0 || bCount == 0 {
			continue
		}
		aMean := aSum / aCount
		bMean := (sum - aSum) / bCount
		bss := aCount*(aMean-mean)*(aMean-mean) + bCount*(bMean-mean)*(bMean-mean)
		if bss >= best {
			best = bss
			threshold = h.Means[i-1]
		}
	}

	if math.IsNaN(threshold) {
		for i, c := range h.Counts {
			if c > 0 {
				return h.Means[i]
			}
		}
	}
	return threshold
}
