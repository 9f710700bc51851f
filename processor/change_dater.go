package processor

import (
	"fmt"
	"math"
)

// MaxDifferenceDate dates, for every pixel, the acquisition at which band
// ns departed the most from the earliest image of seq. The returned "date"
// band holds milliseconds since the epoch and is invalid where no image
// was valid. Ties go to the latest acquisition.
func MaxDifferenceDate(seq Sequence, ns string) (*Band, error) {
	if len(seq) == 0 {
		return &Band{NameSpace: DateNS}, nil
	}

	sorted := seq.SortAscending()
	base, ok := sorted[0].Band(ns)
	if !ok {
		return nil, fmt.Errorf("image %s has no band %q", sorted[0].ID, ns)
	}

	diffs := make([]*Band, len(sorted))
	maxDiff := NewBand(base.Grid, DiffNS)
	for i, img := range sorted {
		b, ok := img.Band(ns)
		if !ok {
			return nil, fmt.Errorf("image %s has no band %q", img.ID, ns)
		}
		if err := base.Grid.Aligned(b.Grid); err != nil {
			return nil, fmt.Errorf("change dating %s: %w", img.ID, err)
		}

		diff := NewBand(b.Grid, DiffNS)
		for p, v := range b.Data {
			d := math.Abs(v - base.Data[p])
			if math.IsNaN(d) {
				continue
			}
			diff.Data[p] = d
			if m := maxDiff.Data[p]; math.IsNaN(m) || d > m {
				maxDiff.Data[p] = d
			}
		}
		diffs[i] = diff
	}

	date := NewBand(base.Grid, DateNS)
	for i, img := range sorted {
		ms := img.Millis()
		for p, d := range diffs[i].Data {
			if math.IsNaN(d) || d != maxDiff.Data[p] {
				continue
			}
			if cur := date.Data[p]; math.IsNaN(cur) || ms > cur {
				date.Data[p] = ms
			}
		}
	}
	return date, nil
}
