package processor

import (
	"math"
	"testing"
)

func TestOtsuTwoClusters(t *testing.T) {
	var data []float64
	for i := 0; i < 50; i++ {
		data = append(data, 10, 90)
	}
	data = append(data, 11, 9, 89, 91)
	h, err := NewHistogram(bandFrom(len(data), 1, SmoothNS, data...), nil, 255)
	if err != nil {
		t.Fatal(err)
	}
	th := Otsu(h)
	if !(th > 11 && th < 89) {
		t.Errorf("threshold %v should lie between the clusters", th)
	}
}

func TestOtsuTieLastWins(t *testing.T) {
	h := &Histogram{Means: []float64{10, 50, 90}, Counts: []float64{100, 0, 100}}
	if th := Otsu(h); th != 50 {
		t.Errorf("threshold %v, want 50", th)
	}
}

func TestOtsuDegenerate(t *testing.T) {
	if th := Otsu(&Histogram{}); !math.IsNaN(th) {
		t.Errorf("empty histogram gave %v", th)
	}
	if th := Otsu(&Histogram{Means: []float64{1, 2}, Counts: []float64{0, 0}}); !math.IsNaN(th) {
		t.Errorf("histogram without counts gave %v", th)
	}
	h := &Histogram{Means: []float64{1, 2, 3}, Counts: []float64{0, 7, 0}}
	if th := Otsu(h); th != 2 {
		t.Errorf("single occupied bucket gave %v, want 2", th)
	}
}

func TestNewHistogram(t *testing.T) {
	var data []float64
	for i := 0; i < 10; i++ {
		data = append(data, float64(i))
	}
	data = append(data, math.NaN())
	h, err := NewHistogram(bandFrom(11, 1, SmoothNS, data...), nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Means) != 10 || h.Total() != 10 {
		t.Fatalf("buckets %d total %v", len(h.Means), h.Total())
	}
	if !almostEqual(h.Width, 0.9) {
		t.Errorf("width %v", h.Width)
	}
	for i, c := range h.Counts {
		if c != 1 || !almostEqual(h.Means[i], float64(i)) {
			t.Errorf("bucket %d holds %v with mean %v", i, c, h.Means[i])
		}
	}
	for i := 1; i < len(h.Means); i++ {
		if h.Means[i] <= h.Means[i-1] {
			t.Fatal("bucket means not ascending")
		}
	}

	flat, _ := NewHistogram(constBand(3, 3, SmoothNS, 5), nil, 255)
	if len(flat.Means) != 1 || flat.Means[0] != 5 || flat.Counts[0] != 9 {
		t.Errorf("constant band histogram %+v", flat)
	}

	empty, _ := NewHistogram(NewBand(testGrid(2, 2), SmoothNS), nil, 255)
	if len(empty.Means) != 0 {
		t.Errorf("invalid band histogram %+v", empty)
	}
}

func TestHistogramBucketMeans(t *testing.T) {
	h, err := NewHistogram(bandFrom(5, 1, SmoothNS, 0, 0.1, 0.2, 9.5, 10), nil, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0.1, 3.75, 6.25, 9.75}
	wantCounts := []float64{3, 0, 0, 2}
	for i := range want {
		if !almostEqual(h.Means[i], want[i]) || h.Counts[i] != wantCounts[i] {
			t.Errorf("bucket %d: mean %v count %v, want %v %v", i, h.Means[i], h.Counts[i], want[i], wantCounts[i])
		}
	}
}
