package processor

import (
	"math"
	"sort"
	"time"
)

// Band names produced along the pipeline.
const (
	SmoothNS = "smooth"
	DiffNS   = "diff"
	DateNS   = "date"
	WaterNS  = "water"
	IceNS    = "ice"
)

// DateIDFormat is the identifier given to date mosaics.
const DateIDFormat = "2006-01-02"

// Grid is the georeferencing shared by every band taking part in a
// pixel-wise operation.
type Grid struct {
	CRS           string
	GeoTransform  [6]float64
	Height, Width int
}

// Aligned returns a MisalignedGridError unless both grids describe the
// same pixels.
func (g Grid) Aligned(other Grid) error {
	if g.CRS != other.CRS || g.Width != other.Width || g.Height != other.Height || g.GeoTransform != other.GeoTransform {
		return &MisalignedGridError{Want: g, Got: other}
	}
	return nil
}

// PixelCentre returns the georeferenced coordinate of the centre of pixel (x, y).
func (g Grid) PixelCentre(x, y int) (float64, float64) {
	px := float64(x) + 0.5
	py := float64(y) + 0.5
	gt := g.GeoTransform
	return gt[0] + px*gt[1] + py*gt[2], gt[3] + px*gt[4] + py*gt[5]
}

func (g Grid) Size() int {
	return g.Width * g.Height
}

// Band is a single raster band. NaN marks invalid (masked) pixels.
type Band struct {
	Grid
	NameSpace string
	Data      []float64
}

// NewBand returns a band on grid g with every pixel invalid.
func NewBand(g Grid, ns string) *Band {
	data := make([]float64, g.Size())
	for i := range data {
		data[i] = math.NaN()
	}
	return &Band{Grid: g, NameSpace: ns, Data: data}
}

// NewConstantBand returns a band on grid g filled with value.
func NewConstantBand(g Grid, ns string, value float64) *Band {
	data := make([]float64, g.Size())
	for i := range data {
		data[i] = value
	}
	return &Band{Grid: g, NameSpace: ns, Data: data}
}

func (b *Band) Clone() *Band {
	data := make([]float64, len(b.Data))
	copy(data, b.Data)
	return &Band{Grid: b.Grid, NameSpace: b.NameSpace, Data: data}
}

func (b *Band) Rename(ns string) *Band {
	return &Band{Grid: b.Grid, NameSpace: ns, Data: b.Data}
}

// Empty reports whether the band has no pixels at all.
func (b *Band) Empty() bool {
	return b == nil || len(b.Data) == 0
}

// ValidCount returns the number of non-NaN pixels.
func (b *Band) ValidCount() int {
	n := 0
	for _, v := range b.Data {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// UpdateMask invalidates every pixel of b that is invalid or zero in mask.
func (b *Band) UpdateMask(mask *Band) (*Band, error) {
	if err := b.Grid.Aligned(mask.Grid); err != nil {
		return nil, err
	}
	out := b.Clone()
	for i, m := range mask.Data {
		if math.IsNaN(m) || m == 0 {
			out.Data[i] = math.NaN()
		}
	}
	return out, nil
}

// GeoImage is a multi-band raster acquired at TimeStamp.
type GeoImage struct {
	ID        string
	TimeStamp time.Time
	Bands     map[string]*Band
	Metadata  map[string]string
}

func NewGeoImage(id string, ts time.Time, bands ...*Band) *GeoImage {
	img := &GeoImage{ID: id, TimeStamp: ts, Bands: make(map[string]*Band, len(bands))}
	for _, b := range bands {
		img.Bands[b.NameSpace] = b
	}
	return img
}

func (img *GeoImage) Band(ns string) (*Band, bool) {
	b, ok := img.Bands[ns]
	return b, ok
}

// Grid returns the grid of the image, taken from any of its bands.
func (img *GeoImage) Grid() (Grid, bool) {
	for _, ns := range img.NameSpaces() {
		return img.Bands[ns].Grid, true
	}
	return Grid{}, false
}

// NameSpaces returns the band names in lexical order.
func (img *GeoImage) NameSpaces() []string {
	var ns []string
	for k := range img.Bands {
		ns = append(ns, k)
	}
	sort.Strings(ns)
	return ns
}

// WithBand returns a shallow copy of img carrying the extra band.
func (img *GeoImage) WithBand(b *Band) *GeoImage {
	out := &GeoImage{ID: img.ID, TimeStamp: img.TimeStamp, Bands: make(map[string]*Band, len(img.Bands)+1), Metadata: img.Metadata}
	for k, v := range img.Bands {
		out.Bands[k] = v
	}
	out.Bands[b.NameSpace] = b
	return out
}

// Select returns a shallow copy of img with only the named bands.
func (img *GeoImage) Select(nameSpaces ...string) *GeoImage {
	out := &GeoImage{ID: img.ID, TimeStamp: img.TimeStamp, Bands: make(map[string]*Band, len(nameSpaces)), Metadata: img.Metadata}
	for _, ns := range nameSpaces {
		if b, ok := img.Bands[ns]; ok {
			out.Bands[ns] = b
		}
	}
	return out
}

// Millis is the acquisition time in milliseconds since the epoch.
func (img *GeoImage) Millis() float64 {
	return float64(img.TimeStamp.UnixNano() / int64(time.Millisecond))
}

// Sequence is a time series of images.
type Sequence []*GeoImage

func (s Sequence) SortAscending() Sequence {
	out := append(Sequence(nil), s...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimeStamp.Before(out[j].TimeStamp) })
	return out
}

func (s Sequence) SortDescending() Sequence {
	out := append(Sequence(nil), s...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimeStamp.After(out[j].TimeStamp) })
	return out
}

// FilterDate keeps the images acquired in [start, end).
func (s Sequence) FilterDate(start, end time.Time) Sequence {
	var out Sequence
	for _, img := range s {
		if !img.TimeStamp.Before(start) && img.TimeStamp.Before(end) {
			out = append(out, img)
		}
	}
	return out
}

// First returns the first image in sequence order, nil if empty.
func (s Sequence) First() *GeoImage {
	if len(s) == 0 {
		return nil
	}
	return s[0]
}

func (s Sequence) Select(nameSpaces ...string) Sequence {
	out := make(Sequence, len(s))
	for i, img := range s {
		out[i] = img.Select(nameSpaces...)
	}
	return out
}
