package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISOFormat is the time layout used on the catalogue API.
const ISOFormat = "2006-01-02T15:04:05.000Z"

// Scene is one catalogued radar acquisition. Path points at the yaml
// sidecar describing the raster bands of the scene.
type Scene struct {
	ID            string     `json:"id"`
	Collection    string     `json:"collection"`
	Path          string     `json:"path"`
	AcquiredAt    time.Time  `json:"acquired_at"`
	Polarisations []string   `json:"polarisations"`
	OrbitPass     string     `json:"orbit_pass"`
	Platform      string     `json:"platform"`
	CRS           string     `json:"crs"`
	BBox          [4]float64 `json:"bbox"`
}

// Query selects scenes of a collection intersecting BBox and acquired in
// [Start, End). Predicate is an optional metadata expression.
type Query struct {
	Collection string
	BBox       [4]float64
	WKT        string
	Start, End time.Time
	Predicate  string
	Limit      int
}

// Catalogue is a searchable scene index.
type Catalogue interface {
	Search(ctx context.Context, q Query) ([]Scene, error)
}

// Intersects reports whether two [minX, minY, maxX, maxY] boxes overlap.
func Intersects(a, b [4]float64) bool {
	return a[0] <= b[2] && a[2] >= b[0] && a[1] <= b[3] && a[3] >= b[1]
}

func BBox2WKT(bbox [4]float64) string {
	return fmt.Sprintf("POLYGON ((%f %f, %f %f, %f %f, %f %f, %f %f))", bbox[0], bbox[1], bbox[2], bbox[1], bbox[2], bbox[3], bbox[0], bbox[3], bbox[0], bbox[1])
}

var wktNumber = regexp.MustCompile(`-?\d+(\.\d+)?([eE][-+]?\d+)?`)

// WKT2BBox returns the bounding box of the coordinates of a WKT polygon
// or multipolygon.
func WKT2BBox(wkt string) ([4]float64, error) {
	nums := wktNumber.FindAllString(wkt, -1)
	if len(nums) < 2 || len(nums)%2 != 0 {
		return [4]float64{}, fmt.Errorf("cannot read coordinates from WKT %q", wkt)
	}
	var bbox [4]float64
	for i := 0; i < len(nums); i += 2 {
		x, err := strconv.ParseFloat(nums[i], 64)
		if err != nil {
			return bbox, err
		}
		y, err := strconv.ParseFloat(nums[i+1], 64)
		if err != nil {
			return bbox, err
		}
		if i == 0 {
			bbox = [4]float64{x, y, x, y}
			continue
		}
		if x < bbox[0] {
			bbox[0] = x
		}
		if y < bbox[1] {
			bbox[1] = y
		}
		if x > bbox[2] {
			bbox[2] = x
		}
		if y > bbox[3] {
			bbox[3] = y
		}
	}
	return bbox, nil
}

// ParseBBox reads a "minx,miny,maxx,maxy" string.
func ParseBBox(s string) ([4]float64, error) {
	var bbox [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return bbox, fmt.Errorf("bbox needs 4 comma separated values, got %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return bbox, fmt.Errorf("invalid bbox %q: %v", s, err)
		}
		bbox[i] = v
	}
	return bbox, nil
}
