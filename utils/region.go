package utils

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	geo "github.com/nci/geometry"
)

// RegionCRS is the reference system region coordinates are expressed in.
const RegionCRS = "EPSG:4326"

// Region is the fixed area of interest of a lake, given as a GeoJSON
// Feature with a Polygon or MultiPolygon geometry in lon/lat degrees.
type Region struct {
	WKT  string
	BBox [4]float64

	raw     json.RawMessage
	polygon *s2.Polygon
}

type geoJSONGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type geoJSONFeature struct {
	Type     string          `json:"type"`
	Geometry geoJSONGeometry `json:"geometry"`
}

// ParseRegion builds a Region from a GeoJSON Feature document.
func ParseRegion(raw []byte) (*Region, error) {
	var feat geo.Feature
	if err := json.Unmarshal(raw, &feat); err != nil {
		return nil, fmt.Errorf("Problem unmarshalling GeoJSON region: %v", err)
	}

	switch feat.Geometry.(type) {
	case *geo.Polygon, *geo.MultiPolygon:
	default:
		return nil, fmt.Errorf("region geometry not supported. Only Features containing Polygon or MultiPolygon are available")
	}

	var gj geoJSONFeature
	if err := json.Unmarshal(raw, &gj); err != nil {
		return nil, err
	}

	var polys [][][][2]float64
	switch gj.Geometry.Type {
	case "Polygon":
		var rings [][][2]float64
		if err := json.Unmarshal(gj.Geometry.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("invalid Polygon coordinates: %v", err)
		}
		polys = append(polys, rings)
	case "MultiPolygon":
		if err := json.Unmarshal(gj.Geometry.Coordinates, &polys); err != nil {
			return nil, fmt.Errorf("invalid MultiPolygon coordinates: %v", err)
		}
	}

	r := &Region{
		WKT:  feat.Geometry.MarshalWKT(),
		BBox: [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)},
		raw:  append(json.RawMessage(nil), raw...),
	}

	var loops []*s2.Loop
	for _, rings := range polys {
		for _, ring := range rings {
			if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
				ring = ring[:len(ring)-1]
			}
			if len(ring) < 3 {
				return nil, fmt.Errorf("region ring needs at least 3 distinct vertices, got %d", len(ring))
			}
			pts := make([]s2.Point, len(ring))
			for i, c := range ring {
				pts[i] = s2.PointFromLatLng(s2.LatLngFromDegrees(c[1], c[0]))
				r.BBox[0] = math.Min(r.BBox[0], c[0])
				r.BBox[1] = math.Min(r.BBox[1], c[1])
				r.BBox[2] = math.Max(r.BBox[2], c[0])
				r.BBox[3] = math.Max(r.BBox[3], c[1])
			}
			loop := s2.LoopFromPoints(pts)
			loop.Normalize()
			loops = append(loops, loop)
		}
	}
	if len(loops) == 0 {
		return nil, fmt.Errorf("region has no rings")
	}
	r.polygon = s2.PolygonFromLoops(loops)
	return r, nil
}

// NewRectRegion returns the axis-aligned region [minX, maxX] x [minY, maxY].
func NewRectRegion(minX, minY, maxX, maxY float64) (*Region, error) {
	feat := fmt.Sprintf(`{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[%[1]f,%[2]f],[%[3]f,%[2]f],[%[3]f,%[4]f],[%[1]f,%[4]f],[%[1]f,%[2]f]]]}}`,
		minX, minY, maxX, maxY)
	return ParseRegion([]byte(feat))
}

// Contains reports whether the point lies inside the region.
func (r *Region) Contains(lon, lat float64) bool {
	if lon < r.BBox[0] || lon > r.BBox[2] || lat < r.BBox[1] || lat > r.BBox[3] {
		return false
	}
	return r.polygon.ContainsPoint(s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon)))
}

func (r *Region) MarshalJSON() ([]byte, error) {
	if r.raw == nil {
		return []byte("null"), nil
	}
	return r.raw, nil
}

func (r *Region) UnmarshalJSON(data []byte) error {
	parsed, err := ParseRegion(data)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}
