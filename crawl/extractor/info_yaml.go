package extractor

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/nci/lakeice/catalog"
)

// ReadSceneMetadata parses a scene sidecar.
func ReadSceneMetadata(filename string) (*SceneMetadata, error) {
	rawData, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	md := &SceneMetadata{}
	if err := yaml.Unmarshal(rawData, md); err != nil {
		return nil, fmt.Errorf("invalid scene metadata %s: %v", filename, err)
	}
	if err := md.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scene metadata %s: %v", filename, err)
	}
	if md.ID == "" {
		md.ID = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	md.Acquired = md.Acquired.UTC()
	return md, nil
}

func WriteSceneMetadata(filename string, md *SceneMetadata) error {
	out, err := yaml.Marshal(md)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, out, 0644)
}

func (md *SceneMetadata) Validate() error {
	if len(md.GeoTransform) != 6 {
		return fmt.Errorf("geotransform needs 6 coefficients, got %d", len(md.GeoTransform))
	}
	if md.Width <= 0 || md.Height <= 0 {
		return fmt.Errorf("invalid raster size %dx%d", md.Width, md.Height)
	}
	if len(md.Bands) == 0 {
		return fmt.Errorf("no bands")
	}
	if md.Acquired.IsZero() {
		return fmt.Errorf("missing acquisition time")
	}
	return nil
}

// BandNames returns the band names in lexical order.
func (md *SceneMetadata) BandNames() []string {
	var names []string
	for k := range md.Bands {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// BBox returns the [minX, minY, maxX, maxY] extent of the raster.
func (md *SceneMetadata) BBox() [4]float64 {
	gt := md.GeoTransform
	w, h := float64(md.Width), float64(md.Height)
	xs := []float64{gt[0], gt[0] + w*gt[1], gt[0] + h*gt[2], gt[0] + w*gt[1] + h*gt[2]}
	ys := []float64{gt[3], gt[3] + w*gt[4], gt[3] + h*gt[5], gt[3] + w*gt[4] + h*gt[5]}
	bbox := [4]float64{xs[0], ys[0], xs[0], ys[0]}
	for i := 1; i < 4; i++ {
		bbox[0] = math.Min(bbox[0], xs[i])
		bbox[1] = math.Min(bbox[1], ys[i])
		bbox[2] = math.Max(bbox[2], xs[i])
		bbox[3] = math.Max(bbox[3], ys[i])
	}
	return bbox
}

// Scene converts the sidecar at path into a catalogue record.
func (md *SceneMetadata) Scene(collection, path string) catalog.Scene {
	return catalog.Scene{
		ID:            md.ID,
		Collection:    collection,
		Path:          path,
		AcquiredAt:    md.Acquired,
		Polarisations: append([]string(nil), md.Polarisations...),
		OrbitPass:     strings.ToUpper(md.OrbitPass),
		Platform:      md.Platform,
		CRS:           md.CRS,
		BBox:          md.BBox(),
	}
}

// ReadBand loads band name of the scene described by the sidecar at
// sidecarPath. Nodata and non-finite samples are returned as NaN.
func ReadBand(sidecarPath string, md *SceneMetadata, name string) ([]float64, error) {
	rel, ok := md.Bands[name]
	if !ok {
		return nil, fmt.Errorf("scene %s has no band %q, available: %v", md.ID, name, md.BandNames())
	}
	bandPath := rel
	if !filepath.IsAbs(bandPath) {
		bandPath = filepath.Join(filepath.Dir(sidecarPath), rel)
	}

	f, err := os.Open(bandPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	n := md.Width * md.Height
	raw := make([]float32, n)
	if err := binary.Read(bufio.NewReader(f), binary.LittleEndian, raw); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, fmt.Errorf("band file %s is shorter than %dx%d float32 samples", bandPath, md.Width, md.Height)
		}
		return nil, err
	}

	data := make([]float64, n)
	for i, v := range raw {
		fv := float64(v)
		if math.IsInf(fv, 0) || (md.NoData != nil && fv == *md.NoData) {
			fv = math.NaN()
		}
		data[i] = fv
	}
	return data, nil
}

// WriteBand stores data as a raw little-endian float32 band file. NaN
// samples are written as nodata when the sidecar defines one.
func WriteBand(bandPath string, md *SceneMetadata, data []float64) error {
	if len(data) != md.Width*md.Height {
		return fmt.Errorf("band has %d samples, want %d", len(data), md.Width*md.Height)
	}
	raw := make([]float32, len(data))
	for i, v := range data {
		if math.IsNaN(v) && md.NoData != nil {
			v = *md.NoData
		}
		raw[i] = float32(v)
	}

	f, err := os.Create(bandPath)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, raw); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
