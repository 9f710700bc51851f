package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	extr "github.com/nci/lakeice/crawl/extractor"
)

// SceneReader loads the requested band of every incoming granule, with at
// most ConcLimit files open at once.
type SceneReader struct {
	Context   context.Context
	In        chan *SceneGranule
	Out       chan *GeoImage
	Error     chan error
	ConcLimit int
	Log       *zap.SugaredLogger
}

func NewSceneReader(ctx context.Context, concLimit int, errChan chan error) *SceneReader {
	if concLimit <= 0 {
		concLimit = 1
	}
	return &SceneReader{
		Context:   ctx,
		In:        make(chan *SceneGranule, 100),
		Out:       make(chan *GeoImage, 100),
		Error:     errChan,
		ConcLimit: concLimit,
		Log:       zap.NewNop().Sugar(),
	}
}

func (r *SceneReader) Run() {
	defer close(r.Out)
	limiter := NewConcLimiter(r.ConcLimit)
	for gran := range r.In {
		if err := limiter.IncreaseContext(r.Context); err != nil {
			continue
		}
		go func(g *SceneGranule) {
			defer limiter.Decrease()
			img, err := ReadSceneImage(g.Scene.Path, g.Band)
			if err != nil {
				r.Error <- err
				return
			}
			img.ID = g.Scene.ID
			img.Metadata["orbit_pass"] = g.Scene.OrbitPass
			img.Metadata["platform"] = g.Scene.Platform
			select {
			case <-r.Context.Done():
			case r.Out <- img:
			}
		}(gran)
	}
	limiter.Wait()
}

// ReadSceneImage reads one band of the scene whose sidecar is at path.
func ReadSceneImage(path, band string) (*GeoImage, error) {
	md, err := extr.ReadSceneMetadata(path)
	if err != nil {
		return nil, err
	}
	data, err := extr.ReadBand(path, md, band)
	if err != nil {
		return nil, err
	}

	var gt [6]float64
	copy(gt[:], md.GeoTransform)
	grid := Grid{CRS: md.CRS, GeoTransform: gt, Width: md.Width, Height: md.Height}
	img := NewGeoImage(md.ID, md.Acquired, &Band{Grid: grid, NameSpace: band, Data: data})
	img.Metadata = map[string]string{"path": path}
	return img, nil
}

// LoadLandCover reads the land cover band the water mask is built from.
func LoadLandCover(path, band string) (*Band, error) {
	if path == "" {
		return nil, fmt.Errorf("no land cover configured")
	}
	img, err := ReadSceneImage(path, band)
	if err != nil {
		return nil, fmt.Errorf("loading land cover: %v", err)
	}
	b, _ := img.Band(band)
	return b, nil
}
