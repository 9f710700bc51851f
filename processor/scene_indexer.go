package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nci/lakeice/catalog"
)

// SceneRequest selects the scenes of one lake and window.
type SceneRequest struct {
	Collection string
	Band       string
	BBox       [4]float64
	WKT        string
	Window     Window
	Predicate  string
}

// SceneGranule is one scene band to be read.
type SceneGranule struct {
	Scene catalog.Scene
	Band  string
}

// SceneIndexer queries the catalogue for every incoming request and emits
// a granule per scene found. A request matching no scene fails with a
// MissingDataError.
type SceneIndexer struct {
	Context   context.Context
	In        chan *SceneRequest
	Out       chan *SceneGranule
	Error     chan error
	Catalogue catalog.Catalogue
	Log       *zap.SugaredLogger
}

func NewSceneIndexer(ctx context.Context, cat catalog.Catalogue, errChan chan error) *SceneIndexer {
	return &SceneIndexer{
		Context:   ctx,
		In:        make(chan *SceneRequest, 100),
		Out:       make(chan *SceneGranule, 100),
		Error:     errChan,
		Catalogue: cat,
		Log:       zap.NewNop().Sugar(),
	}
}

func (p *SceneIndexer) Run() {
	defer close(p.Out)
	for req := range p.In {
		select {
		case <-p.Context.Done():
			p.Error <- fmt.Errorf("Scene indexer context has been cancelled: %v", p.Context.Err())
			return
		default:
		}

		t0 := time.Now()
		scenes, err := SearchScenes(p.Context, p.Catalogue, req)
		if err != nil {
			p.Error <- err
			return
		}
		p.Log.Debugw("scenes indexed", "collection", req.Collection, "window", req.Window.String(), "scenes", len(scenes), "duration", time.Since(t0))

		for _, sc := range scenes {
			p.Out <- &SceneGranule{Scene: sc, Band: req.Band}
		}
	}
}

// SearchScenes runs req against cat.
func SearchScenes(ctx context.Context, cat catalog.Catalogue, req *SceneRequest) ([]catalog.Scene, error) {
	q := catalog.Query{
		Collection: req.Collection,
		BBox:       req.BBox,
		WKT:        req.WKT,
		Start:      req.Window.Start,
		End:        req.Window.End,
		Predicate:  req.Predicate,
	}
	scenes, err := cat.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("catalogue search for %s %s: %v", req.Collection, req.Window, err)
	}
	if len(scenes) == 0 {
		return nil, &MissingDataError{Start: req.Window.Start, End: req.Window.End, What: req.Collection}
	}
	return scenes, nil
}
