package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nci/lakeice/metrics"
)

type State int

const (
	Idle State = iota
	Filtering
	Mosaicked
	Dated
	Rendered
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Filtering:
		return "filtering"
	case Mosaicked:
		return "mosaicked"
	case Dated:
		return "dated"
	case Rendered:
		return "rendered"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Layer is the dated raster handed to the renderer with its display
// parameters.
type Layer struct {
	Year   int                 `json:"year"`
	Mode   Mode                `json:"mode"`
	Raster *Band               `json:"-"`
	Vis    VisualizationParams `json:"vis"`
	Start  time.Time           `json:"start"`
	End    time.Time           `json:"end"`
	Dates  int                 `json:"dates"`
}

// LoadSmoothSequence runs the scene pipeline of the lake over w:
// index -> read -> Frost filter -> mosaic by date. The mosaics are then
// masked with the water mask, which is already clipped to the region, and
// reduced to the smooth band. The result is sorted most recent first.
func (l *Lake) LoadSmoothSequence(ctx context.Context, w Window, mc *metrics.MetricsCollector) (Sequence, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t0 := time.Now()

	errChan := make(chan error, 100)

	indexer := NewSceneIndexer(ctx, l.Catalogue, errChan)
	indexer.Log = l.Log
	reader := NewSceneReader(ctx, l.ReaderConcurrency, errChan)
	reader.Log = l.Log
	reader.In = indexer.Out

	// Counts the scenes on their way to the filter.
	filterIn := make(chan *GeoImage, 100)
	numScenes := 0
	go func() {
		defer close(filterIn)
		for img := range reader.Out {
			numScenes++
			filterIn <- img
		}
	}()

	var filterOut chan *GeoImage
	remote := len(l.WorkerNodes) > 0
	if remote {
		f := NewFilterGRPC(ctx, l.WorkerNodes, l.MaxGrpcRecvMsgSize, l.Band, l.Frost, errChan)
		f.Log = l.Log
		f.In = filterIn
		filterOut = f.Out
		go f.Run()
	} else {
		f := NewFrostFilter(ctx, l.Band, l.Frost, l.PoolSize, errChan)
		f.Log = l.Log
		f.In = filterIn
		filterOut = f.Out
		go f.Run()
	}

	mosaicker := NewDateMosaicker(ctx, errChan)
	mosaicker.In = filterOut

	indexer.In <- l.sceneRequest(w)
	close(indexer.In)

	go indexer.Run()
	go reader.Run()
	go mosaicker.Run()

	var mosaics Sequence
	for done := false; !done; {
		select {
		case img, ok := <-mosaicker.Out:
			if !ok {
				done = true
				break
			}
			mosaics = append(mosaics, img)
		case err := <-errChan:
			cancel()
			go drain(mosaicker.Out)
			return nil, err
		case <-ctx.Done():
			go drain(mosaicker.Out)
			return nil, ctx.Err()
		}
	}

	// Stages report their error before closing their output.
	select {
	case err := <-errChan:
		return nil, err
	default:
	}

	var smooth Sequence
	for _, m := range mosaics {
		b, ok := m.Band(SmoothNS)
		if !ok {
			return nil, fmt.Errorf("mosaic %s has no %s band", m.ID, SmoothNS)
		}
		if l.WaterMask != nil {
			masked, err := b.UpdateMask(l.WaterMask)
			if err != nil {
				return nil, fmt.Errorf("masking mosaic %s: %w", m.ID, err)
			}
			m = m.WithBand(masked)
		}
		smooth = append(smooth, m.Select(SmoothNS))
	}

	if mc != nil {
		mc.Info.Indexer.Collection = l.Collection
		mc.Info.Indexer.Start = w.Start
		mc.Info.Indexer.End = w.End
		if l.Region != nil {
			mc.Info.Indexer.Geometry = l.Region.WKT
		}
		mc.Info.Indexer.NumScenes = numScenes
		mc.Info.Filter.NumImages = numScenes
		mc.Info.Filter.Remote = remote
		mc.Info.Filter.Workers = l.PoolSize
		if remote {
			mc.Info.Filter.Workers = len(l.WorkerNodes)
		}
		mc.Info.Filter.Duration = time.Since(t0)
		mc.Info.Mosaic.NumInputs = numScenes
		mc.Info.Mosaic.NumOutputs = len(smooth)
	}
	l.Log.Debugw("smooth sequence loaded", "window", w.String(), "scenes", numScenes, "dates", len(smooth), "duration", time.Since(t0))
	return smooth, nil
}

func drain(c chan *GeoImage) {
	for range c {
	}
}

// DateLayer restricts the smooth mosaics to the window of mode and dates
// the transition in every pixel.
func (l *Lake) DateLayer(ctx context.Context, mosaics Sequence, sw SeasonWindows, mode Mode, mc *metrics.MetricsCollector) (*Layer, error) {
	w, err := sw.ForMode(mode)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t0 := time.Now()

	sub := mosaics.FilterDate(w.Start, w.End)
	if len(sub) == 0 {
		return nil, &MissingDataError{Start: w.Start, End: w.End, What: fmt.Sprintf("%s %s mosaics", l.Name, mode)}
	}

	date, err := MaxDifferenceDate(sub, SmoothNS)
	if err != nil {
		return nil, err
	}
	vis, err := StretchParams(date, l.Region, l.StretchPercent, l.Palettes[mode])
	if err != nil {
		return nil, err
	}

	if mc != nil {
		mc.Info.Dater.Duration = time.Since(t0)
		mc.Info.Dater.NumInputs = len(sub)
		mc.Info.Dater.NumOutputs = 1
	}
	return &Layer{
		Year:   sw.Year,
		Mode:   mode,
		Raster: date,
		Vis:    vis,
		Start:  w.Start,
		End:    w.End,
		Dates:  len(sub),
	}, nil
}

// committed is the outcome of the last successful transition.
type committed struct {
	state   State
	year    int
	mode    Mode
	mosaics Sequence
	layer   *Layer
}

// IceEventPipeline drives the year/mode selection of one lake:
//
//	Idle -> Filtering(year) -> Mosaicked(year) -> Dated(mode) -> Rendered
//
// Every selection cancels the run in flight, which then returns
// ErrSuperseded. A failed run leaves the previous layer in place.
type IceEventPipeline struct {
	Lake *Lake
	Log  *zap.SugaredLogger

	mu     sync.Mutex
	state  State
	done   committed
	gen    uint64
	cancel context.CancelFunc
}

func NewIceEventPipeline(lake *Lake) *IceEventPipeline {
	return &IceEventPipeline{Lake: lake, Log: lake.Log, state: Idle}
}

func (p *IceEventPipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Layer returns the last dated layer, nil before the first one.
func (p *IceEventPipeline) Layer() *Layer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done.layer
}

// Selection returns the year and mode of the last successful run.
func (p *IceEventPipeline) Selection() (int, Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done.year, p.done.mode
}

// SelectYear filters and mosaics the analysis window of year. When a mode
// was selected before, the new year is dated in that mode too.
func (p *IceEventPipeline) SelectYear(ctx context.Context, year int) (*Layer, error) {
	p.mu.Lock()
	mode := p.done.mode
	p.mu.Unlock()
	return p.run(ctx, year, mode, true)
}

// SelectMode dates the mosaics of the selected year in mode.
func (p *IceEventPipeline) SelectMode(ctx context.Context, mode Mode) (*Layer, error) {
	p.mu.Lock()
	year := p.done.year
	hasMosaics := p.done.state >= Mosaicked
	p.mu.Unlock()
	if !hasMosaics {
		return nil, fmt.Errorf("no year selected")
	}
	return p.run(ctx, year, mode, false)
}

// Update selects year and mode together, recomputing everything.
func (p *IceEventPipeline) Update(ctx context.Context, year int, mode Mode) (*Layer, error) {
	return p.run(ctx, year, mode, true)
}

// MarkRendered records that the renderer drew the current layer.
func (p *IceEventPipeline) MarkRendered() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Dated && p.state != Rendered {
		return fmt.Errorf("cannot render in state %s", p.state)
	}
	p.state = Rendered
	p.done.state = Rendered
	return nil
}

// Cancel abandons the run in flight, if any.
func (p *IceEventPipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *IceEventPipeline) run(parent context.Context, year int, mode Mode, refilter bool) (*Layer, error) {
	sw, err := NewSeasonWindows(year, p.Lake.Season)
	if err != nil {
		return nil, err
	}
	if mode != "" {
		if _, err := sw.ForMode(mode); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	p.gen++
	gen := p.gen
	p.cancel = cancel
	mosaics := p.done.mosaics
	if p.done.year != year || p.done.state < Mosaicked {
		refilter = true
	}
	if refilter {
		p.state = Filtering
	}
	p.mu.Unlock()

	mc := p.Lake.newCollector("ice_event")
	mc.Info.Year = year
	mc.Info.Mode = string(mode)
	defer mc.Log()

	if refilter {
		mosaics, err = p.Lake.LoadSmoothSequence(ctx, sw.Analysis, mc)
		if err != nil {
			return nil, p.fail(gen, err, mc)
		}
		ok := p.advance(gen, Mosaicked, func(c *committed) {
			c.year = year
			c.mosaics = mosaics
		})
		if !ok {
			mc.Finish("superseded", ErrSuperseded)
			return nil, ErrSuperseded
		}
	}

	if mode == "" {
		mc.Finish("ok", nil)
		return nil, nil
	}

	layer, err := p.Lake.DateLayer(ctx, mosaics, sw, mode, mc)
	if err != nil {
		return nil, p.fail(gen, err, mc)
	}
	ok := p.advance(gen, Dated, func(c *committed) {
		c.mode = mode
		c.layer = layer
	})
	if !ok {
		mc.Finish("superseded", ErrSuperseded)
		return nil, ErrSuperseded
	}
	mc.Finish("ok", nil)
	p.Log.Infow("layer dated", "year", year, "mode", mode, "dates", layer.Dates, "min", layer.Vis.Min, "max", layer.Vis.Max)
	return layer, nil
}

// advance commits a transition unless a newer run started meanwhile.
func (p *IceEventPipeline) advance(gen uint64, st State, commit func(c *committed)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return false
	}
	commit(&p.done)
	p.done.state = st
	p.state = st
	return true
}

// fail restores the last committed state. The committed layer is kept.
func (p *IceEventPipeline) fail(gen uint64, err error, mc *metrics.MetricsCollector) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		mc.Finish("superseded", ErrSuperseded)
		return ErrSuperseded
	}
	p.state = p.done.state
	outcome := "error"
	if errors.Is(err, ErrMissingData) {
		outcome = "no_data"
	}
	mc.Finish(outcome, err)
	p.Log.Warnw("ice event run failed", "error", err, "state", p.state)
	return err
}
