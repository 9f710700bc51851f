package processor

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nci/lakeice/catalog"
	extr "github.com/nci/lakeice/crawl/extractor"
	"github.com/nci/lakeice/metrics"
	"github.com/nci/lakeice/utils"
)

const lakeSize = 8

// fakeCatalogue serves scenes from memory. When gate is set, the first
// search waits for it or for cancellation.
type fakeCatalogue struct {
	mu      sync.Mutex
	scenes  []catalog.Scene
	gate    chan struct{}
	entered chan struct{}
	calls   int
}

func (c *fakeCatalogue) Search(ctx context.Context, q catalog.Query) ([]catalog.Scene, error) {
	c.mu.Lock()
	c.calls++
	first := c.calls == 1
	c.mu.Unlock()

	if first && c.gate != nil {
		close(c.entered)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.gate:
		}
	}

	var out []catalog.Scene
	for _, sc := range c.scenes {
		if !sc.AcquiredAt.Before(q.Start) && sc.AcquiredAt.Before(q.End) {
			out = append(out, sc)
		}
	}
	return out, nil
}

type recordingLogger struct {
	mu    sync.Mutex
	infos []*metrics.MetricsInfo
}

func (r *recordingLogger) Log(info *metrics.MetricsInfo) {
	r.mu.Lock()
	r.infos = append(r.infos, info)
	r.mu.Unlock()
}

func writeRaster(t *testing.T, dir, id, band string, acquired time.Time, data []float64) string {
	t.Helper()
	nodata := -9999.0
	g := testGrid(lakeSize, lakeSize)
	md := &extr.SceneMetadata{
		ID:            id,
		Platform:      "sentinel-1a",
		Acquired:      acquired,
		OrbitPass:     "ASCENDING",
		Polarisations: []string{"VV"},
		CRS:           g.CRS,
		GeoTransform:  g.GeoTransform[:],
		Width:         lakeSize,
		Height:        lakeSize,
		NoData:        &nodata,
		Bands:         map[string]string{band: id + "_" + band + ".f32"},
	}
	if err := extr.WriteBand(filepath.Join(dir, id+"_"+band+".f32"), md, data); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, id+".yaml")
	if err := extr.WriteSceneMetadata(path, md); err != nil {
		t.Fatal(err)
	}
	return path
}

func fill(v float64) []float64 {
	data := make([]float64, lakeSize*lakeSize)
	for i := range data {
		data[i] = v
	}
	return data
}

// halves is ice (0.02) on the left half and open water (0.3) on the right.
func halves() []float64 {
	data := fill(0.3)
	for y := 0; y < lakeSize; y++ {
		for x := 0; x < lakeSize/2; x++ {
			data[y*lakeSize+x] = 0.02
		}
	}
	return data
}

type fixture struct {
	dir     string
	lake    *Lake
	cat     *fakeCatalogue
	metrics *recordingLogger
}

func (f *fixture) addScene(t *testing.T, id string, acquired time.Time, data []float64) {
	path := writeRaster(t, f.dir, id, "VV", acquired, data)
	f.cat.scenes = append(f.cat.scenes, catalog.Scene{ID: id, Collection: "s1", Path: path, AcquiredAt: acquired})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	scene := func(id string, acquired time.Time, data []float64) catalog.Scene {
		return catalog.Scene{ID: id, Collection: "s1", Path: writeRaster(t, dir, id, "VV", acquired, data), AcquiredAt: acquired}
	}
	cat := &fakeCatalogue{scenes: []catalog.Scene{
		scene("s1_20191110", time.Date(2019, 11, 10, 22, 41, 0, 0, time.UTC), fill(0.2)),
		scene("s1_20191220", time.Date(2019, 12, 20, 22, 41, 0, 0, time.UTC), fill(0.02)),
		scene("s1_20200301", time.Date(2020, 3, 1, 10, 0, 0, 0, time.UTC), fill(0.2)),
		scene("s1_20200320", time.Date(2020, 3, 20, 10, 0, 0, 0, time.UTC), halves()),
	}}

	lcPath := writeRaster(t, dir, "nlcd", "landcover", time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC), fill(utils.DefaultWaterClass))
	region, err := utils.NewRectRegion(-77.01, 42.9, -76.91, 43.01)
	if err != nil {
		t.Fatal(err)
	}
	damping := -1.0
	config := &utils.Config{
		NameSpace:           "testlake",
		Region:              region,
		LandCover:           utils.LandCover{Path: lcPath, Band: "landcover", WaterClass: utils.DefaultWaterClass, KernelRadius: 1, Iterations: 3},
		Collection:          utils.Collection{Name: "s1", Band: "VV"},
		Frost:               utils.FrostConfig{KernelSize: 3, Damping: &damping},
		Season:              defaultSeason,
		StretchPercent:      98,
		HistogramBuckets:    255,
		CurrentLookbackDays: 90,
		Palettes:            utils.Palettes{IceOn: "aqua,blue", IceOff: "blue,aqua", Current: "blue,white"},
		ServiceConfig:       utils.ServiceConfig{PoolSize: 2, ReaderConcurrency: 2},
	}

	rec := &recordingLogger{}
	lake, err := NewLake(config, cat, nil, rec)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{dir: dir, lake: lake, cat: cat, metrics: rec}
}

func midnightMillis(y int, m time.Month, d int) float64 {
	return float64(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).UnixNano() / int64(time.Millisecond))
}

func TestNewLake(t *testing.T) {
	f := newFixture(t)
	if f.lake.WaterMask.ValidCount() != lakeSize*lakeSize {
		t.Errorf("water mask covers %d pixels, want %d", f.lake.WaterMask.ValidCount(), lakeSize*lakeSize)
	}
	if p := f.lake.Palettes[IceOff]; len(p) != 2 || p[0] != "blue" {
		t.Errorf("ice-off palette %v", p)
	}
	if f.lake.Frost.KernelSize != 3 || f.lake.Frost.Damping != -1 {
		t.Errorf("frost params %+v", f.lake.Frost)
	}
}

func TestLoadSmoothSequence(t *testing.T) {
	f := newFixture(t)
	sw, _ := NewSeasonWindows(2020, defaultSeason)
	mc := metrics.NewMetricsCollector(nil)
	seq, err := f.lake.LoadSmoothSequence(context.Background(), sw.Analysis, mc)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2020-03-20", "2020-03-01", "2019-12-20", "2019-11-10"}
	if got := ids(seq); len(got) != len(want) {
		t.Fatalf("mosaics %v, want %v", got, want)
	}
	for i, img := range seq {
		if img.ID != want[i] {
			t.Errorf("mosaic %d is %s, want %s", i, img.ID, want[i])
		}
		if ns := img.NameSpaces(); len(ns) != 1 || ns[0] != SmoothNS {
			t.Errorf("mosaic %s bands %v", img.ID, ns)
		}
	}
	if mc.Info.Indexer.NumScenes != 4 || mc.Info.Mosaic.NumOutputs != 4 {
		t.Errorf("metrics %+v %+v", mc.Info.Indexer, mc.Info.Mosaic)
	}

	empty := Window{Start: day(2015, 1, 1, 0), End: day(2015, 6, 1, 0)}
	if _, err := f.lake.LoadSmoothSequence(context.Background(), empty, nil); !errors.Is(err, ErrMissingData) {
		t.Errorf("expected missing data, got %v", err)
	}
}

func TestIceOnEndToEnd(t *testing.T) {
	f := newFixture(t)
	p := NewIceEventPipeline(f.lake)
	if p.State() != Idle {
		t.Fatalf("initial state %s", p.State())
	}

	layer, err := p.Update(context.Background(), 2020, IceOn)
	if err != nil {
		t.Fatal(err)
	}
	if p.State() != Dated {
		t.Errorf("state %s, want dated", p.State())
	}
	if layer.Year != 2020 || layer.Mode != IceOn || layer.Dates != 2 {
		t.Errorf("layer %+v", layer)
	}

	want := midnightMillis(2019, 12, 20)
	for i, v := range layer.Raster.Data {
		if v != want {
			t.Fatalf("pixel %d dated %v, want %v", i, v, want)
		}
	}
	if layer.Vis.Min != want || layer.Vis.Max != want {
		t.Errorf("vis %+v", layer.Vis)
	}
	if len(layer.Vis.Palette) != 2 || layer.Vis.Palette[0] != "aqua" {
		t.Errorf("palette %v", layer.Vis.Palette)
	}

	if err := p.MarkRendered(); err != nil {
		t.Fatal(err)
	}
	if p.State() != Rendered {
		t.Errorf("state %s, want rendered", p.State())
	}

	f.metrics.mu.Lock()
	defer f.metrics.mu.Unlock()
	if len(f.metrics.infos) != 1 || f.metrics.infos[0].Outcome != "ok" || f.metrics.infos[0].Year != 2020 {
		t.Errorf("metrics %+v", f.metrics.infos)
	}
}

func TestSelectYearThenMode(t *testing.T) {
	f := newFixture(t)
	p := NewIceEventPipeline(f.lake)

	if _, err := p.SelectMode(context.Background(), IceOn); err == nil {
		t.Error("selecting a mode before a year should fail")
	}

	layer, err := p.SelectYear(context.Background(), 2020)
	if err != nil {
		t.Fatal(err)
	}
	if layer != nil || p.State() != Mosaicked {
		t.Errorf("after year selection: layer %v state %s", layer, p.State())
	}
	if err := p.MarkRendered(); err == nil {
		t.Error("nothing to render before dating")
	}

	layer, err = p.SelectMode(context.Background(), IceOff)
	if err != nil {
		t.Fatal(err)
	}
	if p.State() != Dated || layer.Mode != IceOff {
		t.Errorf("state %s layer %+v", p.State(), layer)
	}
	if got, want := layer.Raster.Data[0], midnightMillis(2020, 3, 20); got != want {
		t.Errorf("ice-off date %v, want %v", got, want)
	}

	// A new year keeps the selected mode.
	f.addScene(t, "s1_20190301", time.Date(2019, 3, 1, 10, 0, 0, 0, time.UTC), fill(0.2))
	layer, err = p.SelectYear(context.Background(), 2019)
	if err != nil {
		t.Fatal(err)
	}
	if layer.Year != 2019 || layer.Mode != IceOff {
		t.Errorf("layer %+v", layer)
	}
}

func TestFailureKeepsLayer(t *testing.T) {
	f := newFixture(t)
	p := NewIceEventPipeline(f.lake)
	first, err := p.Update(context.Background(), 2020, IceOn)
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Update(context.Background(), 2018, IceOn)
	if !errors.Is(err, ErrMissingData) {
		t.Fatalf("expected missing data, got %v", err)
	}
	if p.Layer() != first {
		t.Error("the previous layer was replaced")
	}
	if p.State() != Dated {
		t.Errorf("state %s, want dated", p.State())
	}
	if y, m := p.Selection(); y != 2020 || m != IceOn {
		t.Errorf("selection %d %s", y, m)
	}

	if _, err := p.Update(context.Background(), 2020, Mode("melt")); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestSupersededRun(t *testing.T) {
	f := newFixture(t)
	f.cat.gate = make(chan struct{})
	f.cat.entered = make(chan struct{})
	p := NewIceEventPipeline(f.lake)

	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Update(context.Background(), 2020, IceOn)
		firstErr <- err
	}()
	<-f.cat.entered

	layer, err := p.Update(context.Background(), 2020, IceOff)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-firstErr:
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("first run returned %v, want ErrSuperseded", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("superseded run did not return")
	}

	if p.Layer() != layer || layer.Mode != IceOff {
		t.Errorf("layer %+v", p.Layer())
	}
	if p.State() != Dated {
		t.Errorf("state %s", p.State())
	}
}

func TestCurrentConditions(t *testing.T) {
	f := newFixture(t)
	cc, err := f.lake.CurrentConditions(context.Background(), time.Date(2020, 3, 25, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if cc.ImageID != "s1_20200320" || cc.DateLabel != "03/20/2020" {
		t.Errorf("image %s %s", cc.ImageID, cc.DateLabel)
	}
	if !(cc.Threshold > 0.02 && cc.Threshold < 0.3) {
		t.Errorf("threshold %v", cc.Threshold)
	}
	if v := cc.Raster.Data[0]; v != 1 {
		t.Errorf("left edge classified %v, want ice", v)
	}
	if v := cc.Raster.Data[lakeSize*lakeSize-1]; v != 0 {
		t.Errorf("right edge classified %v, want open water", v)
	}
	if cc.IcePixels == 0 || cc.IcePixels == lakeSize*lakeSize {
		t.Errorf("ice pixels %d", cc.IcePixels)
	}
	if cc.Vis.Min != 0 || cc.Vis.Max != 1 || cc.Vis.Palette[1] != "white" {
		t.Errorf("vis %+v", cc.Vis)
	}

	_, err = f.lake.CurrentConditions(context.Background(), time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrMissingData) {
		t.Errorf("expected missing data, got %v", err)
	}
}

func TestCurrentConditionsBeyondLookback(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2020, 6, 28, 0, 0, 0, 0, time.UTC)
	if now.Sub(time.Date(2020, 3, 20, 10, 0, 0, 0, time.UTC)) <= 90*24*time.Hour {
		t.Fatal("latest scene falls inside the lookback window")
	}
	cc, err := f.lake.CurrentConditions(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if cc.ImageID != "s1_20200320" || cc.DateLabel != "03/20/2020" {
		t.Errorf("image %s %s", cc.ImageID, cc.DateLabel)
	}
}

func TestClassifyIce(t *testing.T) {
	smooth := bandFrom(4, 1, SmoothNS, 0.01, 0.5, math.NaN(), 0.01)
	mask := bandFrom(4, 1, WaterNS, 1, 1, 1, math.NaN())
	ice, err := ClassifyIce(smooth, mask, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if ice.Data[0] != 1 || ice.Data[1] != 0 || ice.Data[2] != 0 || !math.IsNaN(ice.Data[3]) {
		t.Errorf("classified %v", ice.Data)
	}

	nanTh, _ := ClassifyIce(smooth, mask, math.NaN())
	if nanTh.Data[0] != 0 {
		t.Error("a NaN threshold should classify nothing as ice")
	}
	if _, err := ClassifyIce(smooth, constBand(2, 2, WaterNS, 1), 0.1); err == nil {
		t.Error("expected an error for a misaligned mask")
	}
}
