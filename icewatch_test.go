package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nci/lakeice/catalog"
	extr "github.com/nci/lakeice/crawl/extractor"
	"github.com/nci/lakeice/metrics"
	"github.com/nci/lakeice/utils"
)

const testSize = 8

type recordingLogger struct {
	mu    sync.Mutex
	infos []*metrics.MetricsInfo
}

func (r *recordingLogger) Log(info *metrics.MetricsInfo) {
	r.mu.Lock()
	r.infos = append(r.infos, info)
	r.mu.Unlock()
}

func (r *recordingLogger) requests() []*metrics.MetricsInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*metrics.MetricsInfo
	for _, info := range r.infos {
		if info.Kind == "http" {
			out = append(out, info)
		}
	}
	return out
}

func filled(v float64) []float64 {
	data := make([]float64, testSize*testSize)
	for i := range data {
		data[i] = v
	}
	return data
}

func writeScene(t *testing.T, dir, id, band string, acquired time.Time, data []float64) (string, *extr.SceneMetadata) {
	t.Helper()
	nodata := -9999.0
	md := &extr.SceneMetadata{
		ID:            id,
		Platform:      "sentinel-1a",
		Acquired:      acquired,
		OrbitPass:     "ascending",
		Polarisations: []string{"VV"},
		CRS:           "EPSG:4326",
		GeoTransform:  []float64{-77, 0.01, 0, 43, 0, -0.01},
		Width:         testSize,
		Height:        testSize,
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
	return path, md
}

// newTestServer configures the lake "ny/cayuga" over a sqlite catalogue
// holding four scenes of the 2020 season.
func newTestServer(t *testing.T) (*httptest.Server, *recordingLogger) {
	t.Helper()
	s, rec := newTestLakes(t)
	srv := httptest.NewServer(s.router())
	t.Cleanup(srv.Close)
	return srv, rec
}

func newTestLakes(t *testing.T) (*server, *recordingLogger) {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	dsn := filepath.Join(dir, "catalogue.db")
	store, err := catalog.Open(ctx, "sqlite", dsn, nil)
	if err != nil {
		t.Fatal(err)
	}
	halves := filled(0.3)
	for y := 0; y < testSize; y++ {
		for x := 0; x < testSize/2; x++ {
			halves[y*testSize+x] = 0.02
		}
	}
	for _, sc := range []struct {
		id       string
		acquired time.Time
		data     []float64
	}{
		{"s1_20191110", time.Date(2019, 11, 10, 22, 41, 0, 0, time.UTC), filled(0.2)},
		{"s1_20191220", time.Date(2019, 12, 20, 22, 41, 0, 0, time.UTC), filled(0.02)},
		{"s1_20200301", time.Date(2020, 3, 1, 10, 0, 0, 0, time.UTC), filled(0.2)},
		{"s1_20200320", time.Date(2020, 3, 20, 10, 0, 0, 0, time.UTC), halves},
	} {
		path, md := writeScene(t, dir, sc.id, "VV", sc.acquired, sc.data)
		if err := store.Insert(ctx, md.Scene("s1_grd", path)); err != nil {
			t.Fatal(err)
		}
	}
	store.Close()

	lcPath, _ := writeScene(t, dir, "nlcd", "landcover", time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC), filled(utils.DefaultWaterClass))

	confRoot := filepath.Join(dir, "etc")
	confDir := filepath.Join(confRoot, "ny", "cayuga")
	if err := os.MkdirAll(confDir, 0755); err != nil {
		t.Fatal(err)
	}
	doc := fmt.Sprintf(`{
		"title": "Cayuga Lake",
		"abstract": "Ice <cover> & timing",
		"service_config": {"catalogue_driver": "sqlite", "catalogue_dsn": %q, "pool_size": 2},
		"region": {"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[-77.01,42.9],[-76.91,42.9],[-76.91,43.01],[-77.01,43.01],[-77.01,42.9]]]}},
		"land_cover": {"path": %q},
		"collection": {"name": "s1_grd"},
		"frost": {"kernel_size": 3},
		"years": [2019, 2020]
	}`, dsn, lcPath)
	if err := os.WriteFile(filepath.Join(confDir, "config.json"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	configs, err := utils.LoadAllConfigFiles(confRoot, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}

	utils.DataDir = "."
	rec := &recordingLogger{}
	s := newServer(zap.NewNop().Sugar(), rec)
	s.now = func() time.Time { return time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.loadLakes(ctx, configs); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		for _, ls := range s.lakes {
			ls.close()
		}
	})
	return s, rec
}

// flakyCatalogue fails its first failures searches.
type flakyCatalogue struct {
	catalog.Catalogue
	failures int
}

func (f *flakyCatalogue) Search(ctx context.Context, q catalog.Query) ([]catalog.Scene, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("catalogue unavailable")
	}
	return f.Catalogue.Search(ctx, q)
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func TestServeLayer(t *testing.T) {
	srv, rec := newTestServer(t)

	resp, body := get(t, srv.URL+"/ny/cayuga/ice/2020/ice-on")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var layer struct {
		Lake  string `json:"lake"`
		State string `json:"state"`
		Year  int    `json:"year"`
		Mode  string `json:"mode"`
		Dates int    `json:"dates"`
		Vis   struct {
			Min     float64  `json:"min"`
			Max     float64  `json:"max"`
			Palette []string `json:"palette"`
		} `json:"vis"`
	}
	if err := json.Unmarshal(body, &layer); err != nil {
		t.Fatal(err)
	}
	if layer.Lake != "ny/cayuga" || layer.Year != 2020 || layer.Mode != "ice-on" || layer.State != "dated" {
		t.Errorf("layer %+v", layer)
	}
	if layer.Dates == 0 || len(layer.Vis.Palette) != 2 || layer.Vis.Palette[0] != "aqua" {
		t.Errorf("layer %+v", layer)
	}

	resp, body = get(t, srv.URL+"/ny/cayuga/ice/2020/ice-off.png")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	img, err := png.Decode(strings.NewReader(string(body)))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != testSize || b.Dy() != testSize {
		t.Errorf("image bounds %v", b)
	}

	reqs := rec.requests()
	if len(reqs) != 2 {
		t.Fatalf("%d request records", len(reqs))
	}
	if reqs[1].HTTPStatus != http.StatusOK || reqs[1].Year != 2020 || reqs[1].Mode != "ice-off" || reqs[1].Outcome != "ok" {
		t.Errorf("request record %+v", reqs[1])
	}
}

func TestServeLayerErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, tc := range []struct {
		path   string
		status int
	}{
		{"/ny/cayuga/ice/2017/ice-on", http.StatusNotFound},
		{"/ny/cayuga/ice/2020/sideways", http.StatusBadRequest},
		{"/nowhere/ice/2020/ice-on", http.StatusNotFound},
		{"/ny/cayuga/unknown", http.StatusNotFound},
		// no scenes in the 2019 season
		{"/ny/cayuga/ice/2019/ice-on", http.StatusNotFound},
	} {
		resp, body := get(t, srv.URL+tc.path)
		if resp.StatusCode != tc.status {
			t.Errorf("%s: status %d, want %d (%s)", tc.path, resp.StatusCode, tc.status, body)
		}
	}
}

func TestServeCurrent(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := get(t, srv.URL+"/ny/cayuga/current")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var cc struct {
		Threshold float64 `json:"threshold"`
		ImageID   string  `json:"image_id"`
		DateLabel string  `json:"date_label"`
		IcePixels int     `json:"ice_pixels"`
	}
	if err := json.Unmarshal(body, &cc); err != nil {
		t.Fatal(err)
	}
	if cc.ImageID != "s1_20200320" || cc.DateLabel != "03/20/2020" {
		t.Errorf("current conditions %+v", cc)
	}
	if cc.Threshold < 0.02 || cc.Threshold >= 0.3 {
		t.Errorf("threshold %v outside the two classes", cc.Threshold)
	}
	if cc.IcePixels == 0 || cc.IcePixels == testSize*testSize {
		t.Errorf("%d ice pixels", cc.IcePixels)
	}

	resp, body = get(t, srv.URL+"/ny/cayuga/current.png")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	if _, err := png.Decode(strings.NewReader(string(body))); err != nil {
		t.Error(err)
	}
}

func TestServeCurrentRetriesAfterFailure(t *testing.T) {
	s, _ := newTestLakes(t)
	ls := s.lakes["ny/cayuga"]
	ls.lake.Catalogue = &flakyCatalogue{Catalogue: ls.lake.Catalogue, failures: 1}
	srv := httptest.NewServer(s.router())
	defer srv.Close()

	resp, _ := get(t, srv.URL+"/ny/cayuga/current")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status %d with the catalogue down", resp.StatusCode)
	}
	resp, body := get(t, srv.URL+"/ny/cayuga/current")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d after the catalogue recovered: %s", resp.StatusCode, body)
	}
	if ls.current == nil || ls.current.ImageID != "s1_20200320" {
		t.Errorf("current conditions not kept: %+v", ls.current)
	}
}

func TestServeCapabilities(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := get(t, srv.URL+"/ny/cayuga/capabilities")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	doc := string(body)
	for _, want := range []string{
		"<Name>ny/cayuga</Name>",
		"Ice &lt;cover&gt; &amp; timing",
		`<Year value="2019">`,
		`<Year value="2020">`,
		"/ny/cayuga/ice/2020/ice-off.png",
		`<CurrentConditions date="03/20/2020">`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("capabilities missing %q:\n%s", want, doc)
		}
	}
}
