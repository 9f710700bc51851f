package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testScenes() []Scene {
	day := func(d int) time.Time { return time.Date(2020, 1, d, 11, 30, 0, 0, time.UTC) }
	return []Scene{
		{ID: "s1", Collection: "s1_grd", Path: "/data/s1.yaml", AcquiredAt: day(2), Polarisations: []string{"VV", "VH"}, OrbitPass: "ASCENDING", Platform: "sentinel-1a", CRS: "EPSG:4326", BBox: [4]float64{-77, 42, -76, 43}},
		{ID: "s2", Collection: "s1_grd", Path: "/data/s2.yaml", AcquiredAt: day(5), Polarisations: []string{"VV"}, OrbitPass: "DESCENDING", Platform: "sentinel-1b", CRS: "EPSG:4326", BBox: [4]float64{-77, 42, -76, 43}},
		{ID: "s3", Collection: "s1_grd", Path: "/data/s3.yaml", AcquiredAt: day(8), Polarisations: []string{"HH"}, OrbitPass: "ASCENDING", Platform: "sentinel-1a", CRS: "EPSG:4326", BBox: [4]float64{-77, 42, -76, 43}},
		{ID: "s4", Collection: "s1_grd", Path: "/data/s4.yaml", AcquiredAt: day(9), Polarisations: []string{"VV"}, OrbitPass: "ASCENDING", Platform: "sentinel-1a", CRS: "EPSG:4326", BBox: [4]float64{10, 10, 11, 11}},
		{ID: "s5", Collection: "other", Path: "/data/s5.yaml", AcquiredAt: day(3), Polarisations: []string{"VV"}, OrbitPass: "ASCENDING", Platform: "sentinel-1a", CRS: "EPSG:4326", BBox: [4]float64{-77, 42, -76, 43}},
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", ":memory:", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Insert(context.Background(), testScenes()...); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return s
}

func sceneIDs(scenes []Scene) []string {
	var ids []string
	for _, s := range scenes {
		ids = append(ids, s.ID)
	}
	return ids
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStoreSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := Query{
		Collection: "s1_grd",
		BBox:       [4]float64{-76.8, 42.5, -76.5, 42.9},
		Start:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name   string
		modify func(q *Query)
		want   []string
	}{
		{"all", func(q *Query) {}, []string{"s1", "s2", "s3"}},
		{"default predicate", func(q *Query) { q.Predicate = "'VV' IN polarisations && orbit_pass == 'ASCENDING'" }, []string{"s1"}},
		{"half open end", func(q *Query) { q.End = time.Date(2020, 1, 5, 11, 30, 0, 0, time.UTC) }, []string{"s1"}},
		{"limit", func(q *Query) { q.Limit = 2 }, []string{"s1", "s2"}},
		{"no overlap", func(q *Query) { q.BBox = [4]float64{0, 0, 1, 1} }, nil},
	}

	for _, tc := range tests {
		q := base
		tc.modify(&q)
		got, err := s.Search(ctx, q)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if ids := sceneIDs(got); !sameIDs(ids, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, ids, tc.want)
		}
	}
}

func TestStoreInsertReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sc := testScenes()[0]
	sc.OrbitPass = "DESCENDING"
	if err := s.Insert(ctx, sc); err != nil {
		t.Fatal(err)
	}

	got, err := s.Search(ctx, Query{Collection: "s1_grd", BBox: sc.BBox, Start: sc.AcquiredAt, End: sc.AcquiredAt.Add(time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].OrbitPass != "DESCENDING" {
		t.Fatalf("expected the replaced scene, got %+v", got)
	}
	if !got[0].AcquiredAt.Equal(sc.AcquiredAt) {
		t.Errorf("acquired time %v, want %v", got[0].AcquiredAt, sc.AcquiredAt)
	}
	if len(got[0].Polarisations) != 2 {
		t.Errorf("polarisations %v", got[0].Polarisations)
	}
}

func TestRebind(t *testing.T) {
	s := &Store{Driver: "postgres"}
	if got := s.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("postgres rebind: %q", got)
	}
	s.Driver = "sqlite"
	if got := s.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind: %q", got)
	}
}

func TestPredicate(t *testing.T) {
	if _, err := NewPredicate("unknown_var == 1"); err == nil {
		t.Error("expected an error for an unsupported variable")
	}

	p, err := NewPredicate("")
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := p.Match(&Scene{}); !ok {
		t.Error("empty predicate should match")
	}

	p, err = NewPredicate("platform == 'sentinel-1b' || 'HH' IN polarisations")
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Filter(testScenes())
	if err != nil {
		t.Fatal(err)
	}
	if ids := sceneIDs(got); !sameIDs(ids, []string{"s2", "s3"}) {
		t.Errorf("got %v", ids)
	}
}

func TestWKT2BBox(t *testing.T) {
	want := [4]float64{-77.5, 42, -76, 43.25}
	got, err := WKT2BBox(BBox2WKT(want))
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := WKT2BBox("POLYGON EMPTY"); err == nil {
		t.Error("expected an error for a WKT without coordinates")
	}
}

func TestClientSearch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if r.URL.Path != "/s1_grd" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(SearchResponse{Error: "unknown collection"})
			return
		}
		json.NewEncoder(w).Encode(SearchResponse{Scenes: testScenes()[:2]})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	q := Query{Collection: "s1_grd", BBox: [4]float64{-77, 42, -76, 43}, Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC), Predicate: "orbit_pass == 'ASCENDING'"}
	scenes, err := c.Search(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if len(scenes) != 2 || scenes[1].ID != "s2" {
		t.Errorf("unexpected scenes %+v", scenes)
	}
	if gotQuery == "" || gotQuery[:10] != "intersects" {
		t.Errorf("query should start with intersects, got %q", gotQuery)
	}

	q.Collection = "missing"
	if _, err := c.Search(context.Background(), q); err == nil {
		t.Error("expected an error for an unknown collection")
	}
}
