package main

/* icewatch serves the lake ice layers of every configured lake.
   Each lake lives in its own config namespace and exposes the dated
   ice-on/ice-off layers of its analysis years, the current ice
   conditions and a capabilities document listing both.
   Scenes come from the catalogue API (mas) or straight from the
   catalogue database; Frost filtering runs locally or on the gRPC
   filter workers listed in the lake config. */

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/edisonguo/jet"
	"github.com/gorilla/mux"
	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/zap"

	"github.com/nci/lakeice/catalog"
	"github.com/nci/lakeice/metrics"
	proc "github.com/nci/lakeice/processor"
	"github.com/nci/lakeice/utils"
)

var (
	port            = flag.Int("p", 8080, "Server listening port.")
	serverDataDir   = flag.String("data_dir", utils.DataDir, "Server data directory.")
	serverConfigDir = flag.String("conf_dir", utils.EtcDir, "Server config directory.")
	serverLogDir    = flag.String("log_dir", "", "Server log directory, - for stdout.")
	validateConfig  = flag.Bool("check_conf", false, "Validate server config files.")
	verbose         = flag.Bool("v", false, "Verbose mode for more server outputs.")
)

const capabilitiesTemplate = "capabilities.tpl"

// lakeService is one configured lake with its pipeline and the current
// conditions computed after startup.
type lakeService struct {
	config   *utils.Config
	lake     *proc.Lake
	pipeline *proc.IceEventPipeline
	closer   io.Closer

	currentMu sync.Mutex
	current   *proc.CurrentConditions
}

// currentConditions computes the current conditions on first success and
// keeps them. Failures are not kept; the next request tries again.
func (ls *lakeService) currentConditions(ctx context.Context, now time.Time) (*proc.CurrentConditions, error) {
	ls.currentMu.Lock()
	defer ls.currentMu.Unlock()
	if ls.current != nil {
		return ls.current, nil
	}
	// a client hanging up must not cancel a result kept for everyone
	cc, err := ls.lake.CurrentConditions(context.WithoutCancel(ctx), now)
	if err != nil {
		return nil, err
	}
	ls.current = cc
	return cc, nil
}

// layer returns the dated layer of year and mode, reusing the committed
// layer or mosaics of the pipeline where possible.
func (ls *lakeService) layer(ctx context.Context, year int, mode proc.Mode) (*proc.Layer, error) {
	if l := ls.pipeline.Layer(); l != nil && l.Year == year && l.Mode == mode {
		return l, nil
	}
	if y, _ := ls.pipeline.Selection(); y == year {
		return ls.pipeline.SelectMode(ctx, mode)
	}
	return ls.pipeline.Update(ctx, year, mode)
}

func (ls *lakeService) close() {
	ls.pipeline.Cancel()
	if ls.closer != nil {
		ls.closer.Close()
	}
}

type server struct {
	mu    sync.RWMutex
	lakes map[string]*lakeService

	templates     *jet.Set
	log           *zap.SugaredLogger
	metricsLogger metrics.Logger
	now           func() time.Time
}

func newServer(log *zap.SugaredLogger, metricsLogger metrics.Logger) *server {
	templates := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		xml.EscapeText(w, b)
	}), filepath.Join(utils.DataDir, "templates"))

	return &server{
		lakes:         make(map[string]*lakeService),
		templates:     templates,
		log:           log,
		metricsLogger: metricsLogger,
		now:           time.Now,
	}
}

func openCatalogue(ctx context.Context, conf *utils.Config, log *zap.SugaredLogger) (catalog.Catalogue, io.Closer, error) {
	sc := conf.ServiceConfig
	if sc.CatalogueAddress != "" {
		return catalog.NewClient(sc.CatalogueAddress), nil, nil
	}
	driver := sc.CatalogueDriver
	if driver == "" {
		driver = "postgres"
	}
	store, err := catalog.Open(ctx, driver, sc.CatalogueDSN, log)
	if err != nil {
		return nil, nil, err
	}
	return store, store, nil
}

// loadLakes builds a lake service per config and swaps them in. The
// previous services are cancelled and released.
func (s *server) loadLakes(ctx context.Context, configs map[string]*utils.Config) error {
	lakes := make(map[string]*lakeService, len(configs))
	for ns, conf := range configs {
		cat, closer, err := openCatalogue(ctx, conf, s.log)
		if err != nil {
			for _, ls := range lakes {
				ls.close()
			}
			return fmt.Errorf("lake %q: %v", ns, err)
		}
		lake, err := proc.NewLake(conf, cat, s.log, s.metricsLogger)
		if err != nil {
			if closer != nil {
				closer.Close()
			}
			for _, ls := range lakes {
				ls.close()
			}
			return err
		}
		lakes[ns] = &lakeService{config: conf, lake: lake, pipeline: proc.NewIceEventPipeline(lake), closer: closer}
	}

	s.mu.Lock()
	old := s.lakes
	s.lakes = lakes
	s.mu.Unlock()

	for _, ls := range old {
		ls.close()
	}
	s.log.Infow("lakes loaded", "count", len(lakes))
	return nil
}

// warmUp computes the current conditions of every lake.
func (s *server) warmUp(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	for ns, ls := range s.lakes {
		go func(ns string, ls *lakeService) {
			cc, err := ls.currentConditions(ctx, now)
			if err != nil {
				s.log.Warnw("current conditions unavailable", "lake", ns, "error", err)
				return
			}
			s.log.Infow("current conditions", "lake", ns, "image", cc.ImageID, "date", cc.DateLabel, "threshold", cc.Threshold)
		}(ns, ls)
	}
}

func (s *server) lake(ns string) (*lakeService, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.lakes[ns]
	return ls, ok
}

func (s *server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/{lake:.+}/ice/{year:[0-9]+}/{mode:[a-z-]+}.png", s.handle(s.serveLayerPNG)).Methods("GET")
	r.HandleFunc("/{lake:.+}/ice/{year:[0-9]+}/{mode:[a-z-]+}", s.handle(s.serveLayer)).Methods("GET")
	r.HandleFunc("/{lake:.+}/current.png", s.handle(s.serveCurrentPNG)).Methods("GET")
	r.HandleFunc("/{lake:.+}/current", s.handle(s.serveCurrent)).Methods("GET")
	r.HandleFunc("/{lake:.+}/capabilities", s.handle(s.serveCapabilities)).Methods("GET")
	return r
}

type lakeHandler func(ls *lakeService, w http.ResponseWriter, r *http.Request, mc *metrics.MetricsCollector) int

// handle resolves the lake namespace and records the request metrics.
func (s *server) handle(h lakeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
		s.log.Debugw("request", "url", r.URL.String())

		ns := mux.Vars(r)["lake"]
		mc := metrics.NewMetricsCollector(s.metricsLogger)
		mc.Info.Kind = "http"
		mc.Info.Lake = ns
		mc.Info.URL.RawURL = r.URL.String()
		mc.Info.RemoteAddr = r.RemoteAddr
		defer mc.Log()

		ls, ok := s.lake(ns)
		if !ok {
			s.log.Infow("invalid lake namespace", "lake", ns, "url", r.URL.Path)
			http.Error(w, fmt.Sprintf("Invalid lake namespace: %v", ns), http.StatusNotFound)
			mc.Info.HTTPStatus = http.StatusNotFound
			mc.Finish("error", nil)
			return
		}

		mc.Info.HTTPStatus = h(ls, w, r, mc)
		if mc.Info.HTTPStatus == http.StatusOK {
			mc.Finish("ok", nil)
		} else if mc.Info.Outcome == "" {
			mc.Finish("error", nil)
		}
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, proc.ErrMissingData):
		return http.StatusNotFound
	case errors.Is(err, proc.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func httpError(w http.ResponseWriter, mc *metrics.MetricsCollector, err error, status int) int {
	mc.Finish("error", err)
	http.Error(w, err.Error(), status)
	return status
}

func writeJSON(w http.ResponseWriter, v interface{}) int {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

func writePNG(w http.ResponseWriter, img []byte) int {
	w.Header().Set("Content-Type", "image/png")
	w.Write(img)
	return http.StatusOK
}

func (s *server) layerFor(ls *lakeService, w http.ResponseWriter, r *http.Request, mc *metrics.MetricsCollector) (*proc.Layer, int) {
	vars := mux.Vars(r)
	year, err := strconv.Atoi(vars["year"])
	if err != nil || !ls.config.HasYear(year) {
		return nil, httpError(w, mc, fmt.Errorf("year %s is not an analysis year of %s", vars["year"], ls.lake.Name), http.StatusNotFound)
	}
	mode, err := proc.ParseMode(vars["mode"])
	if err != nil {
		return nil, httpError(w, mc, err, http.StatusBadRequest)
	}
	mc.Info.Year = year
	mc.Info.Mode = string(mode)

	layer, err := ls.layer(r.Context(), year, mode)
	if err != nil {
		return nil, httpError(w, mc, err, errorStatus(err))
	}
	return layer, http.StatusOK
}

type layerResponse struct {
	Lake  string `json:"lake"`
	State string `json:"state"`
	*proc.Layer
}

func (s *server) serveLayer(ls *lakeService, w http.ResponseWriter, r *http.Request, mc *metrics.MetricsCollector) int {
	layer, status := s.layerFor(ls, w, r, mc)
	if layer == nil {
		return status
	}
	return writeJSON(w, layerResponse{Lake: ls.lake.Name, State: ls.pipeline.State().String(), Layer: layer})
}

func (s *server) serveLayerPNG(ls *lakeService, w http.ResponseWriter, r *http.Request, mc *metrics.MetricsCollector) int {
	layer, status := s.layerFor(ls, w, r, mc)
	if layer == nil {
		return status
	}
	img, err := proc.RenderPNG(layer.Raster, layer.Vis)
	if err != nil {
		return httpError(w, mc, err, http.StatusInternalServerError)
	}
	if err := ls.pipeline.MarkRendered(); err != nil {
		s.log.Debugw("layer superseded before rendering", "lake", ls.lake.Name, "error", err)
	}
	return writePNG(w, img)
}

func (s *server) currentFor(ls *lakeService, w http.ResponseWriter, r *http.Request, mc *metrics.MetricsCollector) (*proc.CurrentConditions, int) {
	cc, err := ls.currentConditions(r.Context(), s.now())
	if err != nil {
		return nil, httpError(w, mc, err, errorStatus(err))
	}
	return cc, http.StatusOK
}

func (s *server) serveCurrent(ls *lakeService, w http.ResponseWriter, r *http.Request, mc *metrics.MetricsCollector) int {
	cc, status := s.currentFor(ls, w, r, mc)
	if cc == nil {
		return status
	}
	return writeJSON(w, cc)
}

func (s *server) serveCurrentPNG(ls *lakeService, w http.ResponseWriter, r *http.Request, mc *metrics.MetricsCollector) int {
	cc, status := s.currentFor(ls, w, r, mc)
	if cc == nil {
		return status
	}
	img, err := proc.RenderPNG(cc.Raster, cc.Vis)
	if err != nil {
		return httpError(w, mc, err, http.StatusInternalServerError)
	}
	return writePNG(w, img)
}

type capabilities struct {
	Host       string
	Lake       string
	Title      string
	Abstract   string
	BBox       [4]float64
	Years      []int
	Modes      []string
	HasCurrent bool
	ImageDate  string
	State      string
}

func (s *server) serveCapabilities(ls *lakeService, w http.ResponseWriter, r *http.Request, mc *metrics.MetricsCollector) int {
	caps := capabilities{
		Host:     r.Host,
		Lake:     ls.lake.Name,
		Title:    ls.config.Title,
		Abstract: ls.config.Abstract,
		Years:    append([]int(nil), ls.config.Years...),
		Modes:    []string{string(proc.IceOn), string(proc.IceOff)},
		State:    ls.pipeline.State().String(),
	}
	if ls.config.Region != nil {
		caps.BBox = ls.config.Region.BBox
	}
	sort.Ints(caps.Years)
	if cc, err := ls.currentConditions(r.Context(), s.now()); err == nil {
		caps.HasCurrent = true
		caps.ImageDate = cc.DateLabel
	}

	tpl, err := s.templates.GetTemplate(capabilitiesTemplate)
	if err != nil {
		return httpError(w, mc, fmt.Errorf("capabilities template: %v", err), http.StatusInternalServerError)
	}
	w.Header().Set("Content-Type", "application/xml")
	if err := tpl.Execute(w, make(jet.VarMap), caps); err != nil {
		s.log.Errorw("capabilities template", "error", err)
		mc.Finish("error", err)
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

func newMetricsLogger(log *zap.SugaredLogger) metrics.Logger {
	if len(*serverLogDir) == 0 {
		return nil
	}
	if *serverLogDir == "-" {
		return metrics.NewStdoutLogger(log)
	}

	maxLogFileSize := 0
	if val, ok := os.LookupEnv("ICEWATCH_MAX_LOG_FILE_SIZE"); ok {
		if v, err := strconv.Atoi(val); err == nil {
			maxLogFileSize = v
		} else {
			log.Errorf("invalid ICEWATCH_MAX_LOG_FILE_SIZE: %v", err)
		}
	}
	maxLogFiles := 0
	if val, ok := os.LookupEnv("ICEWATCH_MAX_LOG_FILES"); ok {
		if v, err := strconv.Atoi(val); err == nil {
			maxLogFiles = v
		} else {
			log.Errorf("invalid ICEWATCH_MAX_LOG_FILES: %v", err)
		}
	}
	return metrics.NewFileLogger(*serverLogDir, maxLogFileSize, maxLogFiles, log)
}

func main() {
	flag.Parse()

	utils.DataDir = *serverDataDir
	utils.EtcDir = *serverConfigDir

	log, err := utils.InitLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	tplPath := filepath.Join(utils.DataDir, "templates", capabilitiesTemplate)
	if _, err := os.Stat(tplPath); os.IsNotExist(err) {
		log.Fatalf("missing template %s", tplPath)
	}

	confMap, err := utils.LoadAllConfigFiles(utils.EtcDir, log)
	if err != nil {
		log.Fatalf("Error in loading config files: %v", err)
	}
	if *validateConfig {
		os.Exit(0)
	}

	s := newServer(log, newMetricsLogger(log))
	ctx := context.Background()
	if err := s.loadLakes(ctx, confMap); err != nil {
		log.Fatal(err)
	}
	s.warmUp(ctx)

	store := utils.NewConfigStore(confMap)
	utils.WatchConfig(log, store, func(configs map[string]*utils.Config) {
		if err := s.loadLakes(ctx, configs); err != nil {
			log.Errorf("reload failed, keeping the previous lakes: %v", err)
			return
		}
		s.warmUp(ctx)
	})

	lis, err := reuseport.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", *port))
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	log.Infow("icewatch is ready", "port", *port)
	log.Fatal(http.Serve(lis, s.router()))
}
