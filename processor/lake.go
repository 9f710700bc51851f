package processor

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/nci/lakeice/catalog"
	"github.com/nci/lakeice/metrics"
	"github.com/nci/lakeice/utils"
)

// Lake holds everything the pipelines of one monitored lake share: the
// scene source, the region and water mask, and the processing settings.
type Lake struct {
	Name       string
	Catalogue  catalog.Catalogue
	Collection string
	Band       string
	Predicate  string
	Region     *utils.Region
	WaterMask  *Band

	Frost            FrostParams
	Season           utils.Season
	StretchPercent   float64
	HistogramBuckets int
	LookbackDays     int
	Palettes         map[Mode][]string
	CurrentPalette   []string

	WorkerNodes        []string
	MaxGrpcRecvMsgSize int
	PoolSize           int
	ReaderConcurrency  int

	Log           *zap.SugaredLogger
	MetricsLogger metrics.Logger
}

// NewLake builds a lake from its configuration. The land cover raster is
// read and turned into the water mask here, once.
func NewLake(config *utils.Config, cat catalog.Catalogue, log *zap.SugaredLogger, metricsLogger metrics.Logger) (*Lake, error) {
	log = utils.NopIfNil(log)

	lcPath := config.LandCover.Path
	if !filepath.IsAbs(lcPath) {
		lcPath = filepath.Join(utils.DataDir, lcPath)
	}
	landCover, err := LoadLandCover(lcPath, config.LandCover.Band)
	if err != nil {
		return nil, fmt.Errorf("lake %q: %v", config.NameSpace, err)
	}

	opts := WaterMaskOptions{
		WaterClass: config.LandCover.WaterClass,
		Radius:     config.LandCover.KernelRadius,
		Iterations: config.LandCover.Iterations,
	}
	mask, err := BuildWaterMask(landCover, config.Region, opts)
	if err != nil {
		return nil, fmt.Errorf("lake %q: %v", config.NameSpace, err)
	}
	log.Infow("water mask built", "lake", config.NameSpace, "water_pixels", mask.ValidCount())

	damping := utils.DefaultDamping
	if config.Frost.Damping != nil {
		damping = *config.Frost.Damping
	}

	return &Lake{
		Name:       config.NameSpace,
		Catalogue:  cat,
		Collection: config.Collection.Name,
		Band:       config.Collection.Band,
		Predicate:  config.Collection.Predicate,
		Region:     config.Region,
		WaterMask:  mask,

		Frost:            FrostParams{KernelSize: config.Frost.KernelSize, Damping: damping},
		Season:           config.Season,
		StretchPercent:   config.StretchPercent,
		HistogramBuckets: config.HistogramBuckets,
		LookbackDays:     config.CurrentLookbackDays,
		Palettes: map[Mode][]string{
			IceOn:  splitPalette(config.Palettes.IceOn),
			IceOff: splitPalette(config.Palettes.IceOff),
		},
		CurrentPalette: splitPalette(config.Palettes.Current),

		WorkerNodes:        config.ServiceConfig.WorkerNodes,
		MaxGrpcRecvMsgSize: config.ServiceConfig.MaxGrpcRecvMsgSize,
		PoolSize:           config.ServiceConfig.PoolSize,
		ReaderConcurrency:  config.ServiceConfig.ReaderConcurrency,

		Log:           log.With("lake", config.NameSpace),
		MetricsLogger: metricsLogger,
	}, nil
}

func splitPalette(stops string) []string {
	var out []string
	for _, s := range strings.Split(stops, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (l *Lake) sceneRequest(w Window) *SceneRequest {
	req := &SceneRequest{
		Collection: l.Collection,
		Band:       l.Band,
		Window:     w,
		Predicate:  l.Predicate,
	}
	if l.Region != nil {
		req.BBox = l.Region.BBox
		req.WKT = l.Region.WKT
	}
	return req
}

func (l *Lake) newCollector(kind string) *metrics.MetricsCollector {
	mc := metrics.NewMetricsCollector(l.MetricsLogger)
	mc.Info.Lake = l.Name
	mc.Info.Kind = kind
	return mc
}
