package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

var EtcDir = "."
var DataDir = "."

// ServiceConfig holds the addresses of the collaborating services.
// A lake either queries a catalogue API (CatalogueAddress) or opens the
// catalogue database directly (CatalogueDriver + CatalogueDSN).
type ServiceConfig struct {
	Hostname           string   `json:"hostname"`
	CatalogueAddress   string   `json:"catalogue_address"`
	CatalogueDriver    string   `json:"catalogue_driver"`
	CatalogueDSN       string   `json:"catalogue_dsn"`
	WorkerNodes        []string `json:"worker_nodes"`
	MaxGrpcRecvMsgSize int      `json:"max_grpc_recv_msg_size"`
	PoolSize           int      `json:"pool_size"`
	ReaderConcurrency  int      `json:"reader_concurrency"`
}

// LandCover describes the categorical raster the water mask is derived from.
type LandCover struct {
	Path         string  `json:"path"`
	Band         string  `json:"band"`
	WaterClass   float64 `json:"water_class"`
	KernelRadius int     `json:"kernel_radius"`
	Iterations   int     `json:"iterations"`
}

// Collection selects the radar scenes of a lake from the catalogue.
type Collection struct {
	Name      string `json:"name"`
	Band      string `json:"band"`
	Predicate string `json:"predicate"`
}

type FrostConfig struct {
	KernelSize int      `json:"kernel_size"`
	Damping    *float64 `json:"damping"`
}

// Season holds the month-day boundaries of the analysis windows. The
// analysis window starts at FreezeStart of the previous year and ends at
// ThawEnd of the analysis year; IceOffStart splits it.
type Season struct {
	FreezeStart string `json:"freeze_start"`
	IceOffStart string `json:"ice_off_start"`
	ThawEnd     string `json:"thaw_end"`
}

type Palettes struct {
	IceOn   string `json:"ice_on"`
	IceOff  string `json:"ice_off"`
	Current string `json:"current"`
}

// Config is the configuration of one monitored lake. Each lake lives in
// its own namespace directory under the config root.
type Config struct {
	NameSpace           string
	Title               string        `json:"title"`
	Abstract            string        `json:"abstract"`
	ServiceConfig       ServiceConfig `json:"service_config"`
	Region              *Region       `json:"region"`
	LandCover           LandCover     `json:"land_cover"`
	Collection          Collection    `json:"collection"`
	Frost               FrostConfig   `json:"frost"`
	Years               []int         `json:"years"`
	Season              Season        `json:"season"`
	StretchPercent      float64       `json:"stretch_percent"`
	HistogramBuckets    int           `json:"histogram_buckets"`
	CurrentLookbackDays int           `json:"current_lookback_days"`
	Palettes            Palettes      `json:"palettes"`
}

const (
	DefaultRecvMsgSize    = 10 * 1024 * 1024
	DefaultWaterClass     = 11
	DefaultPredicate      = "'VV' IN polarisations && orbit_pass == 'ASCENDING'"
	DefaultKernelSize     = 5
	DefaultDamping        = -1.0
	DefaultStretchPercent = 98
	DefaultBuckets        = 255
	DefaultLookbackDays   = 90
)

var DefaultYears = []int{2018, 2019, 2020}

// LoadConfigFile unmarshals a config.json document, applies the
// defaults and validates the result.
func (config *Config) LoadConfigFile(configFile string) error {
	*config = Config{}
	cfg, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	err = json.Unmarshal(cfg, config)
	if err != nil {
		return fmt.Errorf("Error at JSON parsing config document: %s. Error: %v", configFile, err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return fmt.Errorf("Invalid config document: %s. Error: %v", configFile, err)
	}
	return nil
}

func (config *Config) applyDefaults() {
	sc := &config.ServiceConfig
	if sc.MaxGrpcRecvMsgSize <= 0 {
		sc.MaxGrpcRecvMsgSize = DefaultRecvMsgSize
	}
	if sc.PoolSize <= 0 {
		sc.PoolSize = 4
	}
	if sc.ReaderConcurrency <= 0 {
		sc.ReaderConcurrency = 8
	}

	lc := &config.LandCover
	if lc.Band == "" {
		lc.Band = "landcover"
	}
	if lc.WaterClass == 0 {
		lc.WaterClass = DefaultWaterClass
	}
	if lc.KernelRadius <= 0 {
		lc.KernelRadius = 1
	}
	if lc.Iterations <= 0 {
		lc.Iterations = 3
	}

	if config.Collection.Band == "" {
		config.Collection.Band = "VV"
	}
	if config.Collection.Predicate == "" {
		config.Collection.Predicate = DefaultPredicate
	}

	if config.Frost.KernelSize == 0 {
		config.Frost.KernelSize = DefaultKernelSize
	}
	if config.Frost.Damping == nil {
		d := DefaultDamping
		config.Frost.Damping = &d
	}

	if len(config.Years) == 0 {
		config.Years = append([]int(nil), DefaultYears...)
	}

	if config.Season.FreezeStart == "" {
		config.Season.FreezeStart = "11-01"
	}
	if config.Season.IceOffStart == "" {
		config.Season.IceOffStart = "02-15"
	}
	if config.Season.ThawEnd == "" {
		config.Season.ThawEnd = "04-15"
	}

	if config.StretchPercent == 0 {
		config.StretchPercent = DefaultStretchPercent
	}
	if config.HistogramBuckets <= 0 {
		config.HistogramBuckets = DefaultBuckets
	}
	if config.CurrentLookbackDays <= 0 {
		config.CurrentLookbackDays = DefaultLookbackDays
	}

	if config.Palettes.IceOn == "" {
		config.Palettes.IceOn = "aqua,blue"
	}
	if config.Palettes.IceOff == "" {
		config.Palettes.IceOff = "blue,aqua"
	}
	if config.Palettes.Current == "" {
		config.Palettes.Current = "blue,white"
	}
}

// Validate checks the values that cannot be defaulted.
func (config *Config) Validate() error {
	if config.Region == nil {
		return fmt.Errorf("region is required")
	}
	if config.LandCover.Path == "" {
		return fmt.Errorf("land_cover.path is required")
	}
	if config.Frost.KernelSize < 1 || config.Frost.KernelSize%2 == 0 {
		return fmt.Errorf("frost.kernel_size must be a positive odd number, got %d", config.Frost.KernelSize)
	}
	if config.StretchPercent <= 0 || config.StretchPercent > 100 {
		return fmt.Errorf("stretch_percent must be in (0, 100], got %v", config.StretchPercent)
	}
	for _, md := range []string{config.Season.FreezeStart, config.Season.IceOffStart, config.Season.ThawEnd} {
		if _, _, err := ParseMonthDay(md); err != nil {
			return err
		}
	}
	for _, p := range []string{config.Palettes.IceOn, config.Palettes.IceOff, config.Palettes.Current} {
		pal, err := ParsePalette(p)
		if err != nil {
			return err
		}
		if len(pal.Colours) < 2 {
			return fmt.Errorf("The colour palette must contain at least 2 colours.")
		}
	}
	if config.ServiceConfig.CatalogueAddress == "" && config.ServiceConfig.CatalogueDSN == "" {
		return fmt.Errorf("either service_config.catalogue_address or service_config.catalogue_dsn is required")
	}
	return nil
}

// HasYear reports whether year is one of the selectable analysis years.
func (config *Config) HasYear(year int) bool {
	for _, y := range config.Years {
		if y == year {
			return true
		}
	}
	return false
}

// ParseMonthDay parses an "MM-DD" season boundary.
func ParseMonthDay(md string) (month, day int, err error) {
	parts := strings.Split(md, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid month-day %q, expected MM-DD", md)
	}
	if month, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("invalid month-day %q: %v", md, err)
	}
	if day, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("invalid month-day %q: %v", md, err)
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return 0, 0, fmt.Errorf("invalid month-day %q", md)
	}
	return month, day, nil
}

// LoadAllConfigFiles walks rootDir and loads every config.json found. The
// directory of each file relative to rootDir is the lake namespace.
func LoadAllConfigFiles(rootDir string, log *zap.SugaredLogger) (map[string]*Config, error) {
	configMap := make(map[string]*Config)
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && info.Name() == "config.json" {
			relPath, _ := filepath.Rel(rootDir, filepath.Dir(path))
			log.Infof("Loading config file: %s under namespace: %s", path, relPath)

			config := &Config{}
			if e := config.LoadConfigFile(path); e != nil {
				return e
			}

			ns := filepath.ToSlash(relPath)
			if relPath == "." {
				ns = ""
			}
			config.NameSpace = ns
			configMap[ns] = config
		}
		return nil
	})

	if err == nil && len(configMap) == 0 {
		err = fmt.Errorf("No config file found")
	}

	return configMap, err
}

// ConfigStore guards the lake configuration map replaced on reload.
type ConfigStore struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

func NewConfigStore(configs map[string]*Config) *ConfigStore {
	return &ConfigStore{configs: configs}
}

func (s *ConfigStore) Get(ns string) (*Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[ns]
	return c, ok
}

// All returns a snapshot of the configuration map.
func (s *ConfigStore) All() map[string]*Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Config, len(s.configs))
	for k, v := range s.configs {
		out[k] = v
	}
	return out
}

func (s *ConfigStore) Replace(configs map[string]*Config) {
	s.mu.Lock()
	s.configs = configs
	s.mu.Unlock()
}

// WatchConfig reloads the configuration from EtcDir on SIGHUP. onReload,
// if not nil, is called with the new map after it has been swapped in.
func WatchConfig(log *zap.SugaredLogger, store *ConfigStore, onReload func(map[string]*Config)) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("Caught SIGHUP, reloading config...")
			confMap, err := LoadAllConfigFiles(EtcDir, log)
			if err != nil {
				log.Errorf("Error in loading config files: %v", err)
				continue
			}
			store.Replace(confMap)
			if onReload != nil {
				onReload(confMap)
			}
		}
	}()
}
