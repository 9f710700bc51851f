package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

type URLInfo struct {
	RawURL string            `json:"raw_url"`
	Host   string            `json:"host"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query"`
}

type IndexerInfo struct {
	Duration   time.Duration `json:"duration"`
	Collection string        `json:"collection"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Geometry   string        `json:"geometry"`
	NumScenes  int           `json:"num_scenes"`
}

type FilterInfo struct {
	Duration  time.Duration `json:"duration"`
	NumImages int           `json:"num_images"`
	Remote    bool          `json:"remote"`
	Workers   int           `json:"workers"`
}

type StageInfo struct {
	Duration   time.Duration `json:"duration"`
	NumInputs  int           `json:"num_inputs"`
	NumOutputs int           `json:"num_outputs"`
}

// MetricsInfo is the document logged for every pipeline run and every
// HTTP request.
type MetricsInfo struct {
	RunID       string        `json:"run_id"`
	Lake        string        `json:"lake"`
	Kind        string        `json:"kind"`
	Year        int           `json:"year,omitempty"`
	Mode        string        `json:"mode,omitempty"`
	ReqTime     string        `json:"req_time"`
	ReqDuration time.Duration `json:"req_duration"`
	URL         URLInfo       `json:"url"`
	RemoteAddr  string        `json:"remote_addr,omitempty"`
	RemoteHost  string        `json:"remote_host,omitempty"`
	RemotePort  string        `json:"remote_port,omitempty"`
	HTTPStatus  int           `json:"http_status,omitempty"`
	Indexer     *IndexerInfo  `json:"indexer"`
	Filter      *FilterInfo   `json:"filter"`
	Mosaic      *StageInfo    `json:"mosaic"`
	Dater       *StageInfo    `json:"dater"`
	Outcome     string        `json:"outcome"`
	Error       string        `json:"error,omitempty"`
}

type MetricsCollector struct {
	Info   *MetricsInfo
	logger Logger
	start  time.Time
	once   sync.Once
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	now := time.Now()
	return &MetricsCollector{
		Info: &MetricsInfo{
			RunID:   uuid.New().String(),
			ReqTime: now.UTC().Format(time.RFC3339),
			Indexer: &IndexerInfo{},
			Filter:  &FilterInfo{},
			Mosaic:  &StageInfo{},
			Dater:   &StageInfo{},
		},
		logger: logger,
		start:  now,
	}
}

// Finish records the outcome of the run. err == nil means "ok".
func (m *MetricsCollector) Finish(outcome string, err error) {
	m.Info.ReqDuration = time.Since(m.start)
	m.Info.Outcome = outcome
	if err != nil {
		m.Info.Error = err.Error()
	}
}

// Log hands the document to the logger. Only the first call logs.
func (m *MetricsCollector) Log() {
	m.once.Do(func() {
		if m.Info.ReqDuration == 0 {
			m.Info.ReqDuration = time.Since(m.start)
		}
		if m.logger != nil {
			m.logger.Log(m.Info)
		}
	})
}

func (i *MetricsInfo) ToJSON() (string, error) {
	if i.RemoteAddr != "" {
		i.normaliseNetworkAddr(i.RemoteAddr)
	}
	if i.URL.RawURL != "" {
		if err := i.normaliseURL(&i.URL); err != nil {
			return "", fmt.Errorf("metrics: normaliseURL() error: %v", err)
		}
	}
	if i.Indexer != nil && len(i.Indexer.Geometry) == 0 {
		i.Indexer.Geometry = "POLYGON EMPTY"
	}

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(i); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (i *MetricsInfo) normaliseNetworkAddr(addr string) {
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		i.RemoteHost = host
		i.RemotePort = port
	} else {
		i.RemoteHost = addr
	}
}

func (i *MetricsInfo) normaliseURL(u *URLInfo) error {
	r, err := url.Parse(u.RawURL)
	if err != nil {
		return err
	}

	u.Host = r.Host
	u.Path = r.Path
	query, err := url.ParseQuery(r.RawQuery)
	if err != nil {
		return err
	}

	if u.Query == nil {
		u.Query = make(map[string]string)
	}
	for k, v := range query {
		if len(v) == 1 {
			u.Query[k] = v[0]
		} else if len(v) > 1 {
			u.Query[k] = fmt.Sprintf("%v", v)
		} else {
			u.Query[k] = ""
		}
	}
	return nil
}
