package extractor

import "time"

// SceneMetadata is the yaml sidecar describing a scene. Band files are raw
// little-endian float32 rasters of Width x Height pixels, relative to the
// sidecar's directory.
type SceneMetadata struct {
	ID            string            `yaml:"id" json:"id"`
	Platform      string            `yaml:"platform" json:"platform"`
	Acquired      time.Time         `yaml:"acquired" json:"acquired"`
	OrbitPass     string            `yaml:"orbit_pass" json:"orbit_pass"`
	Polarisations []string          `yaml:"polarisations" json:"polarisations"`
	CRS           string            `yaml:"crs" json:"crs"`
	GeoTransform  []float64         `yaml:"geotransform" json:"geotransform"`
	Width         int               `yaml:"width" json:"width"`
	Height        int               `yaml:"height" json:"height"`
	NoData        *float64          `yaml:"nodata,omitempty" json:"nodata,omitempty"`
	Bands         map[string]string `yaml:"bands" json:"bands"`
}

type PosixInfo struct {
	FilePath string    `json:"file_path"`
	INode    uint64    `json:"inode"`
	Size     int64     `json:"size"`
	MTime    time.Time `json:"mtime"`
	CTime    time.Time `json:"ctime"`
	ID       string    `json:"id"`
}

// SceneFile is a crawled sidecar with its parsed metadata.
type SceneFile struct {
	Path     string         `json:"path"`
	Metadata *SceneMetadata `json:"metadata"`
	Posix    *PosixInfo     `json:"posix,omitempty"`
}
