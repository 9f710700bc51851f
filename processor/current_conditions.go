package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nci/lakeice/metrics"
)

// ImageDateLabel is the layout of the most recent image date shown to users.
const ImageDateLabel = "01/02/2006"

// CurrentConditions is the ice cover classification of the most recent
// scene: 1 where ice, 0 on open water, invalid off the water mask.
type CurrentConditions struct {
	Raster    *Band               `json:"-"`
	Threshold float64             `json:"threshold"`
	ImageID   string              `json:"image_id"`
	ImageDate time.Time           `json:"image_date"`
	DateLabel string              `json:"date_label"`
	Vis       VisualizationParams `json:"vis"`
	IcePixels int                 `json:"ice_pixels"`
}

// archiveStart precedes the first Sentinel-1 acquisition.
var archiveStart = time.Date(2014, 4, 1, 0, 0, 0, 0, time.UTC)

// CurrentConditions classifies the latest scene acquired before now. The
// lookback window is searched first; when it is empty the whole archive
// up to now is. The Otsu threshold is computed on the histogram of
// the smoothed scene over the region; smoothed values below it are ice.
func (l *Lake) CurrentConditions(ctx context.Context, now time.Time) (*CurrentConditions, error) {
	mc := l.newCollector("current")
	defer mc.Log()

	cc, err := l.currentConditions(ctx, now, mc)
	if err != nil {
		mc.Finish("error", err)
		return nil, err
	}
	mc.Finish("ok", nil)
	return cc, nil
}

func (l *Lake) currentConditions(ctx context.Context, now time.Time, mc *metrics.MetricsCollector) (*CurrentConditions, error) {
	days := l.LookbackDays
	if days <= 0 {
		days = 90
	}
	w := Window{Start: now.AddDate(0, 0, -days), End: now}

	t0 := time.Now()
	scenes, err := SearchScenes(ctx, l.Catalogue, l.sceneRequest(w))
	if errors.Is(err, ErrMissingData) && archiveStart.Before(w.Start) {
		l.Log.Infow("no scenes in lookback window, searching archive", "lookback_days", days)
		w.Start = archiveStart
		scenes, err = SearchScenes(ctx, l.Catalogue, l.sceneRequest(w))
	}
	if err != nil {
		return nil, err
	}
	latest := scenes[0]
	for _, sc := range scenes[1:] {
		if sc.AcquiredAt.After(latest.AcquiredAt) {
			latest = sc
		}
	}
	mc.Info.Indexer.Collection = l.Collection
	mc.Info.Indexer.Start = w.Start
	mc.Info.Indexer.End = w.End
	mc.Info.Indexer.NumScenes = len(scenes)
	mc.Info.Indexer.Duration = time.Since(t0)

	img, err := ReadSceneImage(latest.Path, l.Band)
	if err != nil {
		return nil, err
	}
	img.ID = latest.ID

	t0 = time.Now()
	filtered, err := FrostFilterImage(img, l.Band, l.Frost)
	if err != nil {
		return nil, err
	}
	smooth, _ := filtered.Band(SmoothNS)
	mc.Info.Filter.NumImages = 1
	mc.Info.Filter.Workers = 1
	mc.Info.Filter.Duration = time.Since(t0)

	hist, err := NewHistogram(smooth, l.Region, l.HistogramBuckets)
	if err != nil {
		return nil, err
	}
	threshold := Otsu(hist)

	ice, err := ClassifyIce(smooth, l.WaterMask, threshold)
	if err != nil {
		return nil, err
	}

	icePixels := 0
	for _, v := range ice.Data {
		if v == 1 {
			icePixels++
		}
	}
	l.Log.Infow("current conditions", "image", img.ID, "date", img.TimeStamp.Format(DateIDFormat), "threshold", threshold, "ice_pixels", icePixels)

	return &CurrentConditions{
		Raster:    ice,
		Threshold: threshold,
		ImageID:   img.ID,
		ImageDate: img.TimeStamp,
		DateLabel: img.TimeStamp.UTC().Format(ImageDateLabel),
		Vis:       VisualizationParams{Min: 0, Max: 1, Palette: l.CurrentPalette},
		IcePixels: icePixels,
	}, nil
}

// ClassifyIce sets 1 where smooth is below threshold and 0 elsewhere on
// the water mask. Pixels off the mask are invalid. A NaN threshold
// classifies nothing as ice.
func ClassifyIce(smooth, waterMask *Band, threshold float64) (*Band, error) {
	if waterMask == nil {
		return nil, fmt.Errorf("ice classification needs a water mask")
	}
	if err := waterMask.Grid.Aligned(smooth.Grid); err != nil {
		return nil, err
	}
	ice := NewConstantBand(smooth.Grid, IceNS, 0)
	for i, m := range waterMask.Data {
		if math.IsNaN(m) || m == 0 {
			ice.Data[i] = math.NaN()
			continue
		}
		if smooth.Data[i] < threshold {
			ice.Data[i] = 1
		}
	}
	return ice, nil
}
