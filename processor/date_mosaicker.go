package processor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// MosaicByDate collapses the images acquired on the same UTC calendar date
// into a single mosaic. Within a date later acquisitions are drawn over
// earlier ones wherever they hold valid pixels. Each mosaic is stamped at
// midnight UTC with the date as its ID. The output is sorted by date,
// most recent first.
func MosaicByDate(seq Sequence) (Sequence, error) {
	groups := make(map[string]Sequence)
	var keys []string
	for _, img := range seq.SortAscending() {
		key := img.TimeStamp.UTC().Format(DateIDFormat)
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], img)
	}

	out := make(Sequence, 0, len(keys))
	for _, key := range keys {
		mosaic, err := mosaicGroup(key, groups[key])
		if err != nil {
			return nil, err
		}
		out = append(out, mosaic)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimeStamp.After(out[j].TimeStamp) })
	return out, nil
}

// mosaicGroup merges images of one date given in acquisition order.
func mosaicGroup(id string, imgs Sequence) (*GeoImage, error) {
	t := imgs[0].TimeStamp.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

	canvas := &GeoImage{ID: id, TimeStamp: midnight, Bands: make(map[string]*Band), Metadata: make(map[string]string)}
	var sources []string
	for _, img := range imgs {
		sources = append(sources, img.ID)
		for k, v := range img.Metadata {
			canvas.Metadata[k] = v
		}
		for ns, b := range img.Bands {
			dst, ok := canvas.Bands[ns]
			if !ok {
				canvas.Bands[ns] = b.Clone()
				continue
			}
			if err := dst.Grid.Aligned(b.Grid); err != nil {
				return nil, fmt.Errorf("mosaic %s band %s: %w", id, ns, err)
			}
			for i, v := range b.Data {
				if !math.IsNaN(v) {
					dst.Data[i] = v
				}
			}
		}
	}
	canvas.Metadata["sources"] = strings.Join(sources, ",")
	return canvas, nil
}

// DateMosaicker is the pipeline stage around MosaicByDate. It is a join
// point: nothing is emitted before the input channel is closed.
type DateMosaicker struct {
	Context context.Context
	In      chan *GeoImage
	Out     chan *GeoImage
	Error   chan error
}

func NewDateMosaicker(ctx context.Context, errChan chan error) *DateMosaicker {
	return &DateMosaicker{
		Context: ctx,
		In:      make(chan *GeoImage, 100),
		Out:     make(chan *GeoImage, 100),
		Error:   errChan,
	}
}

func (dm *DateMosaicker) Run() {
	defer close(dm.Out)

	var seq Sequence
	for img := range dm.In {
		seq = append(seq, img)
	}

	mosaics, err := MosaicByDate(seq)
	if err != nil {
		dm.Error <- err
		return
	}

	for _, m := range mosaics {
		select {
		case <-dm.Context.Done():
			dm.Error <- fmt.Errorf("date mosaicker context has been cancelled: %v", dm.Context.Err())
			return
		case dm.Out <- m:
		}
	}
}
