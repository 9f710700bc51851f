package processor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// FrostParams are the speckle filter settings.
type FrostParams struct {
	KernelSize int
	Damping    float64
}

// FrostFilterBand suppresses speckle in b with an adaptive Frost filter and
// returns the result as the "smooth" band.
//
// The per-pixel weight exp(damping * variance / mean^2) is itself averaged
// with a euclidean distance kernel of radius KernelSize/2 before the
// weighted local average is taken over the KernelSize x KernelSize window.
// A zero local mean yields NaN for the pixel. Pixels invalid in b stay
// invalid.
func FrostFilterBand(b *Band, params FrostParams) (*Band, error) {
	kernel, err := NewFixedKernel(params.KernelSize)
	if err != nil {
		return nil, err
	}
	distKernel := NewEuclideanKernel(params.KernelSize / 2)

	mean := FocalMean(b, kernel)
	variance := FocalVariance(b, kernel)

	weights := NewBand(b.Grid, "weight")
	for i := range weights.Data {
		m := mean.Data[i]
		weights.Data[i] = math.Exp(params.Damping * variance.Data[i] / (m * m))
	}
	weights = FocalMean(weights, distKernel)

	smooth := NewBand(b.Grid, SmoothNS)
	rad := kernel.Radius()
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			if math.IsNaN(b.Data[y*b.Width+x]) {
				continue
			}
			var num, den float64
			n := 0
			for dy := -rad; dy <= rad; dy++ {
				yy := y + dy
				if yy < 0 || yy >= b.Height {
					continue
				}
				for dx := -rad; dx <= rad; dx++ {
					xx := x + dx
					if xx < 0 || xx >= b.Width {
						continue
					}
					idx := yy*b.Width + xx
					v, w := b.Data[idx], weights.Data[idx]
					if math.IsNaN(v) || math.IsNaN(w) {
						continue
					}
					num += v * w
					den += w
					n++
				}
			}
			if n > 0 {
				smooth.Data[y*b.Width+x] = num / den
			}
		}
	}
	return smooth, nil
}

// FrostFilterImage adds the "smooth" band computed from the image band ns.
func FrostFilterImage(img *GeoImage, ns string, params FrostParams) (*GeoImage, error) {
	band, ok := img.Band(ns)
	if !ok {
		return nil, fmt.Errorf("image %s has no band %q", img.ID, ns)
	}
	smooth, err := FrostFilterBand(band, params)
	if err != nil {
		return nil, err
	}
	return img.WithBand(smooth), nil
}

// FrostFilter is the pipeline stage applying the Frost filter to every
// incoming image on a bounded goroutine pool. Output order follows input
// order.
type FrostFilter struct {
	Context   context.Context
	In        chan *GeoImage
	Out       chan *GeoImage
	Error     chan error
	NameSpace string
	Params    FrostParams
	PoolSize  int
	Log       *zap.SugaredLogger
}

func NewFrostFilter(ctx context.Context, ns string, params FrostParams, poolSize int, errChan chan error) *FrostFilter {
	if poolSize <= 0 {
		poolSize = 1
	}
	return &FrostFilter{
		Context:   ctx,
		In:        make(chan *GeoImage, 100),
		Out:       make(chan *GeoImage, 100),
		Error:     errChan,
		NameSpace: ns,
		Params:    params,
		PoolSize:  poolSize,
		Log:       zap.NewNop().Sugar(),
	}
}

func (f *FrostFilter) Run() {
	defer close(f.Out)
	t0 := time.Now()

	var imgs []*GeoImage
	for img := range f.In {
		imgs = append(imgs, img)
	}
	if len(imgs) == 0 {
		return
	}

	results, err := FilterSequence(f.Context, imgs, f.NameSpace, f.Params, f.PoolSize)
	if err != nil {
		f.Error <- err
		return
	}
	f.Log.Debugw("frost filter done", "images", len(results), "duration", time.Since(t0))

	for _, img := range results {
		select {
		case <-f.Context.Done():
			f.Error <- fmt.Errorf("frost filter context has been cancelled: %v", f.Context.Err())
			return
		case f.Out <- img:
		}
	}
}

// FilterSequence filters every image of seq on at most poolSize goroutines.
// All tasks are queued before any result is combined; results keep the
// input order.
func FilterSequence(ctx context.Context, seq Sequence, ns string, params FrostParams, poolSize int) (Sequence, error) {
	out := make(Sequence, len(seq))
	if len(seq) == 0 {
		return out, nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	pool, err := ants.NewPoolWithFunc(poolSize, func(arg interface{}) {
		defer wg.Done()
		i := arg.(int)
		if ctx.Err() != nil {
			setErr(ctx.Err())
			return
		}
		res, err := FrostFilterImage(seq[i], ns, params)
		if err != nil {
			setErr(err)
			return
		}
		out[i] = res
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create filter pool: %v", err)
	}
	defer pool.Release()

	for i := range seq {
		wg.Add(1)
		if err := pool.Invoke(i); err != nil {
			wg.Done()
			setErr(err)
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
