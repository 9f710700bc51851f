package processor

import (
	"fmt"
	"math"
)

// Kernel is a square weight matrix centred on the pixel being reduced.
// Size is always odd.
type Kernel struct {
	Size    int
	Weights []float64
}

// NewFixedKernel returns a size x size kernel of unit weights.
func NewFixedKernel(size int) (*Kernel, error) {
	if size < 1 || size%2 == 0 {
		return nil, fmt.Errorf("kernel size must be a positive odd number, got %d", size)
	}
	w := make([]float64, size*size)
	for i := range w {
		w[i] = 1
	}
	return &Kernel{Size: size, Weights: w}, nil
}

// NewCircleKernel returns a kernel of unit weights for the offsets whose
// distance to the centre is at most radius pixels.
func NewCircleKernel(radius int) *Kernel {
	size := 2*radius + 1
	w := make([]float64, size*size)
	r2 := float64(radius * radius)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if float64(dx*dx+dy*dy) <= r2 {
				w[(dy+radius)*size+dx+radius] = 1
			}
		}
	}
	return &Kernel{Size: size, Weights: w}
}

// NewEuclideanKernel returns a circular kernel whose weights are the
// euclidean distance to the centre. A zero radius has no positive weight
// and yields the identity kernel instead.
func NewEuclideanKernel(radius int) *Kernel {
	if radius <= 0 {
		return &Kernel{Size: 1, Weights: []float64{1}}
	}
	size := 2*radius + 1
	w := make([]float64, size*size)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d := math.Hypot(float64(dx), float64(dy))
			if d <= float64(radius) {
				w[(dy+radius)*size+dx+radius] = d
			}
		}
	}
	return &Kernel{Size: size, Weights: w}
}

func (k *Kernel) Radius() int {
	return k.Size / 2
}

type reducer int

const (
	reduceMean reducer = iota
	reduceVariance
	reduceSum
	reduceMin
	reduceMax
)

// reduceNeighbourhood applies r over the kernel footprint of every pixel.
// Invalid pixels and offsets falling outside the grid are ignored; a pixel
// with no valid neighbour becomes invalid.
func reduceNeighbourhood(b *Band, k *Kernel, r reducer) *Band {
	out := NewBand(b.Grid, b.NameSpace)
	rad := k.Radius()
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			var wSum, sum, sumSq float64
			lo, hi := math.Inf(1), math.Inf(-1)
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
					w := k.Weights[(dy+rad)*k.Size+dx+rad]
					if w == 0 {
						continue
					}
					v := b.Data[yy*b.Width+xx]
					if math.IsNaN(v) {
						continue
					}
					n++
					wSum += w
					sum += w * v
					sumSq += w * v * v
					if v < lo {
						lo = v
					}
					if v > hi {
						hi = v
					}
				}
			}
			if n == 0 {
				continue
			}

			idx := y*b.Width + x
			switch r {
			case reduceMean:
				out.Data[idx] = sum / wSum
			case reduceVariance:
				mean := sum / wSum
				v := sumSq/wSum - mean*mean
				if v < 0 {
					v = 0
				}
				out.Data[idx] = v
			case reduceSum:
				out.Data[idx] = sum
			case reduceMin:
				out.Data[idx] = lo
			case reduceMax:
				out.Data[idx] = hi
			}
		}
	}
	return out
}

func FocalMean(b *Band, k *Kernel) *Band {
	return reduceNeighbourhood(b, k, reduceMean)
}

func FocalVariance(b *Band, k *Kernel) *Band {
	return reduceNeighbourhood(b, k, reduceVariance)
}

func FocalSum(b *Band, k *Kernel) *Band {
	return reduceNeighbourhood(b, k, reduceSum)
}

// FocalMin is a morphological erosion repeated iterations times.
func FocalMin(b *Band, k *Kernel, iterations int) *Band {
	out := b
	for i := 0; i < iterations; i++ {
		out = reduceNeighbourhood(out, k, reduceMin)
	}
	return out
}

// FocalMax is a morphological dilation repeated iterations times.
func FocalMax(b *Band, k *Kernel, iterations int) *Band {
	out := b
	for i := 0; i < iterations; i++ {
		out = reduceNeighbourhood(out, k, reduceMax)
	}
	return out
}
