package quantile

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var (
	ErrNoValues = errors.New("quantile: no observations collected")
)

// Collector accumulates observations during a fit pass. Values are kept
// in insertion order and only sorted when boundaries are computed.
type Collector struct {
	values []float64
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Observe(v float64) {
	c.values = append(c.values, v)
}

func (c *Collector) Len() int {
	return len(c.values)
}

// Fit computes k equal-population bins and returns their k-1 interior
// boundaries wrapped in a Bins value. The outer edges are dropped so that
// out-of-range values clamp into the first or last bin.
func (c *Collector) Fit(k int) (Bins, error) {
	if k < 1 {
		return Bins{}, fmt.Errorf("quantile: bin count must be at least 1, got %d", k)
	}
	if len(c.values) == 0 {
		return Bins{}, ErrNoValues
	}

	sorted := append([]float64(nil), c.values...)
	sort.Float64s(sorted)

	cuts := make([]float64, 0, k-1)
	for j := 1; j < k; j++ {
		cuts = append(cuts, at(sorted, float64(j)/float64(k)))
	}
	return Bins{cuts: cuts}, nil
}

// Quantiles evaluates the given probabilities against the collected values.
func (c *Collector) Quantiles(ps ...float64) ([]float64, error) {
	if len(c.values) == 0 {
		return nil, ErrNoValues
	}

	sorted := append([]float64(nil), c.values...)
	sort.Float64s(sorted)

	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = at(sorted, p)
	}
	return out, nil
}

// Of computes the p-quantile of values with linear interpolation.
func Of(values []float64, p float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoValues
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return at(sorted, p), nil
}

// at interpolates linearly between order statistics: the p-quantile sits at
// fractional rank p*(n-1) of the sorted sample.
func at(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}

	h := p * float64(n-1)
	if h <= 0 {
		return sorted[0]
	}
	if h >= float64(n-1) {
		return sorted[n-1]
	}

	lo := int(math.Floor(h))
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Bins assigns values to equal-population bins given interior boundaries.
// A value equal to a boundary lands in the upper bin; values below the
// first boundary go to bin 0 and values at or above the last boundary go
// to the last bin.
type Bins struct {
	cuts []float64
}

// NewBins rebuilds a Bins from previously computed boundaries.
func NewBins(cuts []float64) Bins {
	return Bins{cuts: append([]float64(nil), cuts...)}
}

func (b Bins) Index(v float64) int {
	return sort.Search(len(b.cuts), func(i int) bool { return b.cuts[i] > v })
}

func (b Bins) Label(v float64) string {
	return "Q" + strconv.Itoa(b.Index(v))
}

func (b Bins) Count() int {
	return len(b.cuts) + 1
}

func (b Bins) Cuts() []float64 {
	return append([]float64(nil), b.cuts...)
}
