package health

import "math"

// welford accumulates min, max, mean and variance in one pass without
// retaining samples. Variance uses Welford's online update, so long
// periods stay numerically stable.
type welford struct {
	n    int64
	mean float64
	m2   float64
	min  int64
	max  int64
}

func (w *welford) observe(value int64) {
	w.n++
	if w.n == 1 {
		w.min = value
		w.max = value
	} else {
		if value < w.min {
			w.min = value
		}
		if value > w.max {
			w.max = value
		}
	}

	delta := float64(value) - w.mean
	w.mean += delta / float64(w.n)
	w.m2 += delta * (float64(value) - w.mean)
}

// summary reports min, average, max and the sample standard deviation.
// All figures are nil until the first observation.
func (w *welford) summary() (*int64, *float64, *int64, *float64) {
	if w.n == 0 {
		return nil, nil, nil, nil
	}

	min, max := w.min, w.max
	mean := w.mean
	stddev := 0.0
	if w.n > 1 {
		stddev = math.Sqrt(w.m2 / float64(w.n-1))
	}
	return &min, &mean, &max, &stddev
}
