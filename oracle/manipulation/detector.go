// Package manipulation implements the Manipulation Detector: a bounded
// rolling price history per symbol feeding a weighted 0.0-1.0 score from
// velocity, volatility, pump/dump, and outlier-z-score signals.
package manipulation

import (
	"math"
	"sync"
	"time"
)

const (
	// MaxHistory bounds the number of (price, ts) points retained per
	// symbol regardless of the time window.
	MaxHistory = 1000
	// Window is the time span of retained history; older points are
	// evicted on every insert.
	Window = 300 * time.Second
	// MinPoints is the minimum history length before the detector emits
	// a nonzero score.
	MinPoints = 10

	weightVelocity   = 0.30
	weightVolatility = 0.25
	weightPumpDump   = 0.25
	weightOutlier    = 0.20

	pumpDumpWindow    = 10
	pumpDumpPeakStart = 1.10
	pumpDumpPeakEnd   = 1.08
	pumpDumpStep      = 0.10
)

type point struct {
	price float64
	ts    time.Time
}

// Detector maintains per-symbol bounded price history and computes a
// manipulation score on each observation. The zero value is not usable;
// construct with New.
type Detector struct {
	mu      sync.Mutex
	history map[string][]point
}

// New returns an empty Detector.
func New() *Detector {
	return &Detector{history: map[string][]point{}}
}

// Analyze appends (price, ts) to symbol's history, evicts stale/overflowed
// entries, and returns the current manipulation score in [0, 1].
func (d *Detector) Analyze(symbol string, price float64, ts time.Time) float64 {
	d.mu.Lock()
	h := append(d.history[symbol], point{price: price, ts: ts})

	cutoff := ts.Add(-Window)
	kept := h[:0]
	for _, p := range h {
		if !p.ts.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	if len(kept) > MaxHistory {
		kept = kept[len(kept)-MaxHistory:]
	}
	d.history[symbol] = kept
	// Snapshot for lock-free scoring below (copy-on-read, per spec §9).
	snapshot := append([]point{}, kept...)
	d.mu.Unlock()

	return score(snapshot)
}

// Snapshot returns a copy of the retained prices for symbol, newest last.
func (d *Detector) Snapshot(symbol string) []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.history[symbol]
	prices := make([]float64, len(h))
	for i, p := range h {
		prices[i] = p.price
	}
	return prices
}

func score(h []point) float64 {
	if len(h) < MinPoints {
		return 0
	}

	prices := make([]float64, len(h))
	for i, p := range h {
		prices[i] = p.price
	}

	sv := velocityScore(prices)
	ssigma := volatilityScore(prices)
	spd := pumpDumpScore(prices)
	sz := outlierScore(prices)

	return weightVelocity*sv + weightVolatility*ssigma + weightPumpDump*spd + weightOutlier*sz
}

// velocityScore takes the 5 most recent prices (newest last in our slice,
// so p0..p4 newest-first per the spec reads as the last 5 reversed) and
// sums the 4 consecutive relative deltas.
func velocityScore(prices []float64) float64 {
	n := len(prices)
	take := 5
	if n < take {
		take = n
	}
	recent := prices[n-take:]
	// newest-first, matching the spec's p0..p4 indexing.
	newestFirst := make([]float64, len(recent))
	for i, p := range recent {
		newestFirst[len(recent)-1-i] = p
	}

	if len(newestFirst) < 2 {
		return 0
	}
	var v float64
	for i := 1; i < len(newestFirst); i++ {
		v += math.Abs(newestFirst[i-1]-newestFirst[i]) / newestFirst[i]
	}
	return clamp1((v / 4.0) * 100.0)
}

func volatilityScore(prices []float64) float64 {
	mean, stddev := meanStddev(prices)
	if mean == 0 {
		return 0
	}
	cv := stddev / mean
	return clamp1(cv * 10.0)
}

func pumpDumpScore(prices []float64) float64 {
	var total float64
	for start := 0; start+pumpDumpWindow <= len(prices); start++ {
		window := prices[start : start+pumpDumpWindow]
		a := window[0]
		z := window[len(window)-1]
		m := window[0]
		for _, p := range window {
			if p > m {
				m = p
			}
		}
		if a == 0 || z == 0 {
			continue
		}
		if m/a > pumpDumpPeakStart && m/z > pumpDumpPeakEnd {
			total += pumpDumpStep
		}
	}
	return clamp1(total)
}

func outlierScore(prices []float64) float64 {
	mean, stddev := meanStddev(prices)
	if stddev == 0 {
		return 0
	}
	current := prices[len(prices)-1]
	return clamp1(math.Abs(current-mean) / (3 * stddev))
}

func meanStddev(prices []float64) (mean, stddev float64) {
	if len(prices) == 0 {
		return 0, 0
	}
	var sum float64
	for _, p := range prices {
		sum += p
	}
	mean = sum / float64(len(prices))

	var sqDiff float64
	for _, p := range prices {
		d := p - mean
		sqDiff += d * d
	}
	stddev = math.Sqrt(sqDiff / float64(len(prices)))
	return mean, stddev
}

func clamp1(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
