package vad

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrSilence marks a chunk rejected by the gate
var ErrSilence = errors.New("chunk below voice activity threshold")

// Gate decides whether a chunk carries enough energy to be worth sending.
// A chunk is kept when its RMS exceeds the threshold and its peak exceeds
// twice the threshold.
type Gate struct {
	threshold float64

	// Statistics
	evaluated     uint64
	kept          uint64
	dropped       uint64
	lastRMS       float64
	lastPeak      float64
	lastEvaluated time.Time

	mu sync.RWMutex
}

// Decision is the outcome of evaluating one chunk
type Decision struct {
	RMS  float64 `json:"rms"`
	Peak float64 `json:"peak"`
	Keep bool    `json:"keep"`
}

// Err returns ErrSilence for a dropped chunk and nil otherwise
func (d Decision) Err() error {
	if d.Keep {
		return nil
	}
	return fmt.Errorf("%w: rms %.5f, peak %.5f", ErrSilence, d.RMS, d.Peak)
}

// GateStats represents gate statistics
type GateStats struct {
	Threshold      float64   `json:"threshold"`
	Evaluated      uint64    `json:"evaluated"`
	Kept           uint64    `json:"kept"`
	Dropped        uint64    `json:"dropped"`
	KeepPercentage float64   `json:"keep_percentage"`
	LastRMS        float64   `json:"last_rms"`
	LastPeak       float64   `json:"last_peak"`
	LastEvaluated  time.Time `json:"last_evaluated"`
}

// NewGate creates a gate with the given silence threshold
func NewGate(threshold float64) (*Gate, error) {
	if err := validateThreshold(threshold); err != nil {
		return nil, err
	}
	return &Gate{threshold: threshold}, nil
}

func validateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold < 0 {
		return fmt.Errorf("threshold must be a non-negative number, got %f", threshold)
	}
	return nil
}

// Evaluate computes RMS and peak of samples and applies the keep rule.
// Empty input is never kept.
func (g *Gate) Evaluate(samples []float32) Decision {
	rms := RMS(samples)
	peak := Peak(samples)

	g.mu.Lock()
	defer g.mu.Unlock()

	keep := len(samples) > 0 && rms > g.threshold && peak > 2*g.threshold

	g.evaluated++
	if keep {
		g.kept++
	} else {
		g.dropped++
	}
	g.lastRMS = rms
	g.lastPeak = peak
	g.lastEvaluated = time.Now()

	return Decision{RMS: rms, Peak: peak, Keep: keep}
}

// RMS returns the root mean square of samples, or 0 for empty input
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the largest absolute sample value, or 0 for empty input
func Peak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	return peak
}

// GetStats returns current gate statistics
func (g *Gate) GetStats() GateStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	keepPercentage := float64(0)
	if g.evaluated > 0 {
		keepPercentage = float64(g.kept) / float64(g.evaluated) * 100
	}

	return GateStats{
		Threshold:      g.threshold,
		Evaluated:      g.evaluated,
		Kept:           g.kept,
		Dropped:        g.dropped,
		KeepPercentage: keepPercentage,
		LastRMS:        g.lastRMS,
		LastPeak:       g.lastPeak,
		LastEvaluated:  g.lastEvaluated,
	}
}

// UpdateThreshold updates the silence threshold
func (g *Gate) UpdateThreshold(threshold float64) error {
	if err := validateThreshold(threshold); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.threshold = threshold
	return nil
}

// Threshold returns the current silence threshold
func (g *Gate) Threshold() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.threshold
}

// Reset clears the gate statistics
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.evaluated = 0
	g.kept = 0
	g.dropped = 0
	g.lastRMS = 0
	g.lastPeak = 0
	g.lastEvaluated = time.Time{}
}
