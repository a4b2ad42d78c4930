package capture

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// ToneConfig describes a synthetic capture signal
type ToneConfig struct {
	SampleRate    int
	Frequency     float64 // 0 produces a constant level
	Amplitude     float64
	BlockDuration time.Duration
	TotalDuration time.Duration // 0 runs until stopped
	Realtime      bool
}

// ToneSource generates a deterministic sine or constant signal
type ToneSource struct {
	config    ToneConfig
	blockSize int
	limit     int64 // total samples, 0 for unbounded

	generated int64
	mu        sync.Mutex

	feeder feeder
}

// NewToneSource validates config and creates a generator
func NewToneSource(config ToneConfig) (*ToneSource, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.Amplitude < 0 || config.Amplitude > 1 {
		return nil, fmt.Errorf("amplitude must be between 0 and 1, got %f", config.Amplitude)
	}
	if config.Frequency < 0 {
		return nil, fmt.Errorf("frequency cannot be negative, got %f", config.Frequency)
	}
	if config.BlockDuration <= 0 {
		config.BlockDuration = defaultBlockDuration
	}

	blockSize := int(math.Round(config.BlockDuration.Seconds() * float64(config.SampleRate)))
	if blockSize < 1 {
		blockSize = 1
	}

	return &ToneSource{
		config:    config,
		blockSize: blockSize,
		limit:     int64(math.Round(config.TotalDuration.Seconds() * float64(config.SampleRate))),
	}, nil
}

// Start begins generating into sink
func (s *ToneSource) Start(ctx context.Context, sink Sink) error {
	if sink == nil {
		return fmt.Errorf("sink cannot be nil")
	}
	return s.feeder.start(ctx, sink, s.config.BlockDuration, s.config.Realtime, s.nextBlock)
}

func (s *ToneSource) nextBlock() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(s.blockSize)
	if s.limit > 0 {
		remaining := s.limit - s.generated
		if remaining <= 0 {
			return nil
		}
		if remaining < n {
			n = remaining
		}
	}

	block := make([]float32, n)
	for i := range block {
		block[i] = s.sampleAt(s.generated + int64(i))
	}
	s.generated += n
	return block
}

func (s *ToneSource) sampleAt(index int64) float32 {
	if s.config.Frequency == 0 {
		return float32(s.config.Amplitude)
	}
	phase := 2 * math.Pi * s.config.Frequency * float64(index) / float64(s.config.SampleRate)
	return float32(s.config.Amplitude * math.Sin(phase))
}

// Stop halts generation and waits for the feed goroutine
func (s *ToneSource) Stop() error {
	s.feeder.stop()
	return nil
}

// Done is closed once a bounded tone has been fully generated or the source is stopped
func (s *ToneSource) Done() <-chan struct{} {
	return s.feeder.finished()
}

// SampleRate returns the configured rate
func (s *ToneSource) SampleRate() int {
	return s.config.SampleRate
}

// Generated returns the number of samples produced so far
func (s *ToneSource) Generated() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generated
}
