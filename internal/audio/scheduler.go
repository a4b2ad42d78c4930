package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInsufficientAudio is returned when a tick finds too little new audio to emit a chunk.
var ErrInsufficientAudio = errors.New("insufficient new audio for chunk")

// Chunk is an immutable, contiguous copy of buffered audio handed to the encoder
type Chunk struct {
	Sequence   uint64    `json:"sequence"`
	Start      int64     `json:"start"`       // logical position of Samples[0]
	NewSamples int64     `json:"new_samples"` // samples not covered by the previous chunk
	SampleRate int       `json:"sample_rate"`
	Final      bool      `json:"final"` // produced by Flush
	CreatedAt  time.Time `json:"created_at"`
	Samples    []float32 `json:"-"`
}

// Duration returns the chunk length as time
func (c *Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

// End returns the logical position one past the last sample
func (c *Chunk) End() int64 {
	return c.Start + int64(len(c.Samples))
}

// SchedulerConfig contains the chunking cadence parameters
type SchedulerConfig struct {
	SampleRate     int
	ChunkDuration  time.Duration // tick period
	Overlap        time.Duration // trailing context prepended from the previous chunk
	MinimumSamples int           // floor of new samples for a regular tick
}

// Validate checks the scheduler configuration
func (c SchedulerConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("chunk duration must be positive, got %v", c.ChunkDuration)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("overlap cannot be negative, got %v", c.Overlap)
	}
	if c.MinimumSamples < 0 {
		return fmt.Errorf("minimum samples cannot be negative, got %d", c.MinimumSamples)
	}
	return nil
}

// Scheduler slices the ring buffer into overlapping chunks on each tick.
// It never owns a clock; callers decide when Tick and Flush run.
type Scheduler struct {
	config         SchedulerConfig
	buffer         *RingBuffer
	overlapSamples int64

	lastPosition int64 // non-overlapped boundary of the previous chunk
	sequence     uint64

	// Statistics
	ticks           uint64
	chunksEmitted   uint64
	ticksSkipped    uint64
	samplesConsumed uint64
	overlapClamped  uint64

	mu sync.Mutex
}

// SchedulerStats represents scheduler statistics
type SchedulerStats struct {
	Ticks           uint64 `json:"ticks"`
	ChunksEmitted   uint64 `json:"chunks_emitted"`
	TicksSkipped    uint64 `json:"ticks_skipped"`
	SamplesConsumed uint64 `json:"samples_consumed"`
	OverlapClamped  uint64 `json:"overlap_clamped"`
	LastPosition    int64  `json:"last_position"`
}

// NewScheduler creates a scheduler reading from buffer
func NewScheduler(config SchedulerConfig, buffer *RingBuffer) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if buffer == nil {
		return nil, fmt.Errorf("ring buffer is required")
	}

	overlap := int64(SamplesFor(config.Overlap, config.SampleRate))
	if overlap >= int64(buffer.Capacity()) {
		return nil, fmt.Errorf("overlap of %d samples must be smaller than buffer capacity %d",
			overlap, buffer.Capacity())
	}

	return &Scheduler{
		config:         config,
		buffer:         buffer,
		overlapSamples: overlap,
	}, nil
}

// Tick emits the next chunk if at least MinimumSamples of new audio arrived.
func (s *Scheduler) Tick() (*Chunk, error) {
	return s.next(false)
}

// Flush emits whatever new audio is buffered, ignoring the minimum floor.
func (s *Scheduler) Flush() (*Chunk, error) {
	return s.next(true)
}

func (s *Scheduler) next(final bool) (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++

	w := s.buffer.WritePosition()
	fresh := w - s.lastPosition

	if fresh <= 0 || (!final && fresh < int64(s.config.MinimumSamples)) {
		s.ticksSkipped++
		return nil, fmt.Errorf("%w: %d new samples, need %d", ErrInsufficientAudio, fresh, s.config.MinimumSamples)
	}

	start := s.lastPosition - s.overlapSamples
	if start < 0 {
		start = 0
	}
	if oldest := w - int64(s.buffer.Capacity()); start < oldest {
		// The writer lapped us; only the retained window can be read.
		start = oldest
		s.overlapClamped++
	}

	samples, err := s.buffer.ReadRange(start, int(w-start))
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk [%d, %d): %w", start, w, err)
	}

	if err := s.buffer.AdvanceReadCursor(w); err != nil {
		return nil, fmt.Errorf("failed to advance read cursor: %w", err)
	}

	consumed := fresh
	if consumed > int64(len(samples)) {
		consumed = int64(len(samples))
	}

	s.lastPosition = w
	s.sequence++
	s.chunksEmitted++
	s.samplesConsumed += uint64(fresh)

	return &Chunk{
		Sequence:   s.sequence,
		Start:      start,
		NewSamples: consumed,
		SampleRate: s.config.SampleRate,
		Final:      final,
		CreatedAt:  time.Now(),
		Samples:    samples,
	}, nil
}

// Position returns the non-overlapped boundary reached so far
func (s *Scheduler) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPosition
}

// OverlapSamples returns the overlap length in samples
func (s *Scheduler) OverlapSamples() int64 {
	return s.overlapSamples
}

// Interval returns the tick period
func (s *Scheduler) Interval() time.Duration {
	return s.config.ChunkDuration
}

// GetStats returns current scheduler statistics
func (s *Scheduler) GetStats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SchedulerStats{
		Ticks:           s.ticks,
		ChunksEmitted:   s.chunksEmitted,
		TicksSkipped:    s.ticksSkipped,
		SamplesConsumed: s.samplesConsumed,
		OverlapClamped:  s.overlapClamped,
		LastPosition:    s.lastPosition,
	}
}
