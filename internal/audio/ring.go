package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrBufferOverrun marks samples lost because the writer outran the reader.
	ErrBufferOverrun = errors.New("buffer overrun: unread samples overwritten")

	// ErrRangeTooLarge is returned when a read asks for more samples than the buffer holds.
	ErrRangeTooLarge = errors.New("read range exceeds buffer capacity")

	// ErrRangeOverwritten is returned when the start of a read range is no longer retained.
	ErrRangeOverwritten = errors.New("read range already overwritten")

	// ErrRangeNotWritten is returned when a read range extends past the write cursor.
	ErrRangeNotWritten = errors.New("read range not yet written")
)

// RingBuffer is a fixed-capacity circular store of mono float PCM samples.
//
// Positions are logical sample indices that only ever grow. The write cursor W
// and read cursor R satisfy R <= W <= R+N, where N is the capacity; physical
// storage index is logical mod N. When the writer gets more than N samples
// ahead, the oldest unread samples are overwritten and counted as dropped.
type RingBuffer struct {
	data     []float32
	capacity int64

	write int64 // logical write cursor W
	read  int64 // logical read cursor R

	dropped    uint64    // samples overwritten before being read
	overruns   uint64    // writes that caused at least one drop
	lastWrite  time.Time // time of the most recent write
	totalWrite uint64    // samples ever written

	mu sync.Mutex
}

// RingStats is a point-in-time snapshot of the ring buffer state
type RingStats struct {
	Capacity       int       `json:"capacity_samples"`
	WritePosition  int64     `json:"write_position"`
	ReadPosition   int64     `json:"read_position"`
	Buffered       int64     `json:"buffered_samples"`
	DroppedSamples uint64    `json:"dropped_samples"`
	Overruns       uint64    `json:"overruns"`
	SamplesWritten uint64    `json:"samples_written"`
	LastWrite      time.Time `json:"last_write"`
}

// NewRingBuffer creates a ring buffer holding capacity samples
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be positive, got %d", capacity)
	}

	return &RingBuffer{
		data:     make([]float32, capacity),
		capacity: int64(capacity),
	}, nil
}

// NewRingBufferForDuration sizes a ring buffer for maxDuration of audio at sampleRate
func NewRingBufferForDuration(maxDuration time.Duration, sampleRate int) (*RingBuffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	return NewRingBuffer(SamplesFor(maxDuration, sampleRate))
}

// Write appends samples at the write cursor, wrapping physically.
// It returns the number of unread samples that were overwritten by this call.
func (r *RingBuffer) Write(samples []float32) int {
	if len(samples) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := int64(len(samples))
	src := samples

	// Only the trailing N samples of an oversized write can survive.
	if n > r.capacity {
		src = samples[n-r.capacity:]
	}

	pos := (r.write + n - int64(len(src))) % r.capacity
	for len(src) > 0 {
		copied := copy(r.data[pos:], src)
		src = src[copied:]
		pos = 0
	}

	r.write += n
	r.totalWrite += uint64(n)
	r.lastWrite = time.Now()

	var dropped int64
	if r.write-r.read > r.capacity {
		dropped = r.write - r.read - r.capacity
		r.read = r.write - r.capacity
		r.dropped += uint64(dropped)
		r.overruns++
	}

	return int(dropped)
}

// ReadRange returns a contiguous copy of logical samples [start, start+count).
// A range that straddles the physical end of storage is stitched tail first, then head.
func (r *RingBuffer) ReadRange(start int64, count int) ([]float32, error) {
	if start < 0 {
		return nil, fmt.Errorf("read start must be non-negative, got %d", start)
	}
	if count < 0 {
		return nil, fmt.Errorf("read count must be non-negative, got %d", count)
	}
	if int64(count) > r.capacity {
		return nil, fmt.Errorf("%w: requested %d samples, capacity %d", ErrRangeTooLarge, count, r.capacity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if oldest := r.oldestLocked(); start < oldest {
		return nil, fmt.Errorf("%w: start %d, oldest retained %d", ErrRangeOverwritten, start, oldest)
	}
	if end := start + int64(count); end > r.write {
		return nil, fmt.Errorf("%w: end %d, write position %d", ErrRangeNotWritten, end, r.write)
	}

	out := make([]float32, count)
	if count == 0 {
		return out, nil
	}

	phys := start % r.capacity
	tail := r.capacity - phys
	if int64(count) <= tail {
		copy(out, r.data[phys:phys+int64(count)])
		return out, nil
	}

	n := copy(out, r.data[phys:])
	copy(out[n:], r.data[:int64(count)-tail])
	return out, nil
}

// AdvanceReadCursor moves R forward to pos. R never moves past W or backwards.
func (r *RingBuffer) AdvanceReadCursor(pos int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pos > r.write {
		return fmt.Errorf("cannot advance read cursor to %d past write position %d", pos, r.write)
	}
	if pos < r.read {
		return fmt.Errorf("cannot move read cursor back from %d to %d", r.read, pos)
	}

	r.read = pos
	return nil
}

// WritePosition returns the logical write cursor W
func (r *RingBuffer) WritePosition() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write
}

// ReadPosition returns the logical read cursor R
func (r *RingBuffer) ReadPosition() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read
}

// OldestPosition returns the oldest logical position still retained
func (r *RingBuffer) OldestPosition() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.oldestLocked()
}

// Dropped returns the total number of samples lost to overruns
func (r *RingBuffer) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Capacity returns N
func (r *RingBuffer) Capacity() int {
	return int(r.capacity)
}

// GetStats returns a snapshot of the buffer state
func (r *RingBuffer) GetStats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RingStats{
		Capacity:       int(r.capacity),
		WritePosition:  r.write,
		ReadPosition:   r.read,
		Buffered:       r.write - r.read,
		DroppedSamples: r.dropped,
		Overruns:       r.overruns,
		SamplesWritten: r.totalWrite,
		LastWrite:      r.lastWrite,
	}
}

func (r *RingBuffer) oldestLocked() int64 {
	if r.write <= r.capacity {
		return 0
	}
	return r.write - r.capacity
}

// SamplesFor converts a duration into a whole number of samples at sampleRate
func SamplesFor(d time.Duration, sampleRate int) int {
	return int(d.Seconds()*float64(sampleRate) + 0.5)
}
