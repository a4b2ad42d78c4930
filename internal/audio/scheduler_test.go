package audio

import (
	"errors"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, rate int, chunk, overlap, capacity time.Duration, minimum int) (*Scheduler, *RingBuffer) {
	t.Helper()

	rb, err := NewRingBufferForDuration(capacity, rate)
	if err != nil {
		t.Fatalf("NewRingBufferForDuration failed: %v", err)
	}

	s, err := NewScheduler(SchedulerConfig{
		SampleRate:     rate,
		ChunkDuration:  chunk,
		Overlap:        overlap,
		MinimumSamples: minimum,
	}, rb)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	return s, rb
}

func TestNewSchedulerValidation(t *testing.T) {
	rb, _ := NewRingBuffer(100)

	tests := []struct {
		name   string
		config SchedulerConfig
		buffer *RingBuffer
	}{
		{"zero sample rate", SchedulerConfig{SampleRate: 0, ChunkDuration: time.Second}, rb},
		{"zero chunk duration", SchedulerConfig{SampleRate: 10, ChunkDuration: 0}, rb},
		{"negative overlap", SchedulerConfig{SampleRate: 10, ChunkDuration: time.Second, Overlap: -time.Second}, rb},
		{"negative minimum", SchedulerConfig{SampleRate: 10, ChunkDuration: time.Second, MinimumSamples: -1}, rb},
		{"nil buffer", SchedulerConfig{SampleRate: 10, ChunkDuration: time.Second}, nil},
		{"overlap fills buffer", SchedulerConfig{SampleRate: 10, ChunkDuration: time.Second, Overlap: 10 * time.Second}, rb},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewScheduler(tt.config, tt.buffer); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestSchedulerCadence(t *testing.T) {
	const rate = 48000
	s, rb := newTestScheduler(t, rate, 8*time.Second, 500*time.Millisecond, 30*time.Second, 2*rate)

	rb.Write(ramp(0, 8*rate))
	first, err := s.Tick()
	if err != nil {
		t.Fatalf("First tick failed: %v", err)
	}
	if first.Start != 0 {
		t.Errorf("Expected first chunk to start at 0, got %d", first.Start)
	}
	if len(first.Samples) != 8*rate {
		t.Errorf("Expected first chunk of %d samples, got %d", 8*rate, len(first.Samples))
	}
	if first.Sequence != 1 {
		t.Errorf("Expected sequence 1, got %d", first.Sequence)
	}

	rb.Write(ramp(8*rate, 8*rate))
	second, err := s.Tick()
	if err != nil {
		t.Fatalf("Second tick failed: %v", err)
	}

	overlap := rate / 2
	if second.Start != int64(8*rate-overlap) {
		t.Errorf("Expected second chunk to start at %d, got %d", 8*rate-overlap, second.Start)
	}
	if len(second.Samples) != 8*rate+overlap {
		t.Errorf("Expected second chunk of %d samples, got %d", 8*rate+overlap, len(second.Samples))
	}
	if second.NewSamples != int64(8*rate) {
		t.Errorf("Expected %d new samples, got %d", 8*rate, second.NewSamples)
	}

	// The leading overlap repeats the tail of the first chunk.
	for i := 0; i < overlap; i++ {
		if second.Samples[i] != first.Samples[len(first.Samples)-overlap+i] {
			t.Fatalf("Overlap sample %d does not match previous chunk tail", i)
		}
	}
	if second.Samples[overlap] != float32(8*rate) {
		t.Errorf("Expected first new sample %d, got %v", 8*rate, second.Samples[overlap])
	}

	if rb.ReadPosition() != int64(16*rate) {
		t.Errorf("Expected read cursor at %d, got %d", 16*rate, rb.ReadPosition())
	}
}

func TestSchedulerSkipsShortTick(t *testing.T) {
	s, rb := newTestScheduler(t, 100, time.Second, 100*time.Millisecond, 10*time.Second, 50)

	rb.Write(ramp(0, 49))
	chunk, err := s.Tick()
	if !errors.Is(err, ErrInsufficientAudio) {
		t.Fatalf("Expected ErrInsufficientAudio, got %v", err)
	}
	if chunk != nil {
		t.Error("Expected no chunk on skipped tick")
	}
	if s.Position() != 0 {
		t.Errorf("Skipped tick must not advance position, got %d", s.Position())
	}

	rb.Write(ramp(49, 1))
	chunk, err = s.Tick()
	if err != nil {
		t.Fatalf("Tick at the minimum failed: %v", err)
	}
	if len(chunk.Samples) != 50 {
		t.Errorf("Expected 50 samples, got %d", len(chunk.Samples))
	}

	stats := s.GetStats()
	if stats.Ticks != 2 || stats.TicksSkipped != 1 || stats.ChunksEmitted != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestSchedulerNoDoubleAdvance(t *testing.T) {
	s, rb := newTestScheduler(t, 100, time.Second, 200*time.Millisecond, 10*time.Second, 10)

	writes := []int{120, 35, 9, 300, 10, 77, 250}
	var total int64
	var consumed int64

	for _, n := range writes {
		rb.Write(ramp(int(total), n))
		total += int64(n)

		chunk, err := s.Tick()
		if err != nil {
			if !errors.Is(err, ErrInsufficientAudio) {
				t.Fatalf("Unexpected tick error: %v", err)
			}
			continue
		}
		consumed += chunk.NewSamples

		if chunk.End() != total {
			t.Errorf("Expected chunk to end at write cursor %d, got %d", total, chunk.End())
		}
	}

	if chunk, err := s.Flush(); err == nil {
		consumed += chunk.NewSamples
	}

	if s.Position() != total {
		t.Errorf("Expected position %d, got %d", total, s.Position())
	}
	if consumed != total {
		t.Errorf("Sum of new samples %d does not match samples written %d", consumed, total)
	}
	if stats := s.GetStats(); stats.SamplesConsumed != uint64(total) {
		t.Errorf("Expected %d samples consumed, got %d", total, stats.SamplesConsumed)
	}
}

func TestSchedulerFlush(t *testing.T) {
	s, rb := newTestScheduler(t, 100, time.Second, 100*time.Millisecond, 10*time.Second, 50)

	if _, err := s.Flush(); !errors.Is(err, ErrInsufficientAudio) {
		t.Errorf("Expected ErrInsufficientAudio flushing an empty buffer, got %v", err)
	}

	rb.Write(ramp(0, 100))
	if _, err := s.Tick(); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	// Below the minimum, but Flush ignores the floor.
	rb.Write(ramp(100, 20))
	chunk, err := s.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if !chunk.Final {
		t.Error("Expected flushed chunk to be marked final")
	}
	if chunk.Start != 90 {
		t.Errorf("Expected flush to start at 90, got %d", chunk.Start)
	}
	if len(chunk.Samples) != 30 {
		t.Errorf("Expected 30 samples, got %d", len(chunk.Samples))
	}

	if _, err := s.Flush(); !errors.Is(err, ErrInsufficientAudio) {
		t.Errorf("Expected second flush to find nothing new, got %v", err)
	}
}

func TestSchedulerOverrunClampsStart(t *testing.T) {
	s, rb := newTestScheduler(t, 100, time.Second, 500*time.Millisecond, 2*time.Second, 10)

	rb.Write(ramp(0, 100))
	if _, err := s.Tick(); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	// 3 seconds into a 2 second buffer before the next tick
	rb.Write(ramp(100, 300))
	chunk, err := s.Tick()
	if err != nil {
		t.Fatalf("Tick after overrun failed: %v", err)
	}

	if chunk.Start != 200 {
		t.Errorf("Expected start clamped to oldest retained sample 200, got %d", chunk.Start)
	}
	if len(chunk.Samples) != 200 {
		t.Errorf("Expected %d samples, got %d", 200, len(chunk.Samples))
	}
	if chunk.Samples[0] != 200 {
		t.Errorf("Expected first sample value 200, got %v", chunk.Samples[0])
	}
	if stats := s.GetStats(); stats.OverlapClamped != 1 {
		t.Errorf("Expected 1 clamped overlap, got %d", stats.OverlapClamped)
	}
	if rb.Dropped() == 0 {
		t.Error("Expected ring buffer to report dropped samples")
	}
}

func TestChunkDuration(t *testing.T) {
	c := &Chunk{SampleRate: 48000, Samples: make([]float32, 24000)}
	if c.Duration() != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", c.Duration())
	}

	empty := &Chunk{}
	if empty.Duration() != 0 {
		t.Errorf("Expected zero duration for chunk without sample rate, got %v", empty.Duration())
	}
}
