package capture

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrAlreadyStarted is returned by Start on a running source
	ErrAlreadyStarted = errors.New("sample source already started")

	// ErrDeviceStopped is reported when the capture device stops on its own
	ErrDeviceStopped = errors.New("capture device stopped unexpectedly")
)

// Sink receives captured mono float PCM. It is called on the producer
// goroutine and must not block.
type Sink func(samples []float32)

// SampleSource produces mono float PCM at a fixed sample rate
type SampleSource interface {
	Start(ctx context.Context, sink Sink) error
	Stop() error
	SampleRate() int
}

// feeder drives a sink from a block generator on its own goroutine.
// It backs the file and tone sources.
type feeder struct {
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	mu sync.Mutex
}

// start launches the feed loop. next returns nil when the source is exhausted.
// With realtime set, one block is delivered per interval.
func (f *feeder) start(ctx context.Context, sink Sink, interval time.Duration, realtime bool, next func() []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	f.wg.Add(1)
	go func(done chan struct{}) {
		defer f.wg.Done()
		defer close(done)

		var tick <-chan time.Time
		if realtime {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			if tick != nil {
				select {
				case <-ctx.Done():
					return
				case <-tick:
				}
			} else if ctx.Err() != nil {
				return
			}

			block := next()
			if block == nil {
				return
			}
			sink(block)
		}
	}(f.done)

	return nil
}

// stop cancels the feed loop and waits for it. Safe to call when not started.
func (f *feeder) stop() {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	f.wg.Wait()
}

// finished returns a channel closed once the feed loop exits
func (f *feeder) finished() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return f.done
}
