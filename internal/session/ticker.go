package session

import "time"

// Ticker delivers the chunk cadence to a running session
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker firing every d
type TickerFactory func(d time.Duration) Ticker

type wallTicker struct {
	ticker *time.Ticker
}

// NewWallTicker returns a Ticker backed by time.Ticker
func NewWallTicker(d time.Duration) Ticker {
	return &wallTicker{ticker: time.NewTicker(d)}
}

func (t *wallTicker) C() <-chan time.Time { return t.ticker.C }

func (t *wallTicker) Stop() { t.ticker.Stop() }
