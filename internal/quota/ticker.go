package quota

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTickInterval is the interval between engine ticks.
const DefaultTickInterval = time.Second

// Ticker drives Engine.Tick at a fixed interval.
type Ticker struct {
	engine   *Engine
	interval time.Duration
	logger   zerolog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// NewTicker creates a ticker for engine.
func NewTicker(engine *Engine, interval time.Duration, logger zerolog.Logger) *Ticker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	return &Ticker{
		engine:   engine,
		interval: interval,
		logger:   logger.With().Str("component", "ticker").Logger(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins ticking.
func (t *Ticker) Start() {
	go t.run()
	t.logger.Info().Dur("interval", t.interval).Msg("Engine ticker started")
}

// Stop stops ticking and waits for an in-flight tick to finish.
func (t *Ticker) Stop() {
	close(t.stopChan)
	<-t.done
	t.logger.Info().Msg("Engine ticker stopped")
}

// run is the main ticker loop
func (t *Ticker) run() {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-t.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ticker.C:
			if err := t.engine.Tick(ctx); err != nil {
				t.logger.Error().Err(err).Msg("Tick failed")
			}
		case <-t.stopChan:
			return
		}
	}
}
