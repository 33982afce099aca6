// Package stream runs the background feeders: a price poller that
// publishes the configured symbol's quote on the event bus, and a
// heartbeat publisher that keeps websocket clients alive.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nifty-insight-server/config"
	"nifty-insight-server/internal/events"
	"nifty-insight-server/internal/market"
)

const (
	defaultSymbol       = "NIFTY"
	defaultPollInterval = 5 * time.Second
	heartbeatInterval   = 30 * time.Second

	// Per-tick deadline so a slow provider cannot stall the loop
	pollTimeout = 10 * time.Second
)

// Streamer feeds the event bus from the market provider
type Streamer struct {
	provider market.Provider
	bus      *events.EventBus
	logger   zerolog.Logger

	symbol       string
	pollInterval time.Duration
	heartbeat    time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStreamer creates a streamer for the configured default symbol
func NewStreamer(provider market.Provider, bus *events.EventBus, cfg config.MarketConfig, logger zerolog.Logger) *Streamer {
	symbol := cfg.DefaultSymbol
	if symbol == "" {
		symbol = defaultSymbol
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	return &Streamer{
		provider:     provider,
		bus:          bus,
		logger:       logger.With().Str("component", "Streamer").Logger(),
		symbol:       symbol,
		pollInterval: interval,
		heartbeat:    heartbeatInterval,
	}
}

// Start launches the price and heartbeat loops. Calling Start on a
// running streamer is a no-op.
func (s *Streamer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(2)
	go s.priceLoop(ctx)
	go s.heartbeatLoop(ctx)

	s.logger.Info().
		Str("symbol", s.symbol).
		Dur("poll_interval", s.pollInterval).
		Msg("Streamer started")
}

// Stop cancels the loops and waits for them to exit
func (s *Streamer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.logger.Info().Msg("Streamer stopped")
}

// priceLoop publishes a quote immediately and then on every tick
func (s *Streamer) priceLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.publishQuote(ctx)

	for {
		select {
		case <-ticker.C:
			s.publishQuote(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// publishQuote fetches the latest quote and puts it on the bus. Provider
// failures are logged and the loop keeps polling.
func (s *Streamer) publishQuote(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	quote, err := market.BuildQuote(ctx, s.provider, s.symbol)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("symbol", s.symbol).
			Msg("Failed to fetch quote")
		return
	}

	s.bus.PublishPriceUpdate(quote.Symbol, quote.Price, quote.Change, quote.PercentChange)
}

func (s *Streamer) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	s.bus.PublishHeartbeat()

	for {
		select {
		case <-ticker.C:
			s.bus.PublishHeartbeat()
		case <-ctx.Done():
			return
		}
	}
}
