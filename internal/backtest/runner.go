package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"nifty-insight-server/internal/logging"
	"nifty-insight-server/internal/market"
	"nifty-insight-server/internal/signal"
)

// maxCandles caps how much history a single run loads.
const maxCandles = 5000

// Request describes one backtest run. The handler resolves defaults
// from the caller's settings before building it.
type Request struct {
	Symbol         string
	Timeframe      string
	From           time.Time
	To             time.Time
	InitialCapital float64
	Params         signal.Params
}

// RunRecord is the persisted summary of a completed run.
type RunRecord struct {
	ID             string
	Symbol         string
	Timeframe      string
	From           time.Time
	To             time.Time
	InitialCapital float64
	FinalEquity    float64
	TotalTrades    int
	WinRate        float64
	NetProfit      float64
	ROI            float64
	MaxDrawdown    float64
	CreatedAt      time.Time
}

// Store persists run summaries.
type Store interface {
	SaveBacktestRun(ctx context.Context, rec RunRecord) error
}

// Runner loads candles from the market provider, replays the RSI band
// strategy through the engine and records a summary row.
type Runner struct {
	provider market.Provider
	store    Store
	logger   *logging.Logger
	now      func() time.Time
	newID    func() string
}

// NewRunner creates a Runner. store may be nil when the database is
// disabled
func NewRunner(provider market.Provider, store Store, logger *logging.Logger) *Runner {
	return &Runner{
		provider: provider,
		store:    store,
		logger:   logger.WithComponent("backtest"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// RSIStrategy adapts the signal package's RSI band rules into a
// backtest strategy. Neutral evaluations stay flat
func RSIStrategy(params signal.Params) StrategyFunc {
	return func(candles []market.Candle, index int) *Signal {
		ev := signal.Evaluate(candles, params)
		if ev.Direction == signal.DirectionNeutral {
			return nil
		}

		price := candles[index].Close
		stop, target, _ := signal.TradeLevels(ev.Direction, price, params)
		return &Signal{
			Action:     string(ev.Direction),
			Price:      price,
			StopLoss:   stop,
			TakeProfit: target,
			Reason:     ev.Reason,
		}
	}
}

// Run executes one backtest and persists its summary
func (r *Runner) Run(ctx context.Context, req Request, cfg Config) (*Result, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("backtest: symbol is required")
	}
	if !market.ValidTimeframe(req.Timeframe) {
		return nil, fmt.Errorf("backtest: unsupported timeframe %q", req.Timeframe)
	}
	if !req.To.After(req.From) {
		return nil, fmt.Errorf("backtest: empty date range")
	}

	if req.InitialCapital > 0 {
		cfg.InitialCapital = req.InitialCapital
	}

	candles, err := r.provider.Candles(ctx, req.Symbol, req.Timeframe, req.From, req.To, maxCandles)
	if err != nil {
		return nil, fmt.Errorf("failed to load candles: %w", err)
	}

	engine := NewEngine(cfg)
	result, err := engine.Run(candles, RSIStrategy(req.Params))
	if err != nil {
		return nil, err
	}

	r.logger.Info("Backtest %s %s: %d trades, ROI %.2f%%",
		req.Symbol, req.Timeframe, result.Metrics.TotalTrades, result.Metrics.ROI)

	if r.store != nil {
		rec := RunRecord{
			ID:             r.newID(),
			Symbol:         req.Symbol,
			Timeframe:      req.Timeframe,
			From:           req.From,
			To:             req.To,
			InitialCapital: cfg.InitialCapital,
			FinalEquity:    result.FinalEquity,
			TotalTrades:    result.Metrics.TotalTrades,
			WinRate:        result.Metrics.WinRate,
			NetProfit:      result.Metrics.NetProfit,
			ROI:            result.Metrics.ROI,
			MaxDrawdown:    result.Metrics.MaxDrawdown,
			CreatedAt:      r.now().UTC(),
		}
		if err := r.store.SaveBacktestRun(ctx, rec); err != nil {
			r.logger.Warn("Failed to persist backtest run: %v", err)
		}
	}

	return result, nil
}
