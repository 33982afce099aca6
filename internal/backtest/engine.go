// Package backtest replays a strategy over historical candles and
// reports trade-level results, an equity curve and summary metrics.
package backtest

import (
	"errors"
	"math"
	"time"

	"nifty-insight-server/internal/market"
)

// ErrInsufficientData is returned when the candle history does not
// extend past the warmup window
var ErrInsufficientData = errors.New("backtest: insufficient candle data")

// Exit reasons recorded on closed trades.
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitSignal     = "signal"
	ExitEnd        = "backtest_end"
)

// Config tunes the engine. Percentages are absolute (10 means 10%).
type Config struct {
	InitialCapital    float64
	PositionPercent   float64 // share of equity committed per trade
	CommissionPercent float64 // charged per side on notional
	SlippagePercent   float64 // adverse fill adjustment per side
	WarmupCandles     int     // candles skipped before the strategy runs
}

// DefaultConfig mirrors the dashboard's default backtest settings
func DefaultConfig() Config {
	return Config{
		InitialCapital:    100000,
		PositionPercent:   10,
		CommissionPercent: 0.03,
		SlippagePercent:   0.05,
		WarmupCandles:     15,
	}
}

// Signal is a strategy's entry decision at one candle.
type Signal struct {
	Action     string // "BUY" or "SELL"
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Reason     string
}

// StrategyFunc inspects the candle history up to and including index and
// returns an entry signal, or nil to stay flat.
type StrategyFunc func(candles []market.Candle, index int) *Signal

// Trade is one closed position.
type Trade struct {
	EntryTime  time.Time `json:"entryTime"`
	ExitTime   time.Time `json:"exitTime"`
	EntryPrice float64   `json:"entryPrice"`
	ExitPrice  float64   `json:"exitPrice"`
	Quantity   float64   `json:"quantity"`
	Side       string    `json:"side"`
	ProfitLoss float64   `json:"profitLoss"`
	PLPercent  float64   `json:"plPercent"`
	StopLoss   float64   `json:"stopLoss"`
	TakeProfit float64   `json:"takeProfit"`
	ExitReason string    `json:"exitReason"`
	Reason     string    `json:"reason,omitempty"`
}

// EquityPoint is the account equity after a closed trade.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Metrics summarises a backtest run.
type Metrics struct {
	TotalTrades   int     `json:"totalTrades"`
	WinningTrades int     `json:"winningTrades"`
	LosingTrades  int     `json:"losingTrades"`
	WinRate       float64 `json:"winRate"`
	TotalProfit   float64 `json:"totalProfit"`
	TotalLoss     float64 `json:"totalLoss"`
	NetProfit     float64 `json:"netProfit"`
	ROI           float64 `json:"roi"`
	MaxDrawdown   float64 `json:"maxDrawdown"`
	AverageWin    float64 `json:"averageWin"`
	AverageLoss   float64 `json:"averageLoss"`
	ProfitFactor  float64 `json:"profitFactor"`
	SharpeRatio   float64 `json:"sharpeRatio"`
}

// Result is the full outcome of a run.
type Result struct {
	Trades      []Trade       `json:"trades"`
	EquityCurve []EquityPoint `json:"equityCurve"`
	Metrics     Metrics       `json:"metrics"`
	FinalEquity float64       `json:"finalEquity"`
}

// Engine replays a strategy over candles with a single open position.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine, filling unset config fields from the
// defaults
func NewEngine(cfg Config) *Engine {
	defaults := DefaultConfig()
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = defaults.InitialCapital
	}
	if cfg.PositionPercent <= 0 {
		cfg.PositionPercent = defaults.PositionPercent
	}
	if cfg.WarmupCandles <= 0 {
		cfg.WarmupCandles = defaults.WarmupCandles
	}
	return &Engine{cfg: cfg}
}

// Run walks the candles after the warmup window. While flat it asks the
// strategy for an entry; while in a position it exits on stop, target,
// an opposite-side signal or the end of data. Commission and slippage
// are charged on both sides
func (e *Engine) Run(candles []market.Candle, strategy StrategyFunc) (*Result, error) {
	if len(candles) <= e.cfg.WarmupCandles {
		return nil, ErrInsufficientData
	}

	result := &Result{
		Trades:      make([]Trade, 0),
		EquityCurve: make([]EquityPoint, 0),
	}

	equity := e.cfg.InitialCapital
	result.EquityCurve = append(result.EquityCurve, EquityPoint{
		Time:   candles[e.cfg.WarmupCandles].Time,
		Equity: equity,
	})

	var open *Trade

	for i := e.cfg.WarmupCandles; i < len(candles); i++ {
		candle := candles[i]
		price := candle.Close

		if open != nil {
			if exitPrice, reason := e.exitLevel(open, price); reason != "" {
				equity = e.closeTrade(result, open, candle.Time, exitPrice, reason, equity)
				open = nil
			}
		}

		sig := strategy(candles[:i+1], i)
		if sig == nil {
			continue
		}

		if open != nil {
			// Opposite-side signal closes the position at market.
			if sig.Action != open.Side {
				equity = e.closeTrade(result, open, candle.Time, e.fill(price, open.Side, false), ExitSignal, equity)
				open = nil
			}
			continue
		}

		if equity <= 0 {
			continue
		}
		if sig.Action != "BUY" && sig.Action != "SELL" {
			continue
		}

		entryPrice := e.fill(sig.Price, sig.Action, true)
		quantity := equity * e.cfg.PositionPercent / 100.0 / entryPrice
		open = &Trade{
			EntryTime:  candle.Time,
			EntryPrice: entryPrice,
			Quantity:   quantity,
			Side:       sig.Action,
			StopLoss:   sig.StopLoss,
			TakeProfit: sig.TakeProfit,
			Reason:     sig.Reason,
		}
	}

	if open != nil {
		last := candles[len(candles)-1]
		equity = e.closeTrade(result, open, last.Time, e.fill(last.Close, open.Side, false), ExitEnd, equity)
	}

	e.calculateMetrics(result, equity)
	result.FinalEquity = equity
	return result, nil
}

// exitLevel checks stop and target against the close. The target is
// evaluated last so it wins when both are crossed in one candle
func (e *Engine) exitLevel(open *Trade, price float64) (float64, string) {
	exitPrice, reason := 0.0, ""

	if open.Side == "BUY" {
		if open.StopLoss > 0 && price <= open.StopLoss {
			exitPrice, reason = open.StopLoss, ExitStopLoss
		}
		if open.TakeProfit > 0 && price >= open.TakeProfit {
			exitPrice, reason = open.TakeProfit, ExitTakeProfit
		}
	} else {
		if open.StopLoss > 0 && price >= open.StopLoss {
			exitPrice, reason = open.StopLoss, ExitStopLoss
		}
		if open.TakeProfit > 0 && price <= open.TakeProfit {
			exitPrice, reason = open.TakeProfit, ExitTakeProfit
		}
	}

	return exitPrice, reason
}

// fill applies slippage against the trade: a buy entry or a sell exit
// lifts the fill, the mirror cases drop it. Stop and target exits fill
// at their level without slippage
func (e *Engine) fill(price float64, side string, entry bool) float64 {
	if e.cfg.SlippagePercent <= 0 {
		return price
	}
	slip := price * e.cfg.SlippagePercent / 100.0
	if (side == "BUY") == entry {
		return price + slip
	}
	return price - slip
}

// closeTrade finalises a trade, charges commission on both sides and
// records the equity point
func (e *Engine) closeTrade(result *Result, open *Trade, exitTime time.Time, exitPrice float64, reason string, equity float64) float64 {
	open.ExitTime = exitTime
	open.ExitPrice = exitPrice
	open.ExitReason = reason

	diff := exitPrice - open.EntryPrice
	if open.Side == "SELL" {
		diff = open.EntryPrice - exitPrice
	}

	gross := diff * open.Quantity
	commission := (open.EntryPrice*open.Quantity + exitPrice*open.Quantity) * e.cfg.CommissionPercent / 100.0
	open.ProfitLoss = gross - commission
	open.PLPercent = diff / open.EntryPrice * 100.0

	equity += open.ProfitLoss
	result.Trades = append(result.Trades, *open)
	result.EquityCurve = append(result.EquityCurve, EquityPoint{Time: exitTime, Equity: equity})
	return equity
}

// calculateMetrics fills the summary metrics from the closed trades
func (e *Engine) calculateMetrics(result *Result, finalEquity float64) {
	m := &result.Metrics
	m.TotalTrades = len(result.Trades)

	for _, trade := range result.Trades {
		if trade.ProfitLoss > 0 {
			m.WinningTrades++
			m.TotalProfit += trade.ProfitLoss
		} else {
			m.LosingTrades++
			m.TotalLoss += math.Abs(trade.ProfitLoss)
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.WinningTrades > 0 {
		m.AverageWin = m.TotalProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = m.TotalLoss / float64(m.LosingTrades)
	}

	m.NetProfit = finalEquity - e.cfg.InitialCapital
	m.ROI = m.NetProfit / e.cfg.InitialCapital * 100

	if m.TotalLoss > 0 {
		m.ProfitFactor = m.TotalProfit / m.TotalLoss
	}

	m.MaxDrawdown = maxDrawdown(result.EquityCurve)
	m.SharpeRatio = sharpeRatio(result.Trades)
}

// maxDrawdown is the largest peak-to-trough equity decline in percent
func maxDrawdown(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}

	worst := 0.0
	peak := curve[0].Equity
	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}
		drawdown := (peak - point.Equity) / peak * 100
		if drawdown > worst {
			worst = drawdown
		}
	}
	return worst
}

// sharpeRatio is the per-trade return over its standard deviation with a
// zero risk-free rate
func sharpeRatio(trades []Trade) float64 {
	if len(trades) == 0 {
		return 0
	}

	total := 0.0
	for _, trade := range trades {
		total += trade.PLPercent
	}
	mean := total / float64(len(trades))

	variance := 0.0
	for _, trade := range trades {
		diff := trade.PLPercent - mean
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(len(trades)))

	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}
