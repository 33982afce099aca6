// Package signal generates BUY/SELL/NEUTRAL trade signals from the RSI
// band rules: overbought means sell, oversold means buy, anything else
// is neutral. Confidence grows with the RSI's distance from the 50
// midpoint. Generated signals are persisted and published on the event
// bus for the WebSocket signal channel.
package signal

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"nifty-insight-server/internal/events"
	"nifty-insight-server/internal/indicators"
	"nifty-insight-server/internal/logging"
	"nifty-insight-server/internal/market"
)

// Direction is the side a signal recommends.
type Direction string

const (
	DirectionBuy     Direction = "BUY"
	DirectionSell    Direction = "SELL"
	DirectionNeutral Direction = "NEUTRAL"
)

// Params configures the RSI-band rules. Percentages are absolute
// (1.0 means 1%).
type Params struct {
	RSIPeriod       int
	RSIOverbought   float64
	RSIOversold     float64
	StopLossPercent float64
	TargetPercent   float64
}

// DefaultParams returns the standard RSI band configuration
func DefaultParams() Params {
	return Params{
		RSIPeriod:       14,
		RSIOverbought:   70,
		RSIOversold:     30,
		StopLossPercent: 1.0,
		TargetPercent:   1.0,
	}
}

// Signal is one generated trade signal.
type Signal struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Symbol       string    `json:"symbol"`
	Scenario     string    `json:"scenario"`
	Signal       Direction `json:"signal"`
	EntryPrice   float64   `json:"entry_price"`
	StopPrice    float64   `json:"stop_price"`
	TargetPrice  float64   `json:"target_price"`
	RiskReward   float64   `json:"risk_reward"`
	PositionSize int       `json:"position_size"`
	Confidence   float64   `json:"confidence"`
	Reason       string    `json:"reason,omitempty"`
}

// Evaluation is the outcome of the RSI rules before trade levels are
// attached.
type Evaluation struct {
	Direction  Direction
	Confidence float64
	Reason     string
	RSI        float64
	// RSIAvailable is false when the candle history is too short to
	// compute the RSI, which forces a neutral signal.
	RSIAvailable bool
}

// Evaluate runs the RSI band rules over the candle history
func Evaluate(candles []market.Candle, params Params) Evaluation {
	if params.RSIPeriod <= 0 {
		params.RSIPeriod = DefaultParams().RSIPeriod
	}

	if len(candles) < params.RSIPeriod+1 {
		return Evaluation{
			Direction: DirectionNeutral,
			Reason:    "RSI unavailable",
		}
	}

	rsi := indicators.CalculateRSI(candles, params.RSIPeriod)
	ev := Evaluation{RSI: rsi, RSIAvailable: true}

	switch {
	case rsi > params.RSIOverbought:
		ev.Direction = DirectionSell
		ev.Confidence = math.Min((rsi-50)/50.0, 1.0)
		ev.Reason = fmt.Sprintf("RSI %.1f above overbought %.0f", rsi, params.RSIOverbought)
	case rsi < params.RSIOversold:
		ev.Direction = DirectionBuy
		ev.Confidence = math.Min((50-rsi)/50.0, 1.0)
		ev.Reason = fmt.Sprintf("RSI %.1f below oversold %.0f", rsi, params.RSIOversold)
	default:
		ev.Direction = DirectionNeutral
		ev.Confidence = math.Abs(rsi-50) / 50.0
		ev.Reason = fmt.Sprintf("RSI %.1f inside neutral band", rsi)
	}

	return ev
}

// TradeLevels derives entry, stop and target prices for a direction.
// Neutral signals get sell-side levels so the card can still render a
// bracket around the price
func TradeLevels(direction Direction, price float64, params Params) (stop, target, riskReward float64) {
	stopFactor := 1 + params.StopLossPercent/100.0
	targetFactor := 1 - params.TargetPercent/100.0
	if direction == DirectionBuy {
		stopFactor = 1 - params.StopLossPercent/100.0
		targetFactor = 1 + params.TargetPercent/100.0
	}

	stop = price * stopFactor
	target = price * targetFactor

	riskReward = 1.0
	if risk := math.Abs(price - stop); risk > 0 && stop != 0 {
		riskReward = math.Abs(target-price) / risk
	}
	return stop, target, riskReward
}

// Store persists generated signals.
type Store interface {
	SaveSignal(ctx context.Context, sig Signal) error
}

// Generator evaluates signals and handles their side effects:
// persistence through the optional store and publication on the bus.
type Generator struct {
	store  Store
	bus    *events.EventBus
	logger *logging.Logger
	now    func() time.Time
	newID  func() string
}

// NewGenerator creates a Generator. store may be nil when the database
// is disabled
func NewGenerator(store Store, bus *events.EventBus, logger *logging.Logger) *Generator {
	return &Generator{
		store:  store,
		bus:    bus,
		logger: logger.WithComponent("signal"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Generate evaluates the RSI rules for a symbol and returns the full
// signal with trade levels. The signal is persisted and published even
// when neutral
func (g *Generator) Generate(ctx context.Context, symbol, timeframe string, candles []market.Candle, price float64, params Params) Signal {
	ev := Evaluate(candles, params)
	stop, target, riskReward := TradeLevels(ev.Direction, price, params)

	sig := Signal{
		ID:           g.newID(),
		Timestamp:    g.now().UTC(),
		Symbol:       symbol,
		Scenario:     timeframe,
		Signal:       ev.Direction,
		EntryPrice:   price,
		StopPrice:    stop,
		TargetPrice:  target,
		RiskReward:   riskReward,
		PositionSize: 1,
		Confidence:   ev.Confidence,
		Reason:       ev.Reason,
	}

	if g.store != nil {
		if err := g.store.SaveSignal(ctx, sig); err != nil {
			g.logger.Warn("Failed to persist signal for %s: %v", symbol, err)
		}
	}

	if g.bus != nil {
		g.bus.PublishSignalGenerated(symbol, string(ev.Direction), ev.Reason, ev.Confidence, price)
	}

	g.logger.Debug("Signal for %s (%s): %s confidence=%.2f", symbol, timeframe, ev.Direction, ev.Confidence)
	return sig
}
