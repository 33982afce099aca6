// Package greeks prices European options with the Black-Scholes model
// and derives the trade metrics the dashboard's option card shows:
// greeks, intrinsic/time value, delta-translated stop and target prices,
// moneyness and break-even figures.
package greeks

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSymbol is returned when an option symbol cannot be parsed
var ErrInvalidSymbol = errors.New("greeks: invalid option symbol")

// OptionType is the option side, "C" for call or "P" for put.
type OptionType string

const (
	Call OptionType = "C"
	Put  OptionType = "P"
)

// Moneyness status values.
const (
	StatusITM = "ITM"
	StatusATM = "ATM"
	StatusOTM = "OTM"
)

// atmTolerancePercent is the moneyness band treated as at-the-money.
const atmTolerancePercent = 0.5

// Implied volatility solver bounds.
const (
	minVolatility = 1e-4
	maxVolatility = 5.0
)

// Option is a parsed option symbol.
type Option struct {
	Underlying string
	Expiry     time.Time
	Strike     float64
	Type       OptionType
}

// Greeks holds the Black-Scholes sensitivities and theoretical price.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	Rho   float64
	Price float64
}

// ParseOptionSymbol parses symbols like NIFTY250417C24000: a
// five-character underlying, YYMMDD expiry, C or P, then the strike
func ParseOptionSymbol(symbol string) (Option, error) {
	if len(symbol) < 13 {
		return Option{}, fmt.Errorf("%w: %q too short", ErrInvalidSymbol, symbol)
	}

	underlying := strings.ToUpper(symbol[:5])
	expiry, err := time.Parse("060102", symbol[5:11])
	if err != nil {
		return Option{}, fmt.Errorf("%w: bad expiry in %q", ErrInvalidSymbol, symbol)
	}

	typ := OptionType(strings.ToUpper(symbol[11:12]))
	if typ != Call && typ != Put {
		return Option{}, fmt.Errorf("%w: option type %q", ErrInvalidSymbol, symbol[11:12])
	}

	strike, err := strconv.ParseFloat(symbol[12:], 64)
	if err != nil || strike <= 0 {
		return Option{}, fmt.Errorf("%w: bad strike in %q", ErrInvalidSymbol, symbol)
	}

	return Option{
		Underlying: underlying,
		Expiry:     expiry,
		Strike:     strike,
		Type:       typ,
	}, nil
}

// ============================================================================
// BLACK-SCHOLES
// ============================================================================

// normCDF is the standard normal cumulative distribution function
func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// normPDF is the standard normal probability density function
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

// intrinsicValue returns the exercise value of the option
func intrinsicValue(s, k float64, typ OptionType) float64 {
	if typ == Call {
		return math.Max(s-k, 0)
	}
	return math.Max(k-s, 0)
}

// Price returns the Black-Scholes price of a European option. s is the
// underlying price, k the strike, t the time to expiry in years, r the
// risk-free rate and q the dividend yield (both annualised decimals) and
// sigma the annualised volatility. Expired or zero-volatility options
// collapse to intrinsic value
func Price(s, k, t, r, q, sigma float64, typ OptionType) float64 {
	if t <= 0 || sigma <= 0 {
		return intrinsicValue(s, k, typ)
	}

	d1 := (math.Log(s/k) + (r-q+0.5*sigma*sigma)*t) / (sigma * math.Sqrt(t))
	d2 := d1 - sigma*math.Sqrt(t)

	if typ == Call {
		return s*math.Exp(-q*t)*normCDF(d1) - k*math.Exp(-r*t)*normCDF(d2)
	}
	return k*math.Exp(-r*t)*normCDF(-d2) - s*math.Exp(-q*t)*normCDF(-d1)
}

// Compute returns the Black-Scholes greeks and price. For expired or
// zero-volatility options the price collapses to intrinsic value, delta
// snaps to +-1 and the remaining greeks are zero
func Compute(s, k, t, r, q, sigma float64, typ OptionType) Greeks {
	if t <= 0 || sigma <= 0 {
		delta := -1.0
		if typ == Call && s > k {
			delta = 1.0
		}
		return Greeks{Delta: delta, Price: intrinsicValue(s, k, typ)}
	}

	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r-q+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	pdf := normPDF(d1)

	g := Greeks{
		Gamma: math.Exp(-q*t) * pdf / (s * sigma * sqrtT),
		Vega:  s * math.Exp(-q*t) * pdf * sqrtT,
		Price: Price(s, k, t, r, q, sigma, typ),
	}

	if typ == Call {
		g.Delta = math.Exp(-q*t) * normCDF(d1)
		g.Theta = -(s*pdf*sigma*math.Exp(-q*t))/(2*sqrtT) -
			r*k*math.Exp(-r*t)*normCDF(d2) +
			q*s*math.Exp(-q*t)*normCDF(d1)
		g.Rho = k * t * math.Exp(-r*t) * normCDF(d2)
	} else {
		g.Delta = -math.Exp(-q*t) * normCDF(-d1)
		g.Theta = -(s*pdf*sigma*math.Exp(-q*t))/(2*sqrtT) +
			r*k*math.Exp(-r*t)*normCDF(-d2) -
			q*s*math.Exp(-q*t)*normCDF(-d1)
		g.Rho = -k * t * math.Exp(-r*t) * normCDF(-d2)
	}

	return g
}

// ImpliedVolatility estimates the volatility that reproduces marketPrice
// using Newton-Raphson, clamped to [1e-4, 5]. Returns the last estimate
// when vega vanishes or the iteration limit is reached
func ImpliedVolatility(marketPrice, s, k, t, r, q float64, typ OptionType, guess float64) float64 {
	const (
		tolerance     = 1e-4
		maxIterations = 100
	)

	sigma := math.Max(guess, minVolatility)
	for i := 0; i < maxIterations; i++ {
		g := Compute(s, k, t, r, q, sigma, typ)
		diff := g.Price - marketPrice
		if math.Abs(diff) < tolerance {
			break
		}
		if g.Vega == 0 {
			break
		}
		sigma -= diff / g.Vega
		sigma = math.Max(math.Min(sigma, maxVolatility), minVolatility)
	}

	return math.Max(sigma, minVolatility)
}

// ============================================================================
// OPTION METRICS
// ============================================================================

// MetricsInput carries the trade context for ComputeMetrics. Rates are
// percentages (6.5 means 6.5%); stop and target are underlying levels.
type MetricsInput struct {
	OptionSymbol     string
	UnderlyingPrice  float64
	RiskFreeRate     float64
	DividendYield    float64
	IVGuess          float64
	RiskReward       float64
	PositionSize     int
	StopUnderlying   float64
	TargetUnderlying float64
}

// Metrics is the full option pricing payload served by the greeks
// endpoint. MaxProfit is nil for calls, where the upside is unlimited.
type Metrics struct {
	OptionSymbol      string     `json:"option_symbol"`
	Expiry            string     `json:"expiry"`
	Strike            float64    `json:"strike"`
	OptionType        OptionType `json:"option_type"`
	UnderlyingPrice   float64    `json:"underlying_price"`
	ImpliedVolatility float64    `json:"implied_volatility"`
	OptionPrice       float64    `json:"option_price"`
	Delta             float64    `json:"delta"`
	Gamma             float64    `json:"gamma"`
	Theta             float64    `json:"theta"`
	Vega              float64    `json:"vega"`
	Rho               float64    `json:"rho"`
	IntrinsicValue    float64    `json:"intrinsic_value"`
	TimeValue         float64    `json:"time_value"`
	EntryPrice        float64    `json:"entry_price"`
	StopPrice         float64    `json:"stop_price"`
	TargetPrice       float64    `json:"target_price"`
	RiskReward        float64    `json:"risk_reward"`
	PositionSize      int        `json:"position_size"`
	MoneynessPercent  float64    `json:"moneyness_percent"`
	Status            string     `json:"status"`
	TheoreticalPrice  float64    `json:"theoreticalPrice"`
	BreakEven         float64    `json:"breakEven"`
	MaxProfit         *float64   `json:"maxProfit"`
	MaxLoss           float64    `json:"maxLoss"`
}

// ComputeMetrics prices the option as of today and translates the
// underlying stop and target levels into option prices via delta. Gamma
// is ignored for the translation. The stop is floored at 0.01 and the
// target always sits above the stop
func ComputeMetrics(in MetricsInput, today time.Time) (Metrics, error) {
	opt, err := ParseOptionSymbol(in.OptionSymbol)
	if err != nil {
		return Metrics{}, err
	}

	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	days := opt.Expiry.Sub(day).Hours() / 24
	if days < 0 {
		days = 0
	}
	t := days / 365.0

	sigma := math.Max(in.IVGuess, minVolatility)
	g := Compute(in.UnderlyingPrice, opt.Strike, t, in.RiskFreeRate/100.0, in.DividendYield/100.0, sigma, opt.Type)

	intrinsic := intrinsicValue(in.UnderlyingPrice, opt.Strike, opt.Type)
	timeValue := math.Max(g.Price-intrinsic, 0)

	absDelta := math.Abs(g.Delta)
	stop := g.Price - math.Abs(in.UnderlyingPrice-in.StopUnderlying)*absDelta
	target := g.Price + math.Abs(in.TargetUnderlying-in.UnderlyingPrice)*absDelta
	stop = math.Max(stop, 0.01)
	target = math.Max(target, stop+0.01)

	moneyness := 0.0
	if opt.Strike > 0 {
		moneyness = (in.UnderlyingPrice - opt.Strike) / opt.Strike * 100.0
	}

	m := Metrics{
		OptionSymbol:      in.OptionSymbol,
		Expiry:            opt.Expiry.Format("2006-01-02"),
		Strike:            opt.Strike,
		OptionType:        opt.Type,
		UnderlyingPrice:   in.UnderlyingPrice,
		ImpliedVolatility: sigma,
		OptionPrice:       g.Price,
		Delta:             g.Delta,
		Gamma:             g.Gamma,
		Theta:             g.Theta,
		Vega:              g.Vega,
		Rho:               g.Rho,
		IntrinsicValue:    intrinsic,
		TimeValue:         timeValue,
		EntryPrice:        g.Price,
		StopPrice:         stop,
		TargetPrice:       target,
		RiskReward:        in.RiskReward,
		PositionSize:      in.PositionSize,
		MoneynessPercent:  moneyness,
		Status:            moneynessStatus(moneyness, opt.Type),
		TheoreticalPrice:  g.Price,
		MaxLoss:           g.Price,
	}

	if opt.Type == Call {
		m.BreakEven = opt.Strike + g.Price
	} else {
		m.BreakEven = opt.Strike - g.Price
		maxProfit := opt.Strike - g.Price
		m.MaxProfit = &maxProfit
	}

	return m, nil
}

// moneynessStatus classifies an option as ITM, ATM or OTM. The sign of
// the moneyness flips meaning for puts
func moneynessStatus(moneynessPercent float64, typ OptionType) string {
	itm := moneynessPercent > atmTolerancePercent
	otm := moneynessPercent < -atmTolerancePercent
	if typ == Put {
		itm, otm = otm, itm
	}

	switch {
	case itm:
		return StatusITM
	case otm:
		return StatusOTM
	default:
		return StatusATM
	}
}
