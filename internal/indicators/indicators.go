// Package indicators computes the technical indicators shown on the
// dashboard chart: EMAs, VWAP, ATR, RSI, stochastic and a volume moving
// average. Snapshot functions return the latest value only; series
// functions return one point per candle with nil values while the
// indicator is still warming up.
package indicators

import (
	"math"
	"strconv"
	"time"

	"nifty-insight-server/internal/market"
)

// Default periods used by the snapshot and series entry points.
const (
	DefaultATRPeriod      = 14
	DefaultRSIPeriod      = 14
	DefaultStochPeriod    = 14
	DefaultStochSmoothing = 3
	DefaultVolumeMAPeriod = 20
)

// emaPeriods are the EMA lengths the chart overlays support.
var emaPeriods = []int{9, 21, 50, 200}

// Point is one entry in an indicator series. Value is nil until the
// indicator has enough history to produce a reading.
type Point struct {
	Time  time.Time `json:"time"`
	Value *float64  `json:"value"`
}

// Snapshot holds the latest value of every indicator.
type Snapshot struct {
	EMA9     float64 `json:"ema9"`
	EMA21    float64 `json:"ema21"`
	EMA50    float64 `json:"ema50"`
	EMA200   float64 `json:"ema200"`
	VWAP     float64 `json:"vwap"`
	ATR      float64 `json:"atr"`
	RSI      float64 `json:"rsi"`
	StochK   float64 `json:"stoch_k"`
	StochD   float64 `json:"stoch_d"`
	VolumeMA float64 `json:"volume_ma"`
}

// Series holds the full per-candle history of every indicator. EMA
// series are keyed by period ("9", "21", "50", "200").
type Series struct {
	EMA      map[string][]Point `json:"ema"`
	VWAP     []Point            `json:"vwap"`
	ATR      []Point            `json:"atr"`
	RSI      []Point            `json:"rsi"`
	StochK   []Point            `json:"stoch_k"`
	StochD   []Point            `json:"stoch_d"`
	VolumeMA []Point            `json:"volume_ma"`
}

// ============================================================================
// SNAPSHOT CALCULATIONS
// ============================================================================

// CalculateEMA calculates the Exponential Moving Average of closing
// prices. The EMA is seeded with the first close, so it produces a value
// for any non-empty candle set
func CalculateEMA(candles []market.Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}

	values := emaValues(candles, period)
	return values[len(values)-1]
}

// CalculateVWAP calculates the Volume Weighted Average Price over the
// whole candle set
func CalculateVWAP(candles []market.Candle) float64 {
	cumTPV := 0.0
	cumVolume := 0.0

	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3.0
		cumTPV += typical * c.Volume
		cumVolume += c.Volume
	}

	if cumVolume == 0 {
		return 0
	}

	return cumTPV / cumVolume
}

// CalculateATR calculates the Average True Range
func CalculateATR(candles []market.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += trueRange(candles[i], candles[i-1])
	}

	return sum / float64(period)
}

// CalculateRSI calculates the Relative Strength Index
func CalculateRSI(candles []market.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 50.0 // Neutral RSI
	}

	gains := 0.0
	losses := 0.0

	for i := len(candles) - period; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// CalculateStochastic calculates the stochastic oscillator. %K compares
// the latest close against the high/low range of the lookback window and
// %D is the 3-point average of %K over the most recent candles
func CalculateStochastic(candles []market.Candle, period int) (float64, float64) {
	if len(candles) < period {
		return 50.0, 50.0 // Neutral
	}

	k := stochasticK(candles, len(candles)-1, period)

	sum := 0.0
	count := 0
	for i := len(candles) - DefaultStochSmoothing; i < len(candles); i++ {
		if i < 0 {
			continue
		}
		sum += stochasticK(candles, i, period)
		count++
	}

	return k, sum / float64(count)
}

// CalculateVolumeMA calculates the simple moving average of volume
func CalculateVolumeMA(candles []market.Candle, period int) float64 {
	if len(candles) < period {
		return 0
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Volume
	}

	return sum / float64(period)
}

// ComputeSnapshot calculates the latest value of every indicator using
// the default periods
func ComputeSnapshot(candles []market.Candle) Snapshot {
	stochK, stochD := CalculateStochastic(candles, DefaultStochPeriod)

	return Snapshot{
		EMA9:     CalculateEMA(candles, 9),
		EMA21:    CalculateEMA(candles, 21),
		EMA50:    CalculateEMA(candles, 50),
		EMA200:   CalculateEMA(candles, 200),
		VWAP:     CalculateVWAP(candles),
		ATR:      CalculateATR(candles, DefaultATRPeriod),
		RSI:      CalculateRSI(candles, DefaultRSIPeriod),
		StochK:   stochK,
		StochD:   stochD,
		VolumeMA: CalculateVolumeMA(candles, DefaultVolumeMAPeriod),
	}
}

// ============================================================================
// SERIES CALCULATIONS
// ============================================================================

// EMASeries returns the EMA at every candle. The EMA is seeded with the
// first close, so the series has no warmup gap
func EMASeries(candles []market.Candle, period int) []Point {
	points := make([]Point, len(candles))
	if len(candles) == 0 {
		return points
	}
	values := emaValues(candles, period)

	for i := range candles {
		v := values[i]
		points[i] = Point{Time: candles[i].Time, Value: &v}
	}

	return points
}

// VWAPSeries returns the cumulative VWAP at every candle
func VWAPSeries(candles []market.Candle) []Point {
	points := make([]Point, len(candles))
	cumTPV := 0.0
	cumVolume := 0.0

	for i, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3.0
		cumTPV += typical * c.Volume
		cumVolume += c.Volume

		v := 0.0
		if cumVolume > 0 {
			v = cumTPV / cumVolume
		}
		points[i] = Point{Time: c.Time, Value: &v}
	}

	return points
}

// ATRSeries returns the ATR at every candle. Values are nil until a full
// period of true ranges is available
func ATRSeries(candles []market.Candle, period int) []Point {
	points := make([]Point, len(candles))
	trs := make([]float64, 0, len(candles))

	for i := range candles {
		points[i].Time = candles[i].Time
		if i == 0 {
			continue
		}

		trs = append(trs, trueRange(candles[i], candles[i-1]))
		if len(trs) < period {
			continue
		}

		sum := 0.0
		for _, tr := range trs[len(trs)-period:] {
			sum += tr
		}
		v := sum / float64(period)
		points[i].Value = &v
	}

	return points
}

// RSISeries returns the RSI at every candle. Values are nil until a full
// period of closing changes is available
func RSISeries(candles []market.Candle, period int) []Point {
	points := make([]Point, len(candles))

	for i := range candles {
		points[i].Time = candles[i].Time
		if i < period {
			continue
		}

		gains := 0.0
		losses := 0.0
		for j := i - period + 1; j <= i; j++ {
			change := candles[j].Close - candles[j-1].Close
			if change > 0 {
				gains += change
			} else {
				losses += -change
			}
		}

		v := 100.0
		if losses > 0 {
			rs := gains / losses
			v = 100 - (100 / (1 + rs))
		}
		points[i].Value = &v
	}

	return points
}

// StochasticSeries returns %K and %D at every candle. %K is nil until a
// full lookback window is available and %D is nil until enough %K values
// exist to smooth
func StochasticSeries(candles []market.Candle, period, smoothing int) ([]Point, []Point) {
	kPoints := make([]Point, len(candles))
	dPoints := make([]Point, len(candles))
	kHistory := make([]float64, 0, len(candles))

	for i := range candles {
		kPoints[i].Time = candles[i].Time
		dPoints[i].Time = candles[i].Time
		if i < period-1 {
			continue
		}

		k := stochasticK(candles, i, period)
		kHistory = append(kHistory, k)
		kv := k
		kPoints[i].Value = &kv

		if len(kHistory) < smoothing {
			continue
		}

		sum := 0.0
		for _, v := range kHistory[len(kHistory)-smoothing:] {
			sum += v
		}
		d := sum / float64(smoothing)
		dPoints[i].Value = &d
	}

	return kPoints, dPoints
}

// VolumeMASeries returns the volume moving average at every candle.
// Values are nil until a full period of volumes is available
func VolumeMASeries(candles []market.Candle, period int) []Point {
	points := make([]Point, len(candles))

	for i := range candles {
		points[i].Time = candles[i].Time
		if i < period-1 {
			continue
		}

		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			sum += candles[j].Volume
		}
		v := sum / float64(period)
		points[i].Value = &v
	}

	return points
}

// ComputeSeries calculates the full history of every indicator using the
// default periods
func ComputeSeries(candles []market.Candle) Series {
	ema := make(map[string][]Point, len(emaPeriods))
	for _, period := range emaPeriods {
		ema[strconv.Itoa(period)] = EMASeries(candles, period)
	}

	stochK, stochD := StochasticSeries(candles, DefaultStochPeriod, DefaultStochSmoothing)

	return Series{
		EMA:      ema,
		VWAP:     VWAPSeries(candles),
		ATR:      ATRSeries(candles, DefaultATRPeriod),
		RSI:      RSISeries(candles, DefaultRSIPeriod),
		StochK:   stochK,
		StochD:   stochD,
		VolumeMA: VolumeMASeries(candles, DefaultVolumeMAPeriod),
	}
}

// ============================================================================
// HELPERS
// ============================================================================

// emaValues computes the EMA over closing prices, one value per candle.
// Requires a non-empty candle set
func emaValues(candles []market.Candle, period int) []float64 {
	k := 2.0 / float64(period+1)
	values := make([]float64, len(candles))

	ema := candles[0].Close
	values[0] = ema
	for i := 1; i < len(candles); i++ {
		ema = candles[i].Close*k + ema*(1-k)
		values[i] = ema
	}

	return values
}

// trueRange computes the true range of a candle against its predecessor
func trueRange(current, previous market.Candle) float64 {
	tr := current.High - current.Low
	tr = math.Max(tr, math.Abs(current.High-previous.Close))
	return math.Max(tr, math.Abs(current.Low-previous.Close))
}

// stochasticK computes %K at index idx over a window of up to period
// candles ending at idx
func stochasticK(candles []market.Candle, idx, period int) float64 {
	start := idx - period + 1
	if start < 0 {
		start = 0
	}

	highest := candles[start].High
	lowest := candles[start].Low
	for i := start + 1; i <= idx; i++ {
		highest = math.Max(highest, candles[i].High)
		lowest = math.Min(lowest, candles[i].Low)
	}

	if highest == lowest {
		return 50.0
	}

	return (candles[idx].Close - lowest) / (highest - lowest) * 100.0
}
