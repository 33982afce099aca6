// Package levels computes the central pivot range (CPR) and classic
// floor-trader support/resistance levels the dashboard draws as
// horizontal lines. Daily levels come from the previous day's candle;
// weekly and monthly levels aggregate daily candles into ISO-week and
// calendar-month buckets first.
package levels

import (
	"errors"
	"fmt"
	"time"

	"nifty-insight-server/internal/market"
)

// ErrNoData is returned when no candles are available to compute levels
var ErrNoData = errors.New("levels: no candle data available")

// CPR width classification thresholds, as a ratio against the previous
// period's width.
const (
	narrowThreshold = 0.6
	wideThreshold   = 1.4
)

// Period selects the candle bucket the levels are computed from.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// ValidPeriod reports whether s names a supported period
func ValidPeriod(s string) bool {
	switch Period(s) {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// CPRType classifies the current CPR width against the previous period.
type CPRType string

const (
	CPRNormal CPRType = "normal"
	CPRNarrow CPRType = "narrow"
	CPRWide   CPRType = "wide"
)

// Levels holds the CPR and pivot levels for one symbol and period.
type Levels struct {
	Symbol  string  `json:"symbol"`
	Period  Period  `json:"period"`
	Date    string  `json:"date"`
	Pivot   float64 `json:"pivot"`
	BC      float64 `json:"bc"`
	TC      float64 `json:"tc"`
	S1      float64 `json:"s1"`
	S2      float64 `json:"s2"`
	S3      float64 `json:"s3"`
	R1      float64 `json:"r1"`
	R2      float64 `json:"r2"`
	R3      float64 `json:"r3"`
	CPRType CPRType `json:"cpr_type"`
}

// Width returns the CPR width (TC - BC)
func (l Levels) Width() float64 {
	return l.TC - l.BC
}

// Compute calculates CPR and floor pivot levels from the previous
// period's high, low and close. prevWidth is the width of the previous
// period's CPR and drives the narrow/wide classification; pass zero or
// negative when unknown, which classifies as normal
func Compute(prevHigh, prevLow, prevClose, prevWidth float64) Levels {
	pivot := (prevHigh + prevLow + prevClose) / 3.0
	bc := (prevHigh + prevLow) / 2.0
	tc := pivot + (pivot - bc)

	levels := Levels{
		Pivot: pivot,
		BC:    bc,
		TC:    tc,
		R1:    2*pivot - prevLow,
		S1:    2*pivot - prevHigh,
		R2:    pivot + (prevHigh - prevLow),
		S2:    pivot - (prevHigh - prevLow),
	}
	levels.R3 = levels.R2 + (prevHigh - prevLow)
	levels.S3 = levels.S2 - (prevHigh - prevLow)

	levels.CPRType = CPRNormal
	if prevWidth > 0 {
		ratio := (tc - bc) / prevWidth
		if ratio <= narrowThreshold {
			levels.CPRType = CPRNarrow
		} else if ratio >= wideThreshold {
			levels.CPRType = CPRWide
		}
	}

	return levels
}

// ForPeriod computes levels for a symbol from its daily candles. The
// candles must be in chronological order with the last one possibly
// still forming: the second-to-last completed bucket supplies the
// high/low/close, and the bucket before that supplies the width used for
// CPR classification.
func ForPeriod(symbol string, period Period, daily []market.Candle) (Levels, error) {
	if len(daily) == 0 {
		return Levels{}, ErrNoData
	}

	keyFn, err := bucketKeyFunc(period)
	if err != nil {
		return Levels{}, err
	}

	buckets := aggregate(daily, keyFn)

	// Drop the still-forming bucket when a completed one exists.
	source := buckets[len(buckets)-1]
	prevWidth := 0.0
	if len(buckets) >= 2 {
		source = buckets[len(buckets)-2]
		if len(buckets) >= 3 {
			prior := buckets[len(buckets)-3]
			prevWidth = cprWidth(prior.high, prior.low, prior.close)
		}
	}

	levels := Compute(source.high, source.low, source.close, prevWidth)
	levels.Symbol = symbol
	levels.Period = period
	levels.Date = source.date.Format("2006-01-02")
	return levels, nil
}

// cprWidth returns TC - BC for a period's high/low/close
func cprWidth(high, low, close float64) float64 {
	pivot := (high + low + close) / 3.0
	bc := (high + low) / 2.0
	tc := pivot + (pivot - bc)
	return tc - bc
}

// bucket is one aggregated period of daily candles.
type bucket struct {
	key   string
	date  time.Time
	high  float64
	low   float64
	close float64
}

func bucketKeyFunc(period Period) (func(time.Time) string, error) {
	switch period {
	case PeriodDaily:
		return func(t time.Time) string {
			return t.UTC().Format("2006-01-02")
		}, nil
	case PeriodWeekly:
		return func(t time.Time) string {
			year, week := t.UTC().ISOWeek()
			return fmt.Sprintf("%04d-W%02d", year, week)
		}, nil
	case PeriodMonthly:
		return func(t time.Time) string {
			return t.UTC().Format("2006-01")
		}, nil
	}
	return nil, fmt.Errorf("unsupported period: %s", period)
}

// aggregate folds chronological daily candles into period buckets: high
// is the bucket maximum, low the minimum, close the last candle's close
// and date the last candle's day
func aggregate(candles []market.Candle, keyFn func(time.Time) string) []bucket {
	var buckets []bucket

	for _, c := range candles {
		key := keyFn(c.Time)
		if len(buckets) == 0 || buckets[len(buckets)-1].key != key {
			buckets = append(buckets, bucket{
				key:   key,
				date:  c.Time,
				high:  c.High,
				low:   c.Low,
				close: c.Close,
			})
			continue
		}

		last := &buckets[len(buckets)-1]
		if c.High > last.high {
			last.high = c.High
		}
		if c.Low < last.low {
			last.low = c.Low
		}
		last.close = c.Close
		last.date = c.Time
	}

	return buckets
}
