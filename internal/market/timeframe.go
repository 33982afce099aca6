package market

import (
	"fmt"
	"time"
)

var timeframeDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"1d":  24 * time.Hour,
}

// TimeframeDuration maps a dashboard timeframe to its bar duration
func TimeframeDuration(timeframe string) (time.Duration, error) {
	d, ok := timeframeDurations[timeframe]
	if !ok {
		return 0, fmt.Errorf("market: unsupported timeframe %q", timeframe)
	}
	return d, nil
}

// ValidTimeframe reports whether timeframe is supported
func ValidTimeframe(timeframe string) bool {
	_, ok := timeframeDurations[timeframe]
	return ok
}

// Timeframes returns the supported timeframes in ascending bar duration
func Timeframes() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "1d"}
}
