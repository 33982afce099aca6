package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"nifty-insight-server/internal/greeks"
	"nifty-insight-server/internal/indicators"
	"nifty-insight-server/internal/levels"
	"nifty-insight-server/internal/market"
	"nifty-insight-server/internal/signal"
)

// ============================================================================
// ANALYSIS HANDLERS
// ============================================================================

// dailyHistoryDays is how much daily history the level calculations get.
// Monthly CPR needs the two previous full months, so three is plenty.
const dailyHistoryDays = 120

// indicatorCandles is the history window for indicator computation; the
// EMA 200 needs at least 200 closes to converge.
const indicatorCandles = 300

type indicatorResponse struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`
	indicators.Snapshot
}

// handleGetLevels returns CPR and floor pivots for the last completed
// daily, weekly or monthly period.
func (s *Server) handleGetLevels(c *gin.Context) {
	period := c.Param("period")
	if !levels.ValidPeriod(period) {
		errorResponse(c, http.StatusBadRequest, "period must be daily, weekly or monthly")
		return
	}

	symbol := c.Query("symbol")
	if symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -dailyHistoryDays)
	daily, err := s.provider.Candles(c.Request.Context(), symbol, "1d", start, end, dailyHistoryDays)
	if err != nil {
		errorResponse(c, http.StatusNotFound, "No candle data available")
		return
	}

	result, err := levels.ForPeriod(symbol, period, daily)
	if err != nil {
		errorResponse(c, http.StatusNotFound, "Not enough history for "+period+" levels")
		return
	}

	successResponse(c, result)
}

// handleGetIndicators returns either the latest indicator snapshot or,
// with series=true, the full per-candle series for charting.
func (s *Server) handleGetIndicators(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	timeframe := c.DefaultQuery("timeframe", "5m")
	if !market.ValidTimeframe(timeframe) {
		errorResponse(c, http.StatusBadRequest, "Unsupported timeframe: "+timeframe)
		return
	}

	interval, _ := market.TimeframeDuration(timeframe)
	end := time.Now().UTC()
	start := end.Add(-time.Duration(indicatorCandles) * interval)

	candles, err := s.provider.Candles(c.Request.Context(), symbol, timeframe, start, end, indicatorCandles)
	if err != nil || len(candles) == 0 {
		errorResponse(c, http.StatusNotFound, "No candle data available")
		return
	}

	if c.Query("series") == "true" {
		successResponse(c, gin.H{
			"symbol":    symbol,
			"timeframe": timeframe,
			"series":    indicators.ComputeSeries(candles),
		})
		return
	}

	successResponse(c, indicatorResponse{
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: time.Now().UTC(),
		Snapshot:  indicators.ComputeSnapshot(candles),
	})
}

// handleCurrentSignal evaluates the RSI rules against live data using
// the caller's signal thresholds.
func (s *Server) handleCurrentSignal(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	timeframe := c.DefaultQuery("timeframe", "5m")
	if !market.ValidTimeframe(timeframe) {
		errorResponse(c, http.StatusBadRequest, "Unsupported timeframe: "+timeframe)
		return
	}

	ctx := c.Request.Context()
	price, err := s.provider.CurrentPrice(ctx, symbol)
	if err != nil {
		errorResponse(c, http.StatusNotFound, "Price not available")
		return
	}

	interval, _ := market.TimeframeDuration(timeframe)
	end := time.Now().UTC()
	start := end.Add(-time.Duration(indicatorCandles) * interval)
	candles, err := s.provider.Candles(ctx, symbol, timeframe, start, end, indicatorCandles)
	if err != nil || len(candles) == 0 {
		errorResponse(c, http.StatusNotFound, "No candle data available")
		return
	}

	tree := s.store(c).Settings()
	params := signal.Params{
		RSIPeriod:       tree.Indicators.RSI.Period,
		RSIOverbought:   tree.Signals.RSIOverbought,
		RSIOversold:     tree.Signals.RSIOversold,
		StopLossPercent: tree.Signals.StopLossPercent,
		TargetPercent:   tree.Signals.TargetPercent,
	}

	sig := s.signals.Generate(ctx, symbol, timeframe, candles, price, params)
	successResponse(c, sig)
}

// handleGetGreeks prices an option and derives trade levels for it. When
// a recent signal exists for the underlying its levels are used;
// otherwise entry sits at spot with a 2 percent band around it.
func (s *Server) handleGetGreeks(c *gin.Context) {
	option := c.Query("option")
	if option == "" {
		option = c.Query("optionSymbol")
	}
	if option == "" {
		errorResponse(c, http.StatusBadRequest, "option is required")
		return
	}

	opt, err := greeks.ParseOptionSymbol(option)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid option symbol format")
		return
	}

	underlying := c.DefaultQuery("underlying", opt.Underlying)

	ctx := c.Request.Context()
	price, err := s.provider.CurrentPrice(ctx, underlying)
	if err != nil {
		errorResponse(c, http.StatusNotFound, "Underlying price not available")
		return
	}

	tree := s.store(c).Settings()

	entry := price
	stop := price * 0.98
	target := price * 1.02
	riskReward := tree.Core.RiskRewardRatio
	positionSize := 1

	fromSignal := false
	if s.repo != nil {
		if recent, err := s.repo.RecentSignals(ctx, underlying, 1); err == nil && len(recent) > 0 {
			latest := recent[0]
			entry = latest.EntryPrice
			stop = latest.StopPrice
			target = latest.TargetPrice
			riskReward = latest.RiskReward
			positionSize = latest.PositionSize
			fromSignal = true
		}
	}
	if !fromSignal {
		if risk := entry - stop; risk > 0 {
			positionSize = int(tree.Core.RiskPerTrade / risk)
		}
	}

	in := greeks.MetricsInput{
		OptionSymbol:    option,
		UnderlyingPrice: price,
		// Settings keep the rate as a decimal; the pricer takes percent.
		RiskFreeRate:     tree.Greeks.RiskFreeRate * 100,
		DividendYield:    0,
		IVGuess:          0.25,
		RiskReward:       riskReward,
		PositionSize:     positionSize,
		StopUnderlying:   stop,
		TargetUnderlying: target,
	}

	metrics, err := greeks.ComputeMetrics(in, time.Now().UTC())
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	s.eventBus.PublishGreeksUpdate(metrics.OptionSymbol, metrics.Delta, metrics.Theta,
		metrics.Vega, metrics.ImpliedVolatility, metrics.OptionPrice)
	successResponse(c, metrics)
}
