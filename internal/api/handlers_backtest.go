package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"nifty-insight-server/internal/backtest"
	"nifty-insight-server/internal/signal"
)

// ============================================================================
// BACKTEST HANDLER
// ============================================================================

type backtestRequest struct {
	Symbol         string  `json:"symbol"`
	Timeframe      string  `json:"timeframe"`
	From           string  `json:"from"`
	To             string  `json:"to"`
	InitialCapital float64 `json:"initialCapital"`
}

// handleRunBacktest replays the signal rules over history. Every request
// field is optional; omitted ones fall back to the caller's settings.
func (s *Server) handleRunBacktest(c *gin.Context) {
	var req backtestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	tree := s.store(c).Settings()

	symbol := req.Symbol
	if symbol == "" {
		symbol = tree.Core.DefaultSymbol
	}
	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = tree.Core.DefaultTimeframe
	}

	to := time.Now().UTC()
	if req.To != "" {
		parsed, err := parseTimeParam(req.To)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "to must be an RFC 3339 timestamp or YYYY-MM-DD date")
			return
		}
		to = parsed
	}

	from := to.AddDate(0, 0, -tree.Backtest.DefaultPeriodDays)
	if req.From != "" {
		parsed, err := parseTimeParam(req.From)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "from must be an RFC 3339 timestamp or YYYY-MM-DD date")
			return
		}
		from = parsed
	}

	capital := req.InitialCapital
	if capital <= 0 {
		capital = tree.Backtest.InitialCapital
	}

	cfg := backtest.DefaultConfig()
	cfg.InitialCapital = capital
	cfg.PositionPercent = tree.Backtest.PositionSize
	cfg.CommissionPercent = tree.Backtest.CommissionPercent
	cfg.SlippagePercent = tree.Backtest.SlippagePercent

	params := signal.Params{
		RSIPeriod:       tree.Indicators.RSI.Period,
		RSIOverbought:   tree.Signals.RSIOverbought,
		RSIOversold:     tree.Signals.RSIOversold,
		StopLossPercent: tree.Signals.StopLossPercent,
		TargetPercent:   tree.Signals.TargetPercent,
	}

	run := backtest.Request{
		Symbol:         symbol,
		Timeframe:      timeframe,
		From:           from,
		To:             to,
		InitialCapital: capital,
		Params:         params,
	}

	result, err := s.backtests.Run(c.Request.Context(), run, cfg)
	if err != nil {
		if errors.Is(err, backtest.ErrInsufficientData) {
			errorResponse(c, http.StatusNotFound, "Not enough candle data for the requested range")
			return
		}
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	successResponse(c, result)
}
