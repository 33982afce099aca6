package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"nifty-insight-server/internal/market"
)

// ============================================================================
// MARKET DATA HANDLERS
// ============================================================================

// parseTimeParam accepts RFC 3339 timestamps or bare dates.
func parseTimeParam(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

// handleCurrentPrice returns the latest quote with change versus the
// previous close when available.
func (s *Server) handleCurrentPrice(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	quote, err := market.BuildQuote(c.Request.Context(), s.provider, symbol)
	if err != nil {
		errorResponse(c, http.StatusNotFound, "Price not available")
		return
	}

	successResponse(c, quote)
}

// handleGetCandles returns OHLCV history. When no range is given it
// covers the most recent limit candles.
func (s *Server) handleGetCandles(c *gin.Context) {
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

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	interval, err := market.TimeframeDuration(timeframe)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	end := time.Now().UTC()
	if raw := c.Query("to"); raw != "" {
		end, err = parseTimeParam(raw)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "to must be an RFC 3339 timestamp or YYYY-MM-DD date")
			return
		}
	}

	start := end.Add(-time.Duration(limit) * interval)
	if raw := c.Query("from"); raw != "" {
		start, err = parseTimeParam(raw)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "from must be an RFC 3339 timestamp or YYYY-MM-DD date")
			return
		}
	}

	candles, err := s.provider.Candles(c.Request.Context(), symbol, timeframe, start, end, limit)
	if err != nil || len(candles) == 0 {
		errorResponse(c, http.StatusNotFound, "No candles found")
		return
	}

	successResponse(c, gin.H{
		"symbol":    symbol,
		"timeframe": timeframe,
		"candles":   candles,
	})
}
