package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"clob-market-data/internal/database"
	"clob-market-data/internal/market"
)

// All REST responses share the {success, data|error} envelope.

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, market.ErrSymbolUnknown), errors.Is(err, database.ErrBadInterval):
		status = http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func respondBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

func queryInt(c *gin.Context, name string, def int) int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func queryInt64(c *gin.Context, name string) int64 {
	if v := c.Query(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func (s *Server) handlePairs(c *gin.Context) {
	pairs, err := s.service.Pairs(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, pairs)
}

func (s *Server) handleCurrencies(c *gin.Context) {
	currencies, err := s.service.Currencies(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, currencies)
}

func (s *Server) handleCurrency(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		respondBadRequest(c, "address is required")
		return
	}
	currency, err := s.service.Currency(c.Request.Context(), address)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, currency)
}

func (s *Server) handleTickerPrice(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		respondBadRequest(c, "symbol is required")
		return
	}
	price, err := s.service.TickerPrice(c.Request.Context(), symbol)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, price)
}

func (s *Server) handleTicker24hr(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		respondBadRequest(c, "symbol is required")
		return
	}
	ticker, err := s.service.Ticker24hr(c.Request.Context(), symbol)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, ticker)
}

func (s *Server) handleDepth(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		respondBadRequest(c, "symbol is required")
		return
	}
	depth, err := s.service.Depth(c.Request.Context(), symbol, queryInt(c, "limit", 100))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, depth)
}

func (s *Server) handleTrades(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		respondBadRequest(c, "symbol is required")
		return
	}
	trades, err := s.service.Trades(c.Request.Context(), symbol, c.Query("user"), queryInt(c, "limit", 100))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, trades)
}

func (s *Server) handleKlines(c *gin.Context) {
	symbol := c.Query("symbol")
	interval := c.Query("interval")
	if symbol == "" || interval == "" {
		respondBadRequest(c, "symbol and interval are required")
		return
	}
	klines, err := s.service.Klines(c.Request.Context(), symbol, interval,
		queryInt(c, "limit", 500), queryInt64(c, "startTime"), queryInt64(c, "endTime"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, klines)
}

func (s *Server) handleOpenOrders(c *gin.Context) {
	symbol := c.Query("symbol")
	address := c.Query("address")
	if symbol == "" || address == "" {
		respondBadRequest(c, "symbol and address are required")
		return
	}
	orders, err := s.service.OpenOrders(c.Request.Context(), symbol, address)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, orders)
}

func (s *Server) handleAllOrders(c *gin.Context) {
	symbol := c.Query("symbol")
	address := c.Query("address")
	if symbol == "" || address == "" {
		respondBadRequest(c, "symbol and address are required")
		return
	}
	orders, err := s.service.AllOrders(c.Request.Context(), symbol, address, queryInt(c, "limit", 500))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, orders)
}

func (s *Server) handleAccount(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		respondBadRequest(c, "address is required")
		return
	}
	balances, err := s.service.Account(c.Request.Context(), address)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, balances)
}
