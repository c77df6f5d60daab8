package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

func (s *Server) status(c *gin.Context) {
	sys, err := s.store.GetSystemConfig(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"kill_switch":    sys.KillSwitch,
		"trade_notional": sys.TradeNotional,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) listDeals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	deals, err := s.store.ListRecentDeals(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deals": deals})
}

func (s *Server) getDeal(c *gin.Context) {
	d, err := s.store.GetDeal(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "deal not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) listDealOrders(c *gin.Context) {
	orders, err := s.store.ListOrdersByDeal(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) listOrders(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		orders []db.Order
		err    error
	)
	if c.Query("outstanding") == "true" {
		orders, err = s.store.ListOutstandingOrders(ctx)
	} else {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		orders, err = s.store.ListRecentOrders(ctx, limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) listStrategies(c *gin.Context) {
	configs, err := s.store.ListStrategyConfigs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": configs})
}

// strategyByParam resolves the :id route param to a config, writing the
// error response itself when that fails.
func (s *Server) strategyByParam(c *gin.Context) *db.StrategyConfig {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad strategy id"})
		return nil
	}
	cfg, err := s.store.GetStrategyConfig(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return nil
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil
	}
	return cfg
}

func (s *Server) suspendStrategy(c *gin.Context) {
	cfg := s.strategyByParam(c)
	if cfg == nil {
		return
	}
	if err := s.lifecycle.SuspendOrdering(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "suspended"})
}

func (s *Server) resumeStrategy(c *gin.Context) {
	cfg := s.strategyByParam(c)
	if cfg == nil {
		return
	}
	if err := s.lifecycle.Resume(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (s *Server) deactivateStrategy(c *gin.Context) {
	cfg := s.strategyByParam(c)
	if cfg == nil {
		return
	}
	if err := s.lifecycle.Deactivate(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

func (s *Server) updateStrategyParams(c *gin.Context) {
	cfg := s.strategyByParam(c)
	if cfg == nil {
		return
	}
	var params json.RawMessage
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON params object"})
		return
	}
	if err := s.lifecycle.ApplyParamsUpdate(c.Request.Context(), cfg, params); err != nil {
		if common.IsValidation(err) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) accountBalances(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad account id"})
		return
	}
	balances, err := s.balances.Balances(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

func (s *Server) metricsSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

type killSwitchRequest struct {
	Engaged *bool `json:"engaged" binding:"required"`
}

func (s *Server) setKillSwitch(c *gin.Context) {
	var req killSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "engaged (bool) required"})
		return
	}
	if err := s.store.SetKillSwitch(c.Request.Context(), *req.Engaged); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kill_switch": *req.Engaged})
}

type notionalRequest struct {
	Notional float64 `json:"notional" binding:"required,gt=0"`
}

func (s *Server) setTradeNotional(c *gin.Context) {
	var req notionalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "notional (positive number) required"})
		return
	}
	if err := s.store.SetTradeNotional(c.Request.Context(), req.Notional); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade_notional": req.Notional})
}
