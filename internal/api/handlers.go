package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/alert"
	"crypto-alerts/internal/evaluator"
	"crypto-alerts/internal/storage"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type listResponse struct {
	Alerts []alert.Record `json:"alerts"`
	Count  int            `json:"count"`
}

type rsiValue struct {
	Value         float64 `json:"value"`
	PreviousValue float64 `json:"previous_value"`
	HasPrevious   bool    `json:"has_previous"`
	Trend         string  `json:"trend"`
	Zone          string  `json:"zone"`
}

type valueResponse struct {
	ID       string                     `json:"id"`
	Kind     alert.Kind                 `json:"kind"`
	Result   evaluator.Result           `json:"result"`
	Value    *decimal.Decimal           `json:"value,omitempty"`
	Prices   map[string]decimal.Decimal `json:"prices,omitempty"`
	RSI      *rsiValue                  `json:"rsi,omitempty"`
	Crossing evaluator.Crossing         `json:"crossing,omitempty"`
	Error    string                     `json:"error,omitempty"`
}

func (s *Server) handleCreatePriceAlert(c *gin.Context) {
	var def alert.PriceDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	a, err := def.Build(s.newID(), s.now())
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.create(c, a)
}

func (s *Server) handleCreateIndicatorAlert(c *gin.Context) {
	var def alert.IndicatorDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	a, err := def.Build(s.newID(), s.now())
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.create(c, a)
}

func (s *Server) create(c *gin.Context, a alert.Alert) {
	if err := s.repo.CreateAlert(c.Request.Context(), a); err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Info().Str("alert_id", a.ID).Str("kind", string(a.Kind)).Msg("alert created")
	c.JSON(http.StatusCreated, a.ToRecord())
}

func (s *Server) handleListAlerts(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	alerts, err := s.repo.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	resp := listResponse{Alerts: make([]alert.Record, 0, len(alerts)), Count: len(alerts)}
	for _, a := range alerts {
		resp.Alerts = append(resp.Alerts, a.ToRecord())
	}
	c.JSON(http.StatusOK, resp)
}

// parseFilter maps ?type=price|indicator&symbol=&enabled= onto a storage filter.
// enabled=false matches both disabled and fired alerts.
func parseFilter(c *gin.Context) (storage.AlertFilter, error) {
	var filter storage.AlertFilter
	switch t := strings.ToLower(c.Query("type")); t {
	case "":
	case "price":
		filter.Kinds = []alert.Kind{alert.KindPriceSingle, alert.KindPriceRatio}
	case "indicator":
		filter.Kinds = []alert.Kind{alert.KindIndicatorRSI}
	default:
		return filter, &alert.ValidationError{Field: "type", Message: "type must be 'price' or 'indicator'"}
	}
	filter.Symbol = strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if raw := c.Query("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, &alert.ValidationError{Field: "enabled", Message: "enabled must be true or false"}
		}
		if enabled {
			filter.Statuses = []alert.Status{alert.StatusActive}
		} else {
			filter.Statuses = []alert.Status{alert.StatusDisabled, alert.StatusFired}
		}
	}
	return filter, nil
}

func (s *Server) handleGetAlert(c *gin.Context) {
	a, err := s.repo.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a.ToRecord())
}

func (s *Server) handleDeleteAlert(c *gin.Context) {
	id := c.Param("id")
	if err := s.repo.DeleteAlert(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Info().Str("alert_id", id).Msg("alert deleted")
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSetEnabled(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		a, err := s.repo.GetAlert(ctx, c.Param("id"))
		if err != nil {
			s.writeError(c, err)
			return
		}
		updated, err := a.SetEnabled(enabled)
		if err != nil {
			c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		if err := s.repo.UpdateAlert(ctx, updated); err != nil {
			s.writeError(c, err)
			return
		}
		s.logger.Info().Str("alert_id", a.ID).Bool("enabled", enabled).Msg("alert toggled")
		c.JSON(http.StatusOK, updated.ToRecord())
	}
}

func (s *Server) handleRearm(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := s.repo.GetAlert(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if a.Status != alert.StatusFired {
		c.JSON(http.StatusConflict, errorResponse{Error: "alert has not fired"})
		return
	}
	rearmed := a.Rearm()
	if err := s.repo.UpdateAlert(ctx, rearmed); err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Info().Str("alert_id", a.ID).Msg("alert re-armed")
	c.JSON(http.StatusOK, rearmed.ToRecord())
}

func (s *Server) handleAlertValue(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := s.repo.GetAlert(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if s.eval == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "market data not configured"})
		return
	}

	out := s.eval.Evaluate(ctx, a)
	resp := valueResponse{ID: a.ID, Kind: a.Kind, Result: out.Result, Crossing: out.Crossing}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	switch {
	case a.Indicator != nil:
		if out.Result != evaluator.DataUnavailable {
			cfg := a.Indicator.Config
			resp.RSI = &rsiValue{
				Value:         out.Sample.Value,
				PreviousValue: out.Sample.PreviousValue,
				HasPrevious:   out.Sample.HasPrevious,
				Trend:         string(out.Sample.Trend),
				Zone:          string(out.Sample.Zone(cfg.OverboughtLevel, cfg.OversoldLevel)),
			}
		}
	default:
		if out.Result != evaluator.DataUnavailable {
			q := out.Quantity
			resp.Value = &q
		}
		resp.Prices = out.Prices
	}

	status := http.StatusOK
	if out.Result == evaluator.DataUnavailable {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (s *Server) writeError(c *gin.Context, err error) {
	var verr *alert.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
	case errors.Is(err, alert.ErrInvalid):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: "alert not found"})
	case errors.Is(err, storage.ErrExists):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
