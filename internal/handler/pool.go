package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/pool"
	"github.com/offsetpool/offsetpool/internal/queue"
	"github.com/offsetpool/offsetpool/internal/subsync"
)

// PoolHandler exposes contribution recording, aggregates and gateway sync.
type PoolHandler struct {
	Store     *pool.Store
	Sync      *subsync.Service // may be nil when no gateway is configured
	Publisher *queue.Publisher // may be nil
}

func NewPoolHandler(store *pool.Store, sync *subsync.Service, pub *queue.Publisher) *PoolHandler {
	return &PoolHandler{Store: store, Sync: sync, Publisher: pub}
}

type contributionReq struct {
	UserID          string            `json:"user_id"`
	CustomerID      string            `json:"customer_id"`
	Email           string            `json:"email"`
	AmountUsdCents  int64             `json:"amount_usd_cents"`
	ContributedAt   string            `json:"contributed_at"`
	Source          string            `json:"source"`
	ExternalEventID string            `json:"external_event_id"`
	TierID          string            `json:"tier_id"`
	Metadata        map[string]string `json:"metadata"`
}

type contributionResp struct {
	Contribution model.Contribution   `json:"contribution"`
	Duplicate    bool                 `json:"duplicate"`
	UserSummary  model.UserSummary    `json:"user_summary"`
	MonthSummary model.MonthlySummary `json:"month_summary"`
}

// RecordContribution appends a contribution. Replays keyed on the same
// external event id return the original record with duplicate=true and a
// 200, not an error.
func (h *PoolHandler) RecordContribution(c echo.Context) error {
	var req contributionReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
	}
	if req.Source == "" {
		req.Source = model.SourceOneOff
	}
	res, err := h.Store.RecordContribution(pool.RecordInput{
		UserID:          req.UserID,
		CustomerID:      req.CustomerID,
		Email:           req.Email,
		AmountUsdCents:  req.AmountUsdCents,
		ContributedAt:   req.ContributedAt,
		Source:          req.Source,
		ExternalEventID: req.ExternalEventID,
		TierID:          req.TierID,
		Metadata:        req.Metadata,
	})
	if err != nil {
		if errors.Is(err, pool.ErrInvalidInput) {
			return failWith(c, http.StatusBadRequest, CodeInvalidRequest, "invalid contribution", err.Error())
		}
		return fail(c, http.StatusInternalServerError, CodeInternalError, "record failed")
	}
	if !res.Duplicate && h.Publisher != nil {
		h.Publisher.ContributionRecorded(c.Request().Context(),
			res.Record.ID, res.Record.UserID, res.Record.AmountUsdCents,
			res.Record.Month, res.Record.Source)
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	return c.JSON(status, contributionResp{
		Contribution: res.Record,
		Duplicate:    res.Duplicate,
		UserSummary:  res.UserSummary,
		MonthSummary: res.MonthSummary,
	})
}

// MonthSummary returns one month's aggregates.
func (h *PoolHandler) MonthSummary(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Store.MonthlySummary(c.Param("month")))
}

// UserSummary returns one contributor's lifetime aggregates.
func (h *PoolHandler) UserSummary(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Store.UserSummary(c.Param("id")))
}

type syncReq struct {
	CustomerID   string `json:"customer_id"`
	Email        string `json:"email"`
	AllCustomers bool   `json:"all_customers"`
	Month        string `json:"month"`
	MaxPages     int    `json:"max_pages"`
}

// SyncSubscriptions ingests gateway invoices into the pool.
func (h *PoolHandler) SyncSubscriptions(c echo.Context) error {
	if h.Sync == nil {
		return fail(c, http.StatusServiceUnavailable, CodeServiceUnavailable, "no payment gateway configured")
	}
	var req syncReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
	}
	sum, err := h.Sync.Sync(c.Request().Context(), subsync.Request{
		CustomerID:   req.CustomerID,
		Email:        req.Email,
		AllCustomers: req.AllCustomers,
		Month:        req.Month,
		MaxPages:     req.MaxPages,
	})
	if err != nil {
		if errors.Is(err, subsync.ErrInvalidRequest) {
			return failWith(c, http.StatusBadRequest, CodeInvalidRequest, "invalid sync request", err.Error())
		}
		return failWith(c, http.StatusServiceUnavailable, CodeServiceUnavailable, "gateway sync failed", err.Error())
	}
	return c.JSON(http.StatusOK, sum)
}
