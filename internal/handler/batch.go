package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/offsetpool/offsetpool/internal/batch"
	"github.com/offsetpool/offsetpool/internal/model"
)

// BatchHandler exposes the monthly driver and its records.
type BatchHandler struct {
	Driver *batch.Driver
	Store  *batch.Store
	Recon  *batch.ReconStore
}

func NewBatchHandler(d *batch.Driver, s *batch.Store, r *batch.ReconStore) *BatchHandler {
	return &BatchHandler{Driver: d, Store: s, Recon: r}
}

type batchRunReq struct {
	Month         string `json:"month"`
	CreditType    string `json:"credit_type"`
	DryRun        bool   `json:"dry_run"`
	Reason        string `json:"reason"`
	PreflightOnly bool   `json:"preflight_only"`
	Force         bool   `json:"force"`
}

// Run executes a batch retirement (or dry run) for a month.
func (h *BatchHandler) Run(c echo.Context) error {
	var req batchRunReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
	}
	exec, err := h.Driver.Run(c.Request().Context(), batch.RunInput{
		Month:         req.Month,
		CreditType:    req.CreditType,
		DryRun:        req.DryRun,
		Reason:        req.Reason,
		PreflightOnly: req.PreflightOnly,
		Force:         req.Force,
	})
	if err != nil {
		if errors.Is(err, batch.ErrInvalidRequest) {
			return failWith(c, http.StatusBadRequest, CodeInvalidRequest, "invalid batch request", err.Error())
		}
		return fail(c, http.StatusInternalServerError, CodeInternalError, "batch run failed")
	}
	return c.JSON(http.StatusOK, exec)
}

// List returns all recorded executions.
func (h *BatchHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Store.List())
}

// ForMonth returns the executions for one month.
func (h *BatchHandler) ForMonth(c echo.Context) error {
	execs := h.Store.ForMonth(c.Param("month"), c.QueryParam("credit_type"))
	if execs == nil {
		execs = []model.BatchExecution{}
	}
	return c.JSON(http.StatusOK, execs)
}

type reconcileReq struct {
	Month         string `json:"month"`
	CreditType    string `json:"credit_type"`
	SyncScope     string `json:"sync_scope"`
	CustomerID    string `json:"customer_id"`
	Email         string `json:"email"`
	ExecutionMode string `json:"execution_mode"`
	PreflightOnly bool   `json:"preflight_only"`
	Force         bool   `json:"force"`
}

// Reconcile runs the sync-then-batch pipeline.
func (h *BatchHandler) Reconcile(c echo.Context) error {
	var req reconcileReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
	}
	if req.SyncScope == "" {
		req.SyncScope = model.SyncScopeNone
	}
	if req.ExecutionMode == "" {
		req.ExecutionMode = model.ExecutionModeDryRun
	}
	run, err := h.Driver.Reconcile(c.Request().Context(), batch.ReconcileInput{
		Month:         req.Month,
		CreditType:    req.CreditType,
		SyncScope:     req.SyncScope,
		CustomerID:    req.CustomerID,
		Email:         req.Email,
		ExecutionMode: req.ExecutionMode,
		PreflightOnly: req.PreflightOnly,
		Force:         req.Force,
	})
	if err != nil {
		if errors.Is(err, batch.ErrInvalidRequest) {
			return failWith(c, http.StatusBadRequest, CodeInvalidRequest, "invalid reconciliation request", err.Error())
		}
		return fail(c, http.StatusInternalServerError, CodeInternalError, "reconciliation failed")
	}
	return c.JSON(http.StatusOK, run)
}

// Reconciliations returns all recorded runs.
func (h *BatchHandler) Reconciliations(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Recon.List())
}
