package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/offsetpool/offsetpool/internal/dashboard"
)

// DashboardHandler serves beneficiary-facing projections.
type DashboardHandler struct {
	Projection *dashboard.Projection
}

func NewDashboardHandler(p *dashboard.Projection) *DashboardHandler {
	return &DashboardHandler{Projection: p}
}

// Month returns a month's summary and executions.
func (h *DashboardHandler) Month(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Projection.Month(c.Param("month")))
}

// User returns a contributor's history and attributed retirements.
func (h *DashboardHandler) User(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Projection.User(c.Param("id")))
}

// Certificate returns the certificate read model as JSON.
func (h *DashboardHandler) Certificate(c echo.Context) error {
	cert, err := h.Projection.Certificate(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, dashboard.ErrNotFound) {
			return fail(c, http.StatusNotFound, CodeNotFound, "no retirement found; the indexer may still be catching up")
		}
		return failWith(c, http.StatusServiceUnavailable, CodeServiceUnavailable, "certificate lookup failed", err.Error())
	}
	return c.JSON(http.StatusOK, cert)
}

// CertificateHTML returns the escaped certificate fragment for template
// collaborators.
func (h *DashboardHandler) CertificateHTML(c echo.Context) error {
	cert, err := h.Projection.Certificate(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, dashboard.ErrNotFound) {
			return fail(c, http.StatusNotFound, CodeNotFound, "no retirement found")
		}
		return fail(c, http.StatusServiceUnavailable, CodeServiceUnavailable, "certificate lookup failed")
	}
	html, err := dashboard.RenderCertificateHTML(cert)
	if err != nil {
		return fail(c, http.StatusInternalServerError, CodeInternalError, "render failed")
	}
	return c.HTML(http.StatusOK, html)
}
