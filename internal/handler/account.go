package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/offsetpool/offsetpool/internal/middleware"
	"github.com/offsetpool/offsetpool/internal/prepaid"
)

// AccountHandler serves the authenticated user's prepaid account.
type AccountHandler struct {
	Balances *prepaid.BalanceRepo
}

func NewAccountHandler(b *prepaid.BalanceRepo) *AccountHandler {
	return &AccountHandler{Balances: b}
}

// Get returns the account's balance and identity.
func (h *AccountHandler) Get(c echo.Context) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return fail(c, http.StatusUnauthorized, CodeUnauthorized, "no authenticated user")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":            user.ID,
		"email":         user.Email,
		"balance_cents": user.BalanceCents,
		"created_at":    user.CreatedAt,
	})
}

// Transactions returns the account's balance history.
func (h *AccountHandler) Transactions(c echo.Context) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return fail(c, http.StatusUnauthorized, CodeUnauthorized, "no authenticated user")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	txns, err := h.Balances.ListTransactions(c.Request().Context(), user.ID, limit)
	if err != nil {
		return fail(c, http.StatusInternalServerError, CodeInternalError, "transaction read failed")
	}
	return c.JSON(http.StatusOK, txns)
}
