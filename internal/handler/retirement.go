package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/offsetpool/offsetpool/internal/identity"
	"github.com/offsetpool/offsetpool/internal/middleware"
	"github.com/offsetpool/offsetpool/internal/retirement"
)

// RetirementHandler exposes one-off retirements.
type RetirementHandler struct {
	Service *retirement.Service
}

func NewRetirementHandler(svc *retirement.Service) *RetirementHandler {
	return &RetirementHandler{Service: svc}
}

type retireReq struct {
	CreditType      string `json:"credit_type"`
	Quantity        string `json:"quantity"`
	BeneficiaryName string `json:"beneficiary_name"`
	Jurisdiction    string `json:"jurisdiction"`
	Reason          string `json:"reason"`
	Identity        struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Provider string `json:"provider"`
		Subject  string `json:"subject"`
	} `json:"identity"`
	UsePrepaidBalance bool `json:"use_prepaid_balance"`
}

// Retire executes one retirement for the authenticated user. The response
// is always 200 with a tagged result: a success payload or a marketplace
// fallback the caller can render.
func (h *RetirementHandler) Retire(c echo.Context) error {
	var req retireReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
	}
	if req.Quantity == "" {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "quantity is required")
	}
	attr, err := identity.CaptureIdentity(identity.CaptureInput{
		Name:     req.Identity.Name,
		Email:    req.Identity.Email,
		Provider: req.Identity.Provider,
		Subject:  req.Identity.Subject,
	})
	if err != nil {
		return failWith(c, http.StatusBadRequest, CodeInvalidRequest, "invalid identity", err.Error())
	}
	if req.Reason == "" {
		req.Reason = "Ecological credit retirement"
	}

	var prepaidUserID uint64
	if req.UsePrepaidBalance {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			return fail(c, http.StatusUnauthorized, CodeUnauthorized, "prepaid retirement requires an API key")
		}
		prepaidUserID = user.ID
	}

	res := h.Service.ExecuteRetirement(c.Request().Context(), retirement.Request{
		CreditType:      req.CreditType,
		Quantity:        req.Quantity,
		BeneficiaryName: req.BeneficiaryName,
		Jurisdiction:    req.Jurisdiction,
		Reason:          req.Reason,
		Identity:        attr,
		PrepaidUserID:   prepaidUserID,
	})
	return c.JSON(http.StatusOK, res)
}
