package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/offsetpool/offsetpool/internal/auth"
	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/utils"
)

// AuthHandler bundles dependencies for the identity-verification endpoints.
type AuthHandler struct {
	Service   *auth.Service
	JWTSecret string
	TokenTTL  time.Duration
}

func NewAuthHandler(svc *auth.Service, jwtSecret string, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{Service: svc, JWTSecret: jwtSecret, TokenTTL: tokenTTL}
}

// ----- DTOs -----

type startEmailReq struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}
type verifyEmailReq struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}
type startOAuthReq struct {
	Provider string `json:"provider"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}
type verifyOAuthReq struct {
	SessionID  string `json:"session_id"`
	StateToken string `json:"state_token"`
	Provider   string `json:"provider"`
	Subject    string `json:"subject"`
	Email      string `json:"email"`
}
type recoveryStartReq struct {
	Email string `json:"email"`
}
type recoveryRedeemReq struct {
	Token string `json:"token"`
}
type linkReq struct {
	UserID string `json:"user_id"`
}

type sessionResp struct {
	Session model.AuthSession `json:"session"`
	// DashboardToken is set when the session just verified.
	DashboardToken string     `json:"dashboard_token,omitempty"`
	TokenExpires   *time.Time `json:"token_expires,omitempty"`
}

// sanitize strips verification material before a session leaves the API.
func sanitize(s model.AuthSession) model.AuthSession {
	s.EmailCodeHash = ""
	s.OAuthStateToken = ""
	return s
}

// StartEmail begins an email challenge.
func (h *AuthHandler) StartEmail(c echo.Context) error {
	var req startEmailReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
	}
	sess, err := h.Service.StartEmailAuth(c.Request().Context(), req.Email, req.Name)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidInput) {
			return failWith(c, http.StatusBadRequest, CodeInvalidRequest, "invalid request", err.Error())
		}
		return fail(c, http.StatusInternalServerError, CodeInternalError, "could not start verification")
	}
	return c.JSON(http.StatusCreated, sessionResp{Session: sanitize(sess)})
}

// VerifyEmail checks the emailed code. Wrong codes burn attempts and are
// reported with the running attempt count; a locked session stays locked.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req verifyEmailReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
	}
	sess, err := h.Service.VerifyEmailAuth(req.SessionID, req.Code)
	if err != nil {
		return h.verificationError(c, sess, err)
	}
	return h.verified(c, sess)
}

// StartOAuth begins an oauth challenge; the response carries the signed
// state token the client must thread through the provider dance.
func (h *AuthHandler) StartOAuth(c echo.Context) error {
	var req startOAuthReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
	}
	sess, err := h.Service.StartOAuthAuth(req.Provider, req.Email, req.Name)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidInput) {
			return failWith(c, http.StatusBadRequest, CodeInvalidRequest, "invalid request", err.Error())
		}
		return fail(c, http.StatusInternalServerError, CodeInternalError, "could not start verification")
	}
	resp := sessionResp{Session: sess} // state token intentionally included here
	resp.Session.EmailCodeHash = ""
	return c.JSON(http.StatusCreated, resp)
}

// VerifyOAuth completes the oauth dance.
func (h *AuthHandler) VerifyOAuth(c echo.Context) error {
	var req verifyOAuthReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
	}
	sess, err := h.Service.VerifyOAuthAuth(req.SessionID, req.StateToken, req.Provider, req.Subject, req.Email)
	if err != nil {
		return h.verificationError(c, sess, err)
	}
	return h.verified(c, sess)
}

// GetSession reads a session; expiry is materialized by the read.
func (h *AuthHandler) GetSession(c echo.Context) error {
	sess, err := h.Service.GetSession(c.Param("id"))
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return fail(c, http.StatusNotFound, CodeNotFound, "session not found")
		}
		return fail(c, http.StatusInternalServerError, CodeInternalError, "session read failed")
	}
	return c.JSON(http.StatusOK, sessionResp{Session: sanitize(sess)})
}

// StartRecovery mints a recovery token for the most recent verified session.
func (h *AuthHandler) StartRecovery(c echo.Context) error {
	var req recoveryStartReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
	}
	token, rec, err := h.Service.StartRecovery(req.Email)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidInput) || errors.Is(err, auth.ErrRecoveryFailed) {
			return failWith(c, http.StatusBadRequest, CodeInvalidRequest, "recovery not available", err.Error())
		}
		return fail(c, http.StatusInternalServerError, CodeInternalError, "recovery failed")
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"token":      token,
		"expires_at": rec.ExpiresAt,
	})
}

// RedeemRecovery consumes a recovery token and returns the fresh verified
// session.
func (h *AuthHandler) RedeemRecovery(c echo.Context) error {
	var req recoveryRedeemReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
	}
	sess, err := h.Service.RecoverWithToken(req.Token)
	if err != nil {
		return failWith(c, http.StatusBadRequest, CodeVerificationFailed, "recovery failed", err.Error())
	}
	return h.verified(c, sess)
}

// Link binds a verified session to an opaque user id.
func (h *AuthHandler) Link(c echo.Context) error {
	var req linkReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
	}
	if err := h.Service.LinkSessionToUser(c.Param("id"), req.UserID); err != nil {
		switch {
		case errors.Is(err, auth.ErrNotFound):
			return fail(c, http.StatusNotFound, CodeNotFound, "session not found")
		case errors.Is(err, auth.ErrInvalidInput):
			return failWith(c, http.StatusBadRequest, CodeInvalidRequest, "cannot link", err.Error())
		default:
			return fail(c, http.StatusInternalServerError, CodeInternalError, "link failed")
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// verified answers a just-verified session with a dashboard JWT.
func (h *AuthHandler) verified(c echo.Context, sess model.AuthSession) error {
	tok, err := utils.NewDashboardToken(h.JWTSecret, sess.ID, sess.LinkedUserID, sess.BeneficiaryEmail, h.TokenTTL)
	if err != nil {
		return fail(c, http.StatusInternalServerError, CodeInternalError, "token issue failed")
	}
	return c.JSON(http.StatusOK, sessionResp{
		Session:        sanitize(sess),
		DashboardToken: tok.Token,
		TokenExpires:   &tok.Exp,
	})
}

// verificationError maps service errors to the envelope, exposing attempt
// counts so clients can show remaining tries.
func (h *AuthHandler) verificationError(c echo.Context, sess model.AuthSession, err error) error {
	switch {
	case errors.Is(err, auth.ErrNotFound):
		return fail(c, http.StatusNotFound, CodeNotFound, "session not found")
	case errors.Is(err, auth.ErrSessionLocked):
		return failWith(c, http.StatusBadRequest, CodeVerificationFailed, "session locked", echo.Map{
			"locked":   true,
			"attempts": sess.VerificationAttempts,
		})
	case errors.Is(err, auth.ErrVerificationFailed):
		return failWith(c, http.StatusBadRequest, CodeVerificationFailed, "verification failed", echo.Map{
			"locked":       false,
			"attempts":     sess.VerificationAttempts,
			"max_attempts": sess.MaxVerificationAttempts,
		})
	case errors.Is(err, auth.ErrSessionNotPending):
		return failWith(c, http.StatusBadRequest, CodeVerificationFailed, "session is not pending", sess.Status)
	case errors.Is(err, auth.ErrInvalidInput):
		return failWith(c, http.StatusBadRequest, CodeInvalidRequest, "invalid request", err.Error())
	default:
		return fail(c, http.StatusInternalServerError, CodeInternalError, "verification failed")
	}
}
