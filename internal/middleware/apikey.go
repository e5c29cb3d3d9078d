package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/prepaid"
)

// Context keys set by APIKeyAuth for downstream handlers.
const (
	ContextUser   = "api_user"
	ContextUserID = "api_user_id"
)

// UsageRecorder appends one API request for billing after the response is
// written. Implemented by the prepaid balance repo.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, userID uint64, route string, status int) error
}

// APIKeyAuth validates the Authorization bearer API key against the prepaid
// store and injects the resolved user into the request context. Usage is
// recorded after the response so billing sees the final status code.
func APIKeyAuth(users *prepaid.UserRepo, usage UsageRecorder, log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{
					"error": echo.Map{"code": "UNAUTHORIZED", "message": "missing bearer API key"},
				})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
			defer cancel()
			user, err := users.GetByAPIKey(ctx, raw)
			if err != nil {
				if err == prepaid.ErrNotFound {
					return c.JSON(http.StatusUnauthorized, echo.Map{
						"error": echo.Map{"code": "UNAUTHORIZED", "message": "invalid API key"},
					})
				}
				return c.JSON(http.StatusInternalServerError, echo.Map{
					"error": echo.Map{"code": "INTERNAL_ERROR", "message": "auth lookup failed"},
				})
			}
			c.Set(ContextUser, user)
			c.Set(ContextUserID, user.ID)

			err = next(c)

			if usage != nil {
				route := c.Request().Method + " " + c.Path()
				status := c.Response().Status
				if rerr := usage.RecordUsage(c.Request().Context(), user.ID, route, status); rerr != nil {
					log.Warn().Err(rerr).Uint64("user", user.ID).Msg("usage record failed")
				}
			}
			return err
		}
	}
}

// CurrentUser returns the authenticated prepaid user from the context.
func CurrentUser(c echo.Context) (model.User, bool) {
	u, ok := c.Get(ContextUser).(model.User)
	return u, ok
}
