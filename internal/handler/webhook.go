package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/gateway"
	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/pool"
	"github.com/offsetpool/offsetpool/internal/prepaid"
	"github.com/offsetpool/offsetpool/internal/queue"
)

// WebhookHandler consumes the gateway's checkout-completed events: verify
// the signature, find or create the user, credit the prepaid balance, and
// record a pool contribution keyed on the event id so replays are no-ops.
type WebhookHandler struct {
	Secret    string // empty disables signature verification (dev only)
	Users     *prepaid.UserRepo
	Balances  *prepaid.BalanceRepo
	Pool      *pool.Store
	Publisher *queue.Publisher // may be nil
	Log       zerolog.Logger
}

func NewWebhookHandler(secret string, users *prepaid.UserRepo, balances *prepaid.BalanceRepo, st *pool.Store, pub *queue.Publisher, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		Secret:    secret,
		Users:     users,
		Balances:  balances,
		Pool:      st,
		Publisher: pub,
		Log:       log.With().Str("component", "webhook").Logger(),
	}
}

// HandleStripe processes one webhook delivery.
func (h *WebhookHandler) HandleStripe(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "unreadable payload")
	}
	if h.Secret != "" {
		sig := c.Request().Header.Get("Stripe-Signature")
		if err := gateway.VerifyWebhookSignature(payload, sig, h.Secret); err != nil {
			h.Log.Warn().Err(err).Msg("webhook signature rejected")
			return fail(c, http.StatusUnauthorized, CodeUnauthorized, "invalid signature")
		}
	}

	ev, err := gateway.ParseCheckoutCompleted(payload)
	if err != nil {
		return failWith(c, http.StatusBadRequest, CodeInvalidRequest, "invalid event", err.Error())
	}
	if ev == nil {
		// Other event types are acknowledged and ignored.
		return c.JSON(http.StatusOK, echo.Map{"received": true})
	}
	if ev.CustomerEmail == "" || ev.AmountTotal <= 0 {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "checkout event missing email or amount")
	}

	ctx := c.Request().Context()
	if h.Users == nil || h.Balances == nil {
		return fail(c, http.StatusServiceUnavailable, CodeServiceUnavailable, "prepaid store not configured")
	}
	user, _, err := h.Users.GetOrCreateByEmail(ctx, ev.CustomerEmail, ev.Customer)
	if err != nil {
		return fail(c, http.StatusInternalServerError, CodeInternalError, "user lookup failed")
	}

	// Dedupe before touching the balance: the contribution ledger is the
	// replay authority for checkout events.
	res, err := h.Pool.RecordContribution(pool.RecordInput{
		CustomerID:      ev.Customer,
		Email:           ev.CustomerEmail,
		AmountUsdCents:  ev.AmountTotal,
		ContributedAt:   time.Now().UTC().Format(time.RFC3339),
		Source:          model.SourceOneOff,
		ExternalEventID: "stripe_checkout:" + ev.ID,
		Metadata:        map[string]string{"checkout_session": ev.ID},
	})
	if err != nil {
		return failWith(c, http.StatusBadRequest, CodeInvalidRequest, "contribution rejected", err.Error())
	}
	if res.Duplicate {
		h.Log.Info().Str("event", ev.ID).Msg("webhook replay ignored")
		return c.JSON(http.StatusOK, echo.Map{"received": true, "duplicate": true})
	}

	if err := h.Balances.Credit(ctx, user.ID, ev.AmountTotal, ev.ID, "checkout topup"); err != nil {
		// The contribution is recorded; the credit retry is an operator
		// action surfaced through logs.
		h.Log.Error().Err(err).Uint64("user", user.ID).Str("event", ev.ID).Msg("balance credit failed")
		return fail(c, http.StatusInternalServerError, CodeInternalError, "balance credit failed")
	}
	if h.Publisher != nil {
		h.Publisher.ContributionRecorded(ctx, res.Record.ID, res.Record.UserID,
			res.Record.AmountUsdCents, res.Record.Month, res.Record.Source)
	}
	h.Log.Info().Str("event", ev.ID).Uint64("user", user.ID).Int64("cents", ev.AmountTotal).
		Msg("checkout credited")
	return c.JSON(http.StatusOK, echo.Map{"received": true, "duplicate": false})
}
