package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// openAPIDoc is the public description of the API surface. Kept inline so
// the binary is self-describing without shipping extra files.
const openAPIDoc = `{
  "openapi": "3.0.3",
  "info": {
    "title": "offsetpool API",
    "description": "Payment-and-retirement orchestrator for ecological credits.",
    "version": "1.0.0"
  },
  "paths": {
    "/healthz": {"get": {"summary": "Liveness check", "responses": {"200": {"description": "ok"}}}},
    "/api/v1/retirements": {"post": {"summary": "Execute a retirement; always answers with success or a marketplace fallback"}},
    "/api/v1/contributions": {"post": {"summary": "Record a pool contribution (idempotent on external_event_id)"}},
    "/api/v1/pool/months/{month}": {"get": {"summary": "Monthly pool summary"}},
    "/api/v1/pool/users/{id}": {"get": {"summary": "Contributor summary"}},
    "/api/v1/pool/sync": {"post": {"summary": "Ingest paid gateway invoices into the pool"}},
    "/api/v1/batches": {"post": {"summary": "Run a monthly batch retirement (dry_run gates live)"}, "get": {"summary": "List batch executions"}},
    "/api/v1/batches/{month}": {"get": {"summary": "Batch executions for a month"}},
    "/api/v1/reconciliations": {"post": {"summary": "Sync-then-batch pipeline"}, "get": {"summary": "List reconciliation runs"}},
    "/api/v1/auth/email/start": {"post": {"summary": "Start email verification"}},
    "/api/v1/auth/email/verify": {"post": {"summary": "Verify an emailed code"}},
    "/api/v1/auth/oauth/start": {"post": {"summary": "Start oauth verification"}},
    "/api/v1/auth/oauth/verify": {"post": {"summary": "Complete oauth verification"}},
    "/api/v1/auth/recovery/start": {"post": {"summary": "Mint a single-use recovery token"}},
    "/api/v1/auth/recovery/redeem": {"post": {"summary": "Redeem a recovery token"}},
    "/api/v1/auth/sessions/{id}": {"get": {"summary": "Read a session (materializes expiry)"}},
    "/api/v1/auth/sessions/{id}/link": {"post": {"summary": "Link a verified session to a user"}},
    "/api/v1/account": {"get": {"summary": "Prepaid account"}},
    "/api/v1/account/transactions": {"get": {"summary": "Prepaid balance history"}},
    "/api/v1/dashboard/months/{month}": {"get": {"summary": "Dashboard month view"}},
    "/api/v1/dashboard/users/{id}": {"get": {"summary": "Dashboard contributor view"}},
    "/certificates/{id}": {"get": {"summary": "Certificate read model (JSON)"}},
    "/certificates/{id}/html": {"get": {"summary": "Escaped certificate fragment"}},
    "/webhooks/stripe": {"post": {"summary": "Checkout-completed webhook (signature required when configured)"}}
  }
}`

// OpenAPI serves the API document. This route is public.
func OpenAPI(c echo.Context) error {
	return c.JSONBlob(http.StatusOK, []byte(openAPIDoc))
}
