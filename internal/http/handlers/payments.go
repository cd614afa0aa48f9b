package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"server/internal/domain"
	"server/internal/middleware"
)

type paymentWebhookRequest struct {
	EventID  string `json:"event_id"`
	Identity string `json:"identity"`
	Product  string `json:"product"`
}

// sessionTokenTTL bounds the token minted after a confirmed payment. The
// entitlement itself lives in the ledger, so an expired token only forces a
// re-issue, never a loss of credit.
const sessionTokenTTL = 30 * 24 * time.Hour

// PaymentsWebhook applies a confirmed payment event to the credit ledger.
// Redelivered events are acknowledged without granting credit twice.
func (a *App) PaymentsWebhook(w http.ResponseWriter, r *http.Request) {
	var req paymentWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.EventID == "" || req.Identity == "" || req.Product == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "event_id, identity and product required")
		return
	}

	event := domain.PaymentEvent{EventID: req.EventID, OwnerIdentity: req.Identity, Product: req.Product}
	entry, err := a.Ledger.ApplyConfirmedPayment(r.Context(), event)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			a.Logger.Info().Str("event_id", req.EventID).Msg("payments: duplicate event acknowledged")
			a.json(w, http.StatusOK, map[string]any{"status": "duplicate"})
			return
		}
		a.domainError(w, r, err)
		return
	}

	token, err := middleware.SignJWT(a.JWTSecret, middleware.TokenClaims{
		Sub:    req.Identity,
		Exp:    time.Now().Add(sessionTokenTTL).Unix(),
		Issuer: "optimizer-api",
	})
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"status":        "applied",
		"credit_kind":   string(entry.Kind),
		"session_token": token,
	})
}
