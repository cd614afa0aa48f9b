package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/ledger"
	"server/internal/middleware"
	"server/internal/service"
	"server/internal/storage"
)

type App struct {
	Service *service.JobService
	Ledger  *ledger.Ledger
	Jobs    domain.JobRepository
	Store   storage.Store
	Logger  zerolog.Logger

	JWTSecret      string
	MaxUploadBytes int64
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// domainError translates ledger/job sentinel errors into HTTP responses.
// Unrecognized errors become a 500 and get logged.
func (a *App) domainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrInsufficientCredit):
		a.error(w, http.StatusPaymentRequired, "insufficient_credit", "no usable credit for this identity")
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusForbidden, "forbidden", "not entitled to this resource")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrExpired):
		a.error(w, http.StatusGone, "expired", "artifact retention window has passed")
	case errors.Is(err, domain.ErrQueueUnavailable):
		a.error(w, http.StatusServiceUnavailable, "queue_unavailable", "job accepted but not dispatched, retry later")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("handler: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
