// Package httphandler is the HTTP driving adapter: the OAuth exchange
// endpoint, the admin credential and audit reads, and the health check.
package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tolmanw/strava-auth-link/internal/application"
	"github.com/tolmanw/strava-auth-link/internal/domain/model"
	"github.com/tolmanw/strava-auth-link/internal/domain/port/driven"
)

const (
	defaultAttemptLimit = 50
	maxAttemptLimit     = 500
)

// Exchanger runs the authorization code flow. *application.ExchangeService
// implements it.
type Exchanger interface {
	Exchange(ctx context.Context, code, requestID string) (*application.ExchangeResult, error)
	AuthorizeURL(state string) string
	Policy() model.PersistPolicy
}

// CredentialReader reads stored credentials. *application.Synchronizer
// implements it.
type CredentialReader interface {
	Credentials(ctx context.Context, source model.ReadSource) (model.CredentialMapping, error)
	MirrorEnabled() bool
	MirrorLocation() string
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	exchange Exchanger
	creds    CredentialReader
	audit    driven.SyncAttemptStore
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. audit may be
// nil, in which case the sync attempt listing is empty.
func NewHandler(
	exchange Exchanger,
	creds CredentialReader,
	audit driven.SyncAttemptStore,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		exchange: exchange,
		creds:    creds,
		audit:    audit,
		logger:   logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request ID, logging, CORS and recovery middleware.
func NewServeMux(h *Handler, gate *AdminGate, allowedOrigin string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /authorize", h.Authorize)
	mux.HandleFunc("GET /exchange-code", h.ExchangeCode)
	mux.HandleFunc("GET /tokens", gate.Protect(h.ListTokens))
	mux.HandleFunc("GET /api/v1/sync-attempts", gate.Protect(h.ListSyncAttempts))
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = corsMiddleware(allowedOrigin, wrapped)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// Authorize redirects the browser to the Strava consent page.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		state = uuid.NewString()
	}
	http.Redirect(w, r, h.exchange.AuthorizeURL(state), http.StatusFound)
}

// ExchangeCode trades the authorization code from the Strava redirect for a
// refresh token and persists it.
func (h *Handler) ExchangeCode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if denied := q.Get("error"); denied != "" {
		writeExchangeError(w, http.StatusBadRequest, stageAuthorize, "authorization denied: "+denied, "")
		return
	}

	code := q.Get("code")
	if code == "" {
		writeExchangeError(w, http.StatusBadRequest, stageExchange, "No code provided", "")
		return
	}

	requestID := RequestIDFromContext(r.Context())
	result, err := h.exchange.Exchange(r.Context(), code, requestID)
	if err != nil {
		h.handleExchangeError(w, requestID, err)
		return
	}

	writeJSON(w, http.StatusOK, ExchangeResponse{
		RefreshToken: result.RefreshToken,
		Name:         result.DisplayName,
		AthleteID:    result.AthleteID,
		Persisted:    string(result.Persisted),
	})
}

func (h *Handler) handleExchangeError(w http.ResponseWriter, requestID string, err error) {
	var persistErr *application.PersistError
	if errors.As(err, &persistErr) {
		status := http.StatusServiceUnavailable
		message := "credential obtained but could not be saved"
		if errors.Is(err, driven.ErrConflict) {
			status = http.StatusConflict
			message = "credential obtained but could not be saved: stored credentials changed concurrently, retry"
		}
		h.logger.Error("persist failed after exchange",
			"request_id", requestID,
			"athlete_id", persistErr.AthleteID,
			"outcome", application.ClassifyOutcome(err),
			"error", err,
		)
		writeExchangeError(w, status, stagePersist, message, persistErr.AthleteID)
		return
	}

	if errors.Is(err, driven.ErrExchangeRejected) {
		h.logger.Warn("authorization code rejected", "request_id", requestID, "error", err)
		writeExchangeError(w, http.StatusBadRequest, stageExchange, "Failed to get refresh token", "")
		return
	}

	h.logger.Error("exchange failed", "request_id", requestID, "error", err)
	writeExchangeError(w, http.StatusBadGateway, stageExchange, "Strava is unavailable", "")
}

// ListTokens returns the stored credential mapping from the local store or,
// with ?source=remote, from the remote mirror.
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	source, err := model.ParseReadSource(r.URL.Query().Get("source"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.creds.Credentials(r.Context(), source)
	if err != nil {
		h.logger.Error("failed to read credentials", "source", source, "error", err)
		switch {
		case errors.Is(err, application.ErrMirrorDisabled):
			writeError(w, http.StatusBadRequest, "remote mirror is not configured")
		case errors.Is(err, driven.ErrMalformedStore):
			writeError(w, http.StatusInternalServerError, "stored credentials are malformed")
		case errors.Is(err, driven.ErrRemoteUnreachable), errors.Is(err, driven.ErrRemoteRejected):
			writeError(w, http.StatusBadGateway, "remote mirror unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// ListSyncAttempts returns the most recent sync audit entries.
func (h *Handler) ListSyncAttempts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAttemptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAttemptLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	resp := make([]SyncAttemptResponse, 0)
	if h.audit != nil {
		attempts, err := h.audit.ListRecent(r.Context(), limit)
		if err != nil {
			h.logger.Error("failed to list sync attempts", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		for _, a := range attempts {
			resp = append(resp, toSyncAttemptResponse(a))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	mirror := "disabled"
	if h.creds.MirrorEnabled() {
		mirror = h.creds.MirrorLocation()
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
		Mirror: mirror,
		Policy: string(h.exchange.Policy()),
	})
}
