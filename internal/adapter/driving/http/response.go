package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tolmanw/strava-auth-link/internal/domain/model"
)

// Stages reported on exchange endpoint failures.
const (
	stageAuthorize = "authorize"
	stageExchange  = "exchange"
	stagePersist   = "persist"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeExchangeError writes the exchange endpoint's error body. The message
// is repeated under "message" for browser clients that read that field.
func writeExchangeError(w http.ResponseWriter, status int, stage, message, athleteID string) {
	writeJSON(w, status, ExchangeErrorResponse{
		Error:     message,
		Message:   message,
		Stage:     stage,
		AthleteID: athleteID,
	})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// ExchangeResponse is returned after a successful code exchange.
type ExchangeResponse struct {
	RefreshToken string `json:"refresh_token"`
	Name         string `json:"name"`
	AthleteID    string `json:"athleteId"`
	Persisted    string `json:"persisted"`
}

// ExchangeErrorResponse tells the caller whether the exchange itself failed
// or the credential was obtained but not saved.
type ExchangeErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Stage     string `json:"stage"`
	AthleteID string `json:"athleteId,omitempty"`
}

// SyncAttemptResponse is the JSON representation of one sync audit entry.
type SyncAttemptResponse struct {
	ID              int64  `json:"id"`
	UserID          string `json:"user_id"`
	Policy          string `json:"policy"`
	Outcome         string `json:"outcome"`
	PreviousVersion string `json:"previous_version,omitempty"`
	Version         string `json:"version,omitempty"`
	Attempts        int    `json:"attempts"`
	Error           string `json:"error,omitempty"`
	StartedAt       string `json:"started_at"`
	DurationMS      int64  `json:"duration_ms"`
}

// HealthResponse is the JSON representation of the health check.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
	Mirror string `json:"mirror"`
	Policy string `json:"policy"`
}

func toSyncAttemptResponse(a model.SyncAttempt) SyncAttemptResponse {
	return SyncAttemptResponse{
		ID:              a.ID,
		UserID:          a.UserID,
		Policy:          string(a.Policy),
		Outcome:         string(a.Outcome),
		PreviousVersion: a.PreviousVersion,
		Version:         a.Version,
		Attempts:        a.Attempts,
		Error:           a.Error,
		StartedAt:       a.StartedAt.UTC().Format(time.RFC3339),
		DurationMS:      a.Duration.Milliseconds(),
	}
}
