package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stormstack/thunder/pkg/errs"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("encoding http response")
	}
}

// errorEnvelope is the standard JSON error shape: {error, message, timestamp}.
type errorEnvelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// RespondError writes the standard error envelope, deriving the status
// and error code from err's *errs.Error kind when present.
func RespondError(w http.ResponseWriter, err error) {
	status := errs.StatusOf(err)
	code := string(errs.KindInternal)
	var e *errs.Error
	if errors.As(err, &e) {
		code = string(e.Kind)
	}
	Respond(w, status, errorEnvelope{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
