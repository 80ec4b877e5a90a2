package api

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/fleetcore/pkg/log"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Logger.Error().Err(err).Msg("encoding response")
	}
}

// ErrorResponse is the JSON envelope for a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondError writes err's message under the status code statusForError
// maps it to.
func RespondError(w http.ResponseWriter, err error) {
	Respond(w, statusForError(err), ErrorResponse{Error: err.Error()})
}
