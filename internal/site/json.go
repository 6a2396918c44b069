package site

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/zettelstack/internal/apperr"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, apperr.ErrAlreadyOpen):
		status, msg = http.StatusConflict, "note already open"
	case errors.Is(err, apperr.ErrMalformedAddress):
		status, msg = http.StatusBadRequest, "malformed address"
	case errors.Is(err, apperr.ErrNotWired):
		status, msg = http.StatusUnprocessableEntity, "link is not a note link"
	case errors.Is(err, apperr.ErrMalformedContent), errors.Is(err, apperr.ErrFetchFailed):
		status, msg = http.StatusBadGateway, "note content unavailable"
	}
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorBody(msg))
}
