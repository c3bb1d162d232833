package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"vidvault/internal/distribute"
	"vidvault/internal/storage"
	"vidvault/internal/transcode"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func encodeJSON(payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return data, nil
}

func errMethodNotAllowed(method string) error {
	return fmt.Errorf("method %s not allowed", method)
}

// writeMappedError translates the error taxonomy onto HTTP statuses.
func writeMappedError(w http.ResponseWriter, err error) {
	switch {
	case storage.IsValidation(err):
		writeError(w, http.StatusBadRequest, err)
	case storage.IsNotFound(err):
		writeError(w, http.StatusNotFound, err)
	case isUpstreamError(err):
		writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, transcode.ErrToolUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func isUpstreamError(err error) bool {
	var upstream *distribute.UpstreamProviderError
	return errors.As(err, &upstream)
}
