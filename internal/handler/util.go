package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/conseiller-portal/messagerie/internal/backend"
	natsclient "github.com/conseiller-portal/messagerie/internal/nats"
	"github.com/conseiller-portal/messagerie/internal/service"
	"github.com/conseiller-portal/messagerie/pkg/logger"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeServiceError maps a service or store failure to a status. A store
// outage is a 503 so the portal offers a retry.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, natsclient.ErrStoreUnavailable):
		log.Error("chat store unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "chat store unavailable, please retry")
	case errors.Is(err, natsclient.ErrInvalidID),
		errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrNoRecipient):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, backend.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "session expired")
	case errors.Is(err, backend.ErrNotFound):
		writeError(w, http.StatusNotFound, "beneficiaire not found")
	default:
		log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
