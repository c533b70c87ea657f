package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"vibin_realtime/middleware"
	"vibin_realtime/services"
	"vibin_realtime/store"
)

// requestTimeout bounds the storage work behind one request.
const requestTimeout = 5 * time.Second

// HealthCheckHandler provides a basic health check
func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// WelcomeHandler provides a welcome message
func WelcomeHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Welcome to Vibin"})
}

func writeJSONResponse(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.S().Errorf("❌ Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSONResponse(w, status, map[string]string{"error": message})
}

// writeServiceError maps service sentinels onto HTTP statuses. Anything
// unrecognised is logged and reported as a 500 without details.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidPair), errors.Is(err, services.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrBlocked),
		errors.Is(err, services.ErrNotParticipant),
		errors.Is(err, services.ErrNotRecipient):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrInterestNotFound),
		errors.Is(err, services.ErrMessageNotFound),
		errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, store.ErrConditionFailed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zap.S().Errorf("❌ %s failed: %v", op, err)
		writeError(w, http.StatusInternalServerError, "Failed to "+op)
	}
}

// actingUser is the authenticated principal. The auth middleware guarantees it
// on every /api route; a missing one is answered with 401.
func actingUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserID(r)
	if !ok || userID == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return "", false
	}
	return userID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		zap.S().Warnf("❌ Invalid request payload: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}

func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}
