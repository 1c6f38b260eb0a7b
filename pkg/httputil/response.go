package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON encodes data before writing the header, so an encoding failure
// still produces a 500 with an error body.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Errorf("failed to encode response: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// WriteNoContent writes a 204.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError writes err as the error message.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorDetails(w, status, err, nil)
}

// WriteErrorDetails writes err along with details such as the action that
// failed.
func WriteErrorDetails(w http.ResponseWriter, status int, err error, details map[string]string) {
	writeErrorBody(w, status, ErrorResponse{Error: err.Error(), Details: details})
}

// WriteErrorMessage writes a plain error message.
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	writeErrorBody(w, status, ErrorResponse{Error: message})
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

func writeErrorBody(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
