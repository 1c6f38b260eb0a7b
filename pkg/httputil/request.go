package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// ErrBodyTooLarge is returned by DecodeJSON when the body exceeds the limit
// set by MaxBytesMiddleware.
var ErrBodyTooLarge = errors.New("request body too large")

// DecodeJSON decodes the request body into dest. Strict decoding rejects
// fields dest does not declare.
func DecodeJSON(r *http.Request, dest any, strict bool) error {
	dec := json.NewDecoder(r.Body)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ReadJSON strictly decodes the body into dest. On failure it writes the
// error response and returns false.
func ReadJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := DecodeJSON(r, dest, true); err != nil {
		WriteRequestError(w, err)
		return false
	}
	return true
}

// WriteRequestError answers a DecodeJSON failure with 413 or 400.
func WriteRequestError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, ErrBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	WriteError(w, status, err)
}

// PathVar returns the route variable key. An empty value is answered with 400.
func PathVar(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v := mux.Vars(r)[key]
	if v == "" {
		WriteBadRequest(w, "missing path parameter: "+key)
		return "", false
	}
	return v, true
}

// PathInt parses the route variable key as an integer.
func PathInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw, ok := PathVar(w, r, key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		WriteBadRequest(w, fmt.Sprintf("invalid %s: %s", key, raw))
		return 0, false
	}
	return n, true
}

// QueryDuration parses a non-negative duration query parameter such as
// "30s", returning def when it is absent.
func QueryDuration(r *http.Request, key string, def time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid duration for query param %s: %s", key, raw)
	}
	return d, nil
}
