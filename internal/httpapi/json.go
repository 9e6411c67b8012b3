package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"alnorchestrator/internal/apperr"
)

// writeJSON mirrors the teacher's internal/server/json.go writeJSON
// helper: one place that sets the content type and logs encode failures
// instead of every handler doing it inline.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encoding response: %v", err)
	}
}

// writeError maps err to its §7 HTTP status via apperr and writes a
// {"error": message} body, the same shape the teacher's writeError used
// for every non-2xx response.
func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatusOf(err)
	msg := err.Error()
	if appErr, ok := apperr.As(err); ok {
		msg = appErr.Message
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
