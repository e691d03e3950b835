package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"pulseops.app/internal/apperr"
	"pulseops.app/internal/audit"
	"pulseops.app/internal/obs"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, map[string]any{"success": true, "data": data})
}

// writeError renders err in the standard failure envelope. Errors outside
// the apperr taxonomy become INTERNAL_ERROR without leaking their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := apperr.Body(err)
	if rid := audit.RequestID(r.Context()); rid != "" {
		body["request_id"] = rid
	}
	status := apperr.StatusOf(err)
	if status >= http.StatusInternalServerError {
		obs.Logger().WithError(err).WithField("request_id", audit.RequestID(r.Context())).Error("request_failed")
	}
	retryAfterHeader(w, err)
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.CodeMissingRequiredField, "request body is required")
		}
		return apperr.Wrap(apperr.CodeInvalidInput, "malformed JSON body", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperr.New(apperr.CodeInvalidInput, "unexpected data after JSON body")
	}
	return nil
}
