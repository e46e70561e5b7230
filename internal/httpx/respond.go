package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-realtime-pos/internal/apperr"
)

const maxBodyBytes = 1 << 20

type errorPayload struct {
	Kind      apperr.Kind         `json:"kind"`
	Code      string              `json:"code"`
	Message   string              `json:"message"`
	Retryable bool                `json:"retryable"`
	Fields    []apperr.FieldError `json:"fields,omitempty"`
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with its kind's status. Internal errors are logged
// through the request logger; their cause never reaches the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(err)
	status := apperr.HTTPStatus(e.Kind)
	if e.Kind == apperr.KindInternal {
		zerolog.Ctx(r.Context()).Error().Err(e.Err).Str("path", r.URL.Path).Msg("internal error")
	}
	if e.Retryable && status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody{Error: errorPayload{
		Kind:      e.Kind,
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
		Fields:    e.Fields,
	}})
}

// decodeJSON reads one JSON object, rejecting unknown fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apperr.Validation("request body too large")
		}
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is empty")
		}
		return apperr.Validation("invalid json: " + err.Error())
	}
	if dec.More() {
		return apperr.Validation("invalid json: trailing data")
	}
	return nil
}
