package endpoint

import (
	"encoding/json"
	"net/http"
)

// JSONContentType is the Content-Type written by JSONRenderer.
const JSONContentType = "application/json; charset=utf-8"

// JSONRenderer serializes a value as JSON.
//
// HTML escaping is disabled and json.Encoder's trailing newline is kept.
// Since the status line is already written when encoding starts, an
// encoding error can only be reported, not turned into a different status.
type JSONRenderer struct {
	Status int
	Value  any
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", JSONContentType)
	status := jr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(jr.Value)
}

// NoContentRenderer writes a status with no body. Status defaults to
// http.StatusNoContent.
type NoContentRenderer struct {
	Status int
}

func (ncr *NoContentRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	status := ncr.Status
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
	return nil
}
