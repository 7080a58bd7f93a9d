package httpapi

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"gatewayd/internal/gateway"
	"gatewayd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// errorDetail converts err to the structured error body. gateway errors keep
// their kind and class; other HTTPErrors are classified by status.
func errorDetail(err error) types.ErrorDetail {
	var ge *gateway.Error
	if errors.As(err, &ge) {
		return types.ErrorDetail{
			Message:     ge.Error(),
			Type:        string(ge.Kind),
			Class:       string(ge.Class()),
			Code:        ge.StatusCode(),
			KnownModels: ge.Known,
		}
	}
	status := http.StatusInternalServerError
	var he HTTPError
	if errors.As(err, &he) {
		status = he.StatusCode()
	}
	return detailForStatus(status, err.Error())
}

func detailForStatus(status int, msg string) types.ErrorDetail {
	d := types.ErrorDetail{Message: msg, Code: status}
	switch {
	case status == http.StatusNotFound:
		d.Type, d.Class = string(gateway.KindModelNotFound), string(gateway.ClassNotFound)
	case status == http.StatusTooManyRequests:
		d.Type, d.Class = string(gateway.KindTooBusy), string(gateway.ClassTooManyRequests)
	case status == http.StatusServiceUnavailable:
		d.Type, d.Class = string(gateway.KindEngineUnavailable), string(gateway.ClassUnavailable)
	case status >= 400 && status < 500:
		d.Type, d.Class = string(gateway.KindInvalidRequest), string(gateway.ClassBadRequest)
	default:
		d.Type, d.Class = string(gateway.KindInternal), string(gateway.ClassInternal)
	}
	return d
}

// writeError writes err as a consistent JSON error payload and returns the
// status used.
func writeError(w http.ResponseWriter, err error) int {
	d := errorDetail(err)
	writeErrorDetail(w, d)
	return d.Code
}

// writeJSONError writes a payload for errors raised by the HTTP layer itself.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeErrorDetail(w, detailForStatus(status, msg))
}

func writeErrorDetail(w http.ResponseWriter, d types.ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(d.Code)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: d})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}
