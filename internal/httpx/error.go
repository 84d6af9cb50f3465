package httpx

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
)

// Error codes returned in the JSON error envelope.
const (
	CodeAccessDenied     = "ACCESS_DENIED"
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeQuotaExceeded    = "QUOTA_EXCEEDED"
	CodeInvalidTarget    = "INVALID_TARGET_URL"
	CodeTooManyRedirects = "TOO_MANY_REDIRECTS"
	CodeUpstreamFailed   = "UPSTREAM_FAILED"
	CodeInternal         = "INTERNAL"
)

// ProxyError is an error that maps directly onto an HTTP response.
type ProxyError struct {
	HTTPCode int
	Code     string
	Message  string
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AccessDenied builds a 403 error with the given reason.
func AccessDenied(format string, args ...any) *ProxyError {
	return &ProxyError{
		HTTPCode: http.StatusForbidden,
		Code:     CodeAccessDenied,
		Message:  fmt.Sprintf(format, args...),
	}
}

// InvalidTarget builds a 400 error for an unusable target URL.
func InvalidTarget(raw string) *ProxyError {
	return &ProxyError{
		HTTPCode: http.StatusBadRequest,
		Code:     CodeInvalidTarget,
		Message:  fmt.Sprintf("target %q is not a valid URL", raw),
	}
}

// QuotaExceeded builds a 429 error for a client over its daily allowance.
func QuotaExceeded(limit int64) *ProxyError {
	return &ProxyError{
		HTTPCode: http.StatusTooManyRequests,
		Code:     CodeQuotaExceeded,
		Message:  fmt.Sprintf("daily request limit of %d reached", limit),
	}
}

// UpstreamFailed builds a 502 error for an unreachable or failing origin.
func UpstreamFailed(host string) *ProxyError {
	return &ProxyError{
		HTTPCode: http.StatusBadGateway,
		Code:     CodeUpstreamFailed,
		Message:  fmt.Sprintf("upstream %s did not produce a response", host),
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[httpx] write response: %v", err)
	}
}

// WriteError writes err to w. A *ProxyError keeps its status and code;
// any other error becomes a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	pe, ok := err.(*ProxyError)
	if !ok {
		pe = &ProxyError{
			HTTPCode: http.StatusInternalServerError,
			Code:     CodeInternal,
			Message:  "internal error",
		}
	}
	WriteJSON(w, pe.HTTPCode, errorBody{Error: errorDetail{Code: pe.Code, Message: pe.Message}})
}
