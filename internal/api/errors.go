package api

import (
	"encoding/json"
	"net/http"
)

// ErrorCode names the failure in an error response. Clients branch on the
// code; the message is for people.
type ErrorCode string

const (
	CodeInvalidGroup        ErrorCode = "invalid_group"
	CodeSilverNotFound      ErrorCode = "silver_not_found"
	CodeDeviceNotInGroup    ErrorCode = "device_not_in_group"
	CodeRegistryUnavailable ErrorCode = "registry_unavailable"
	CodeSilverUnreadable    ErrorCode = "silver_unreadable"
	CodeNoRoute             ErrorCode = "no_route"
	CodeMethodNotAllowed    ErrorCode = "method_not_allowed"
	CodeInternal            ErrorCode = "internal"
)

var codeStatus = map[ErrorCode]int{
	CodeInvalidGroup:        http.StatusBadRequest,
	CodeSilverNotFound:      http.StatusNotFound,
	CodeDeviceNotInGroup:    http.StatusNotFound,
	CodeRegistryUnavailable: http.StatusServiceUnavailable,
	CodeSilverUnreadable:    http.StatusInternalServerError,
	CodeNoRoute:             http.StatusNotFound,
	CodeMethodNotAllowed:    http.StatusMethodNotAllowed,
	CodeInternal:            http.StatusInternalServerError,
}

// Status is the HTTP status sent with the code.
func (c ErrorCode) Status() int {
	if s, ok := codeStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError answers with the status of code, echoing the request ID so a
// client report can be matched to the server log.
func writeError(w http.ResponseWriter, r *http.Request, code ErrorCode, message string) {
	requestID, _ := r.Context().Value(ctxKeyRequestID).(string) //nolint:errcheck // absent outside the router
	writeJSON(w, code.Status(), ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: requestID,
	})
}
