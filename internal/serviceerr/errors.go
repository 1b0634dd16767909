// Package serviceerr defines the coded errors the gateway returns to the browser.
package serviceerr

import "net/http"

type Code string

const (
	CodeUnknown             Code = "unknown"
	CodeInvalidRequest      Code = "invalid_request"
	CodeNotFound            Code = "not_found"
	CodeUnauthorized        Code = "unauthorized"
	CodeClientPhase         Code = "client_phase"
	CodeUnsupportedFlow     Code = "unsupported_flow"
	CodeFlowValidation      Code = "flow_validation"
	CodeFlowExpired         Code = "flow_expired"
	CodeProviderUnavailable Code = "provider_unavailable"
)

// Error is an error with a stable code and a human readable description.
type Error struct {
	Err         Code
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

// HTTPStatus maps the error code to the status written to the browser.
func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeInvalidRequest, CodeUnsupportedFlow, CodeFlowValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeFlowExpired:
		return http.StatusGone
	case CodeProviderUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrUnknown             = &Error{Err: CodeUnknown, Description: "unknown error"}
	ErrInvalidRequest      = &Error{Err: CodeInvalidRequest}
	ErrNotFound            = &Error{Err: CodeNotFound, Description: "not found"}
	ErrUnauthorized        = &Error{Err: CodeUnauthorized, Description: "no valid session"}
	ErrClientPhase         = &Error{Err: CodeClientPhase, Description: "session resolution can only run while rendering on the server"}
	ErrUnsupportedFlow     = &Error{Err: CodeUnsupportedFlow, Description: "unsupported flow kind"}
	ErrFlowValidation      = &Error{Err: CodeFlowValidation, Description: "the submitted flow was rejected"}
	ErrFlowExpired         = &Error{Err: CodeFlowExpired, Description: "the flow expired, start a new one"}
	ErrProviderUnavailable = &Error{Err: CodeProviderUnavailable, Description: "identity provider request failed"}
)
