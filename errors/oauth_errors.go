package errors

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// OAuth2Error represents a standardized OAuth 2.0 error
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
	State       string `json:"state,omitempty"`
}

func (e *OAuth2Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Standard OAuth2 error codes
const (
	InvalidRequest          = "invalid_request"
	UnauthorizedClient      = "unauthorized_client"
	AccessDenied            = "access_denied"
	UnsupportedGrantType    = "unsupported_grant_type"
	UnsupportedResponseType = "unsupported_response_type"
	InvalidScope            = "invalid_scope"
	InvalidClient           = "invalid_client"
	InvalidGrant            = "invalid_grant"
	ServerError             = "server_error"
	TemporarilyUnavailable  = "temporarily_unavailable"
)

// StatusCode is the HTTP status used when the error is rendered as a token
// endpoint JSON response.
func (e *OAuth2Error) StatusCode() int {
	switch e.Code {
	case InvalidClient, InvalidGrant, AccessDenied:
		return http.StatusUnauthorized
	case ServerError:
		return http.StatusInternalServerError
	case TemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// WithState returns a copy of e carrying state.
func (e *OAuth2Error) WithState(state string) *OAuth2Error {
	c := *e
	c.State = state
	return &c
}

// Params returns the error as redirect parameters.
func (e *OAuth2Error) Params() url.Values {
	v := url.Values{}
	v.Set("error", e.Code)
	if e.Description != "" {
		v.Set("error_description", e.Description)
	}
	if e.URI != "" {
		v.Set("error_uri", e.URI)
	}
	if e.State != "" {
		v.Set("state", e.State)
	}
	return v
}

// InURI appends the error to the query of redirectURI.
func (e *OAuth2Error) InURI(redirectURI string) string {
	return AddQueryParams(redirectURI, e.Params())
}

// AddQueryParams appends params to the query string of uri, keeping any
// parameters the uri already has. The uri is not re-encoded, so the target
// stays character for character the registered redirect URI.
func AddQueryParams(uri string, params url.Values) string {
	base, fragment, hasFragment := strings.Cut(uri, "#")

	switch {
	case !strings.Contains(base, "?"):
		base += "?"
	case !strings.HasSuffix(base, "?") && !strings.HasSuffix(base, "&"):
		base += "&"
	}
	base += params.Encode()

	if hasFragment {
		return base + "#" + fragment
	}
	return base
}

// AddFragmentParams sets params as the fragment of uri, replacing any
// fragment it had.
func AddFragmentParams(uri string, params url.Values) string {
	base, _, _ := strings.Cut(uri, "#")
	return base + "#" + params.Encode()
}

// Common error constructors
func NewInvalidRequest(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidRequest,
		Description: description,
	}
}

func NewInvalidClient(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidClient,
		Description: description,
	}
}

func NewInvalidGrant(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidGrant,
		Description: description,
	}
}

func NewServerError(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        ServerError,
		Description: description,
	}
}

func NewInvalidScope(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidScope,
		Description: description,
	}
}

func NewUnauthorizedClient(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        UnauthorizedClient,
		Description: description,
	}
}

func NewAccessDenied() *OAuth2Error {
	return &OAuth2Error{Code: AccessDenied}
}

func NewUnsupportedGrantType() *OAuth2Error {
	return &OAuth2Error{Code: UnsupportedGrantType}
}

func NewUnsupportedResponseType() *OAuth2Error {
	return &OAuth2Error{Code: UnsupportedResponseType}
}
