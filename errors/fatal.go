package errors

// Details carried by FatalClientError.
const (
	InvalidClientID        = "invalid_client_id"
	MismatchingRedirectURI = "mismatching_redirect_uri"
	InvalidRedirectURI     = "invalid_redirect_uri"
	MissingRedirectURI     = "missing_redirect_uri"
)

const fatalPrefix = "Evil client is unable to send a proper request. Error is: "

// FatalClientError is raised before a redirect URI can be trusted. It is
// always answered locally with a 400 and never redirected.
type FatalClientError struct {
	Detail string
}

func (e *FatalClientError) Error() string {
	return "fatal client error: " + e.Detail
}

// Message is the body shown to the user agent.
func (e *FatalClientError) Message() string {
	return fatalPrefix + e.Detail
}

func NewFatalClientError(detail string) *FatalClientError {
	return &FatalClientError{Detail: detail}
}
