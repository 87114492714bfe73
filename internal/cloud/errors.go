package cloud

// ErrorKind discriminates the category of failure talking to the Plejd
// cloud API, mirrored after internal/device's ConnectionState pattern.
type ErrorKind string

const (
	// ErrAuthentication marks a login rejected by the API (response code
	// 101), grounded in cloud/__init__.py's _set_session_token.
	ErrAuthentication ErrorKind = "authentication"
	// ErrConnection marks any other transport/HTTP failure: no internet,
	// a non-200/101 response, a malformed body.
	ErrConnection ErrorKind = "connection"
)

// APIError represents a Plejd cloud API failure.
type APIError struct {
	Kind ErrorKind
	Msg  string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return "cloud: " + string(e.Kind)
	}
	return "cloud: " + string(e.Kind) + ": " + e.Msg
}

// Is allows errors.Is to compare APIError values by Kind.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinels for errors.Is(err, cloud.ErrAuthenticationFailed).
var (
	ErrAuthenticationFailed = &APIError{Kind: ErrAuthentication}
	ErrConnectionFailed     = &APIError{Kind: ErrConnection}
)
