package meshsession

import "errors"

// ErrNoCandidateGateway is returned by Connect when no expected node is
// both connectable and has a known RSSI, per spec.md §7's NoCandidateGateway.
var ErrNoCandidateGateway = errors.New("meshsession: no candidate gateway")

// ErrNotConnected is returned by session operations attempted while no
// gateway session is established.
var ErrNotConnected = errors.New("meshsession: not connected")

// AuthFailureKind distinguishes the step at which authentication failed,
// per spec.md §4.3's authenticate flow.
type AuthFailureKind string

const (
	AuthFailureChallenge AuthFailureKind = "challenge"
	AuthFailureResponse  AuthFailureKind = "response"
	AuthFailurePing      AuthFailureKind = "post-auth-ping"
)

// AuthFailureError is returned when the challenge/response handshake or its
// mandatory post-auth ping fails against one gateway candidate; the caller
// (Connect) moves on to the next candidate rather than treating this as
// fatal, per spec.md §7's AuthFailure policy.
type AuthFailureError struct {
	Node string
	Kind AuthFailureKind
	Err  error
}

func (e *AuthFailureError) Error() string {
	if e.Err != nil {
		return "meshsession: auth failure on " + e.Node + " at " + string(e.Kind) + ": " + e.Err.Error()
	}
	return "meshsession: auth failure on " + e.Node + " at " + string(e.Kind)
}

func (e *AuthFailureError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &AuthFailureError{}) to match any AuthFailureError.
func (e *AuthFailureError) Is(target error) bool {
	_, ok := target.(*AuthFailureError)
	return ok
}

// TransportError wraps a GATT read/write/connect failure or timeout, per
// spec.md §7's TransportError: the session is marked lost, not fatal to
// the process.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "meshsession: transport error during " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &TransportError{}) to match any TransportError.
func (e *TransportError) Is(target error) bool {
	_, ok := target.(*TransportError)
	return ok
}
