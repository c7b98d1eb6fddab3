package perfclient

import "errors"

// Error kinds. Init returns ErrInvalidParameter and Start returns
// ErrResolutionFailed or ErrThreadStartFailed, each wrapped; the other
// kinds are not returned by this package, since per-connection and
// per-stream failures are logged rather than returned. Callers that care
// about the kind should use errors.Is; the wrapping error usually carries
// the offending value in its message.
var (
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrOutOfMemory         = errors.New("out of memory")
	ErrResolutionFailed    = errors.New("failed to resolve remote address")
	ErrThreadStartFailed   = errors.New("failed to start worker thread")
	ErrTransportOpenFailed = errors.New("failed to open transport connection")
	ErrParameterSetFailed  = errors.New("failed to set connection parameter")
	ErrStartFailed         = errors.New("failed to start connection")
)
