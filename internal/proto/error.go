package proto

import "fmt"

type ErrorKind string

const (
	ErrModeUnavailable      ErrorKind = "mode_unavailable"
	ErrVrrUnsupported       ErrorKind = "vrr_unsupported"
	ErrOutputWasMissing     ErrorKind = "output_was_missing"
	ErrTargetNotFound       ErrorKind = "target_not_found"
	ErrIndexOutOfRange      ErrorKind = "index_out_of_range"
	ErrVersionMismatch      ErrorKind = "version_mismatch"
	ErrConnectionClosed     ErrorKind = "connection_closed"
	ErrEventBacklogOverflow ErrorKind = "event_backlog_overflow"
	ErrInvalidRequest       ErrorKind = "invalid_request"
)

// Error is a protocol-visible failure. Connection-fatal kinds terminate the
// session they occur on; everything else is contained to the output or action
// it names.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Fatal reports whether the error kind terminates the client session.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrVersionMismatch, ErrConnectionClosed, ErrEventBacklogOverflow:
		return true
	}
	return false
}
