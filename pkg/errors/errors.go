// Package errors provides the sentinel errors shared by courier packages.
// Request outcomes are reported with these, wrapped with %w, so callers
// branch with errors.Is.
package errors

import stderrors "errors"

var (
	// ErrNotConnected indicates the stream is not connected and the request
	// has no retries left.
	ErrNotConnected = stderrors.New("not connected")

	// ErrTimeout indicates a request gave up waiting for its response.
	ErrTimeout = stderrors.New("timeout")

	// ErrCanceled indicates the request was canceled by a disconnect.
	ErrCanceled = stderrors.New("canceled")

	// ErrAborted indicates the request was abandoned before completing.
	ErrAborted = stderrors.New("aborted")

	// ErrMalformed indicates a stanza that cannot be decoded or is missing a
	// required attribute.
	ErrMalformed = stderrors.New("malformed stanza")

	// ErrClosed indicates the engine or transport has been closed.
	ErrClosed = stderrors.New("closed")
)

// ServerError is an error reply from the server.
type ServerError struct {
	Condition string
	Message   string
}

func (e *ServerError) Error() string {
	switch {
	case e.Message != "" && e.Condition != "":
		return "server error: " + e.Condition + ": " + e.Message
	case e.Message != "":
		return "server error: " + e.Message
	case e.Condition != "":
		return "server error: " + e.Condition
	}
	return "server error"
}

// IsServerError reports whether err wraps a *ServerError.
func IsServerError(err error) bool {
	var se *ServerError
	return stderrors.As(err, &se)
}
