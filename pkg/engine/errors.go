package engine

import cerrors "github.com/gezibash/courier/pkg/errors"

// Request outcome errors. Callers match them with errors.Is.
var (
	ErrNotConnected = cerrors.ErrNotConnected
	ErrTimeout      = cerrors.ErrTimeout
	ErrCanceled     = cerrors.ErrCanceled
	ErrAborted      = cerrors.ErrAborted
	ErrMalformed    = cerrors.ErrMalformed
	ErrClosed       = cerrors.ErrClosed
)

// ServerError is an error reply from the server.
type ServerError = cerrors.ServerError
