package staticfile

import "errors"

// Every failure in the request pipeline resolves to one of these. The handler
// maps them to a client-visible outcome; none escape as a panic.
var (
	// ErrInvalidPath means the request-target could not be decoded or would
	// resolve outside the document root.
	ErrInvalidPath = errors.New("invalid request path")
	// ErrResourceNotFound means the target is missing or cannot be opened.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrDirectoryUnreadable means a directory listing could not be enumerated.
	ErrDirectoryUnreadable = errors.New("directory unreadable")
	// ErrMalformedRange means a Range header was present but unparseable.
	ErrMalformedRange = errors.New("malformed range header")
	// ErrTransferInterrupted means the body stream stopped after headers were sent.
	ErrTransferInterrupted = errors.New("transfer interrupted")
)
