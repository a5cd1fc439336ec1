package bifrost

import "errors"

var (
	// ErrAuthenticationFailed is returned when the login exchange is
	// rejected by the backend or fails on the wire. A backend-provided
	// message, when available, is appended verbatim.
	ErrAuthenticationFailed = errors.New("bifrost: authentication failed")

	// ErrNoSession is returned when an operation requires a valid session
	// and none is stored.
	ErrNoSession = errors.New("bifrost: no session")

	// ErrRefreshLocked is returned when a refresh is declined because
	// another process holding the shared store appears to be refreshing.
	ErrRefreshLocked = errors.New("bifrost: refresh in progress in another process")

	// ErrRefreshExhausted is returned when every refresh attempt failed.
	// The stored session has been cleared; callers must treat this as
	// signed out.
	ErrRefreshExhausted = errors.New("bifrost: token refresh attempts exhausted")
)
