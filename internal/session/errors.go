package session

import "errors"

// Refresh failure taxonomy. The coordinator treats all of these as session
// loss; they stay distinct so logs can tell a revoked session apart from a
// dead network.
var (
	// ErrNoRefreshCredential means there is no session to refresh. No
	// network call is made.
	ErrNoRefreshCredential = errors.New("no refresh credential stored")

	// ErrRefreshRejected means the server explicitly refused the refresh
	// credential (expired, revoked, or invalid).
	ErrRefreshRejected = errors.New("refresh credential rejected")

	// ErrRefreshUnreachable means the refresh exchange itself could not
	// complete (timeout, connection failure).
	ErrRefreshUnreachable = errors.New("token endpoint unreachable")

	// ErrReplayUnauthorized means the one-time replay after a successful
	// refresh still came back 401. Terminal: no second refresh is attempted
	// for the same request.
	ErrReplayUnauthorized = errors.New("replayed request still unauthorized")
)
