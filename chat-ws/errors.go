package chatws

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingNickname rejects a join without a nickname.
	ErrMissingNickname = errors.New("nickname is required")

	// ErrPeerGone means the target connection no longer exists at the gateway.
	ErrPeerGone = errors.New("peer gone")

	// ErrUnrecognizedRoute is returned for route keys the handler doesn't serve.
	ErrUnrecognizedRoute = errors.New("unrecognized route")
)

// ValidationError is a rejected request. No state is written when one is
// returned.
type ValidationError struct {
	ConnectionID string
	Err          error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request from connection %v: %v", e.ConnectionID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransportError is a delivery failure other than ErrPeerGone, e.g. throttling
// or missing permissions.
type TransportError struct {
	ConnectionID string
	Err          error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to post to connection %v: %v", e.ConnectionID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BroadcastError carries the hard failures of a single fanout. Gone peers are
// never part of it.
type BroadcastError struct {
	Failed []string
	Err    error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("roster broadcast failed for %v connection(s) [%v]: %v", len(e.Failed), strings.Join(e.Failed, ", "), e.Err)
}

func (e *BroadcastError) Unwrap() error { return e.Err }

// IsBroadcastError reports whether err only describes a failed broadcast,
// meaning the operation that triggered it did succeed.
func IsBroadcastError(err error) bool {
	var be *BroadcastError
	return errors.As(err, &be)
}
