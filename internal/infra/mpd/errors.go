package mpd

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrEngineClosed is returned by Start on an engine that has been closed.
	ErrEngineClosed = errors.New("mpd: engine closed")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("mpd: engine already started")

	// ErrBadBanner means the server greeting did not start with "OK MPD".
	ErrBadBanner = errors.New("mpd: unexpected server banner")

	// ErrProtocol marks responses no conforming server would send.
	ErrProtocol = errors.New("mpd: protocol violation")
)

// ProtocolError carries the offending line of a protocol violation.
type ProtocolError struct {
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Line)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// isFatalDialError reports whether a connection attempt failed in a way that
// retrying cannot fix. A host name that does not resolve is treated as fatal;
// temporary resolver failures and socket errors are not.
func isFatalDialError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound && !dnsErr.IsTemporary && !dnsErr.IsTimeout
	}
	return false
}
