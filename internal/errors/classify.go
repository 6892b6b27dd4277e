package errors

import (
	"context"
	stderrors "errors"
	"net"
	"os"
	"strings"
)

// Classify converts a raw failure from the dial/handshake path into a
// structured Error with the right code and a remediation suggestion.
// Structured errors pass through unchanged.
func Classify(err error, host string) *Error {
	if err == nil {
		return nil
	}

	var skErr *Error
	if stderrors.As(err, &skErr) {
		return skErr
	}

	if stderrors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) || isNetTimeout(err) {
		return WrapWithCode(err, ErrTimeout,
			"Connection to '"+host+"' timed out",
			"Host might be offline or blocked by a firewall.")
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return WrapWithCode(err, ErrConnection,
			"Can't reach '"+host+"'",
			"Is SSH running on that box? Try: ssh "+host)
	case strings.Contains(msg, "no route to host"),
		strings.Contains(msg, "network is unreachable"):
		return WrapWithCode(err, ErrConnection,
			"Can't route to '"+host+"'",
			"Check your network connection.")
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "i/o timeout"):
		return WrapWithCode(err, ErrTimeout,
			"Connection to '"+host+"' timed out",
			"Host might be offline or blocked by a firewall.")
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"),
		strings.Contains(msg, "permission denied"):
		return WrapWithCode(err, ErrAuth,
			"Authentication to '"+host+"' failed",
			"Check your keys are loaded: ssh-add -l")
	case strings.Contains(msg, "host key"), strings.Contains(msg, "knownhosts"):
		return WrapWithCode(err, ErrHostKeyMismatch,
			"Host key verification failed for '"+host+"'",
			"Verify the host key, then update known_hosts: ssh-keygen -R "+host)
	case strings.Contains(msg, "ssh: "):
		return WrapWithCode(err, ErrProtocol,
			"SSH protocol error talking to '"+host+"'",
			"Try connecting manually to inspect: ssh -v "+host)
	}

	return WrapWithCode(err, ErrConnection,
		"Connection to '"+host+"' failed",
		"Make sure the host is reachable: ping "+host)
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
