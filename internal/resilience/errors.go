package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// TransientError marks a failure the caller may retry. StatusCode is the
// upstream HTTP status, or zero when the failure happened below HTTP.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError marks err as retryable.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// StatusError builds the error for a non-200 collaborator response. Statuses
// worth retrying come back as a *TransientError.
func StatusError(service string, code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	err := eris.Errorf("%s: status %d: %s", service, code, msg)
	if IsTransientHTTPStatus(code) {
		return NewTransientError(err, code)
	}
	return err
}

// IsTransientHTTPStatus reports whether a response status is worth retrying.
func IsTransientHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsTransient reports whether err is worth retrying. Caller cancellation
// never is; per-call deadlines, open circuits and dropped connections are.
func IsTransient(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrCircuitOpen):
		return true
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return isNetworkFailure(err)
}

// brokenConn are substrings of net/http errors that lose their type on the
// way up.
var brokenConn = []string{
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"server closed idle connection",
	"tls handshake timeout",
}

func isNetworkFailure(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	var dns *net.DNSError
	if errors.As(err, &dns) && (dns.IsTemporary || dns.IsTimeout) {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED, syscall.EPIPE:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, s := range brokenConn {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
