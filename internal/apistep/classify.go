// internal/apistep/classify.go
package apistep

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
)

// ErrorKind classifies a failed API step.
type ErrorKind string

const (
	ErrorServer  ErrorKind = "SERVER_ERROR"
	ErrorClient  ErrorKind = "CLIENT_ERROR"
	ErrorTimeout ErrorKind = "TIMEOUT"
	ErrorNetwork ErrorKind = "NETWORK_ERROR"
	ErrorUnknown ErrorKind = "UNKNOWN_ERROR"
)

// Pseudo status codes for failures that never produced a response.
const (
	statusNetworkFailure = 0
	statusTimeout        = http.StatusRequestTimeout
)

// attemptOutcome labels one attempt in metrics and logs.
func attemptOutcome(kind ErrorKind) string {
	if kind == "" {
		return "success"
	}
	return string(kind)
}

// classifyStatus classifies a non-2xx response and reports whether another
// attempt may help. 4xx responses are final except 408 and 429.
func classifyStatus(code int) (ErrorKind, bool) {
	switch {
	case code >= 500:
		return ErrorServer, true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return ErrorClient, true
	case code >= 400:
		return ErrorClient, false
	default:
		return ErrorUnknown, false
	}
}

// classifyTransport classifies an error returned by the HTTP client or by
// reading the response body. attemptCtx carries the per-attempt timeout.
// The third result reports whether another attempt may help.
func classifyTransport(err error, attemptCtx context.Context) (ErrorKind, int, bool) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return ErrorTimeout, statusTimeout, true
	}
	if errors.Is(err, context.Canceled) {
		return ErrorUnknown, statusNetworkFailure, false
	}

	// *url.Error satisfies net.Error for every client failure; look past it.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTimeout, statusTimeout, true
		}
		return ErrorNetwork, statusNetworkFailure, true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return ErrorNetwork, statusNetworkFailure, true
	}
	return ErrorUnknown, statusNetworkFailure, false
}
