package sesame

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/dharsanguruparan/ClockSheet/internal/apperror"
)

// Sentinel causes. Errors returned by Client wrap one of these and carry an
// apperror code, so both errors.Is and apperror.CodeOf work on them.
var (
	ErrConnection       = errors.New("sesame: connection failed")
	ErrTimeout          = errors.New("sesame: request timed out")
	ErrAuth             = errors.New("sesame: authentication rejected")
	ErrRateLimited      = errors.New("sesame: rate limited")
	ErrServer           = errors.New("sesame: server error")
	ErrUnexpectedStatus = errors.New("sesame: unexpected status")
	ErrDecode           = errors.New("sesame: malformed response")
)

// StatusError describes a non-2xx response.
type StatusError struct {
	Resource   Resource
	StatusCode int
	Body       string
	retryAfter string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.Resource, e.StatusCode)
}

// Unwrap maps the status onto the sentinel taxonomy.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrAuth
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrServer
	}
	return ErrUnexpectedStatus
}

// retryable reports whether another attempt may succeed: 5xx, 429 and
// transport failures are retried, every other 4xx is final.
func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	return !errors.Is(err, ErrDecode)
}

// classify converts the last attempt's error into the client's public error.
func classify(resource Resource, err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Unwrap() {
		case ErrAuth:
			return apperror.Wrap(apperror.CodeAuth, "authentication with the HR API failed, check the API token", err)
		case ErrRateLimited:
			return apperror.Wrap(apperror.CodeRateLimit, "the HR API rate limit was exceeded, try again later", err)
		case ErrServer:
			return apperror.Wrap(apperror.CodeServer, "the HR API is failing, try again later", err)
		}
		return apperror.Wrap(apperror.CodeServer, fmt.Sprintf("the HR API rejected the request (%d)", statusErr.StatusCode), err)
	}
	if errors.Is(err, ErrDecode) {
		return apperror.Wrap(apperror.CodeServer, "the HR API returned an unreadable response", err)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperror.Wrap(apperror.CodeConnection, "the HR API is unavailable, try again later",
			fmt.Errorf("%s: %w: %w", resource, ErrConnection, err))
	}
	if isTimeout(err) {
		return apperror.Wrap(apperror.CodeTimeout, "the HR API did not answer in time",
			fmt.Errorf("%s: %w: %w", resource, ErrTimeout, err))
	}
	return apperror.Wrap(apperror.CodeConnection, "could not connect to the HR API",
		fmt.Errorf("%s: %w: %w", resource, ErrConnection, err))
}

// isTimeout is true for read timeouts. Dial timeouts count as connection
// failures.
func isTimeout(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
