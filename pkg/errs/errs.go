// Package errs defines the control plane's stable error taxonomy: a
// single tagged-variant type instead of the source design's class
// hierarchy, with an HTTP status mapping the transport layer consults
// directly instead of re-deriving it from an error's concrete type.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the stable error codes from the wire contract.
type Kind string

const (
	KindNotFound                Kind = "NOT_FOUND"
	KindNodeNotFound            Kind = "NODE_NOT_FOUND"
	KindMatchNotFound           Kind = "MATCH_NOT_FOUND"
	KindModuleNotFound          Kind = "MODULE_NOT_FOUND"
	KindDrainingNodeReregister  Kind = "DRAINING_NODE_REREGISTER"
	KindNodeAuthenticationFailed Kind = "NODE_AUTHENTICATION_FAILED"
	KindMatchAlreadyExists      Kind = "MATCH_ALREADY_EXISTS"
	KindNoAvailableNodes        Kind = "NO_AVAILABLE_NODES"
	KindNoCapableNodes          Kind = "NO_CAPABLE_NODES"
	KindDeploymentFailed        Kind = "DEPLOYMENT_FAILED"
	KindMatchFull               Kind = "MATCH_FULL"
	KindInvalidMatchState       Kind = "INVALID_MATCH_STATE"
	KindModuleVersionConflict   Kind = "MODULE_VERSION_CONFLICT"
	KindChecksumMismatch        Kind = "CHECKSUM_MISMATCH"
	KindDistributionFailed      Kind = "MODULE_DISTRIBUTION_FAILED"
	KindUpstreamUnreachable     Kind = "UPSTREAM_UNREACHABLE"
	KindUpstreamTimeout         Kind = "UPSTREAM_TIMEOUT"
	KindProxyDisabled           Kind = "PROXY_DISABLED"
	KindAuthServiceError        Kind = "AUTH_SERVICE_ERROR"
	KindTokenExpired            Kind = "TOKEN_EXPIRED"
	KindTokenInvalid            Kind = "TOKEN_INVALID"
	KindUnauthorized            Kind = "UNAUTHORIZED"
	KindForbidden               Kind = "FORBIDDEN"
	KindInvalidArgument         Kind = "INVALID_REQUEST"
	KindConflict                Kind = "CONFLICT"
	KindUnavailable             Kind = "UNAVAILABLE"
	KindInternal                Kind = "INTERNAL"
)

// kindStatus maps each Kind to the HTTP status the wire surface returns.
var kindStatus = map[Kind]int{
	KindNotFound:                 http.StatusNotFound,
	KindNodeNotFound:             http.StatusNotFound,
	KindMatchNotFound:            http.StatusNotFound,
	KindModuleNotFound:           http.StatusNotFound,
	KindDrainingNodeReregister:   http.StatusConflict,
	KindNodeAuthenticationFailed: http.StatusUnauthorized,
	KindMatchAlreadyExists:       http.StatusConflict,
	KindNoAvailableNodes:         http.StatusServiceUnavailable,
	KindNoCapableNodes:           http.StatusServiceUnavailable,
	KindDeploymentFailed:         http.StatusServiceUnavailable,
	KindMatchFull:                http.StatusConflict,
	KindInvalidMatchState:        http.StatusConflict,
	KindModuleVersionConflict:    http.StatusConflict,
	KindChecksumMismatch:         http.StatusBadRequest,
	KindDistributionFailed:       http.StatusBadGateway,
	KindUpstreamUnreachable:      http.StatusBadGateway,
	KindUpstreamTimeout:          http.StatusGatewayTimeout,
	KindProxyDisabled:            http.StatusServiceUnavailable,
	KindAuthServiceError:         http.StatusBadGateway,
	KindTokenExpired:             http.StatusUnauthorized,
	KindTokenInvalid:             http.StatusUnauthorized,
	KindUnauthorized:             http.StatusUnauthorized,
	KindForbidden:                http.StatusForbidden,
	KindInvalidArgument:          http.StatusBadRequest,
	KindConflict:                 http.StatusConflict,
	KindUnavailable:              http.StatusServiceUnavailable,
	KindInternal:                 http.StatusInternalServerError,
}

// Error is the tagged-variant error type every core package returns at
// its public boundary.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code for this error's Kind, defaulting
// to 500 for an unregistered Kind.
func (e *Error) Status() int {
	if s, ok := kindStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error carrying cause as its Unwrap target.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// StatusOf returns the HTTP status for err, defaulting to 500 when err
// is not an *Error.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status()
	}
	return http.StatusInternalServerError
}
