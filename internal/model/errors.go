package model

import (
	"errors"
	"net/http"
)

// Kind is the error taxonomy every core package error maps into. Every
// error that should reach the transport layer wraps one of these sentinels
// with errors.Is-compatible %w so the HTTP layer can map it to a status
// through KindOf and Kind.HTTPStatus.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindUnauthenticated Kind = "unauthenticated"
	KindDenied Kind = "denied"
	KindNotFound Kind = "not_found"
	KindConflict Kind = "conflict"
	KindRouteUnavailable Kind = "route_unavailable"
	KindOverloaded Kind = "overloaded"
	KindRouteDegraded Kind = "route_degraded"
	KindSchemaConflict Kind = "schema_conflict"
	KindInternal Kind = "internal"
)

// Sentinel errors, one per taxonomy kind. Packages wrap these with
// fmt.Errorf("pkg: verb: %w", ErrX) so callers can errors.Is() against them
// without reaching into a typed Error value.
var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrDenied = errors.New("denied")
	ErrNotFound = errors.New("not_found")
	ErrConflict = errors.New("conflict")
	ErrRouteUnavailable = errors.New("route_unavailable")
	ErrOverloaded = errors.New("overloaded")
	ErrRouteDegraded = errors.New("route_degraded")
	ErrSchemaConflict = errors.New("schema_conflict")
	ErrInternal = errors.New("internal")
)

// KindOf classifies err against the taxonomy sentinels, defaulting to
// KindInternal for unrecognized errors so nothing leaks as a 200.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrDenied):
		return KindDenied
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrRouteUnavailable):
		return KindRouteUnavailable
	case errors.Is(err, ErrOverloaded):
		return KindOverloaded
	case errors.Is(err, ErrRouteDegraded):
		return KindRouteDegraded
	case errors.Is(err, ErrSchemaConflict):
		return KindSchemaConflict
	default:
		return KindInternal
	}
}

// HTTPStatus maps a taxonomy Kind to its HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest, KindSchemaConflict:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRouteUnavailable, KindOverloaded, KindRouteDegraded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode constants mirror Kind values in SCREAMING_SNAKE form for the
// standard API error envelope, matching the teacher's ErrCode* convention.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeUnauthenticated = "UNAUTHENTICATED"
	ErrCodeDenied = "DENIED"
	ErrCodeNotFound = "NOT_FOUND"
	ErrCodeConflict = "CONFLICT"
	ErrCodeRouteUnavailable = "ROUTE_UNAVAILABLE"
	ErrCodeOverloaded = "OVERLOADED"
	ErrCodeRouteDegraded = "ROUTE_DEGRADED"
	ErrCodeSchemaConflict = "SCHEMA_CONFLICT"
	ErrCodeInternal = "INTERNAL"
)

var kindToCode = map[Kind]string{
	KindInvalidRequest: ErrCodeInvalidRequest,
	KindUnauthenticated: ErrCodeUnauthenticated,
	KindDenied: ErrCodeDenied,
	KindNotFound: ErrCodeNotFound,
	KindConflict: ErrCodeConflict,
	KindRouteUnavailable: ErrCodeRouteUnavailable,
	KindOverloaded: ErrCodeOverloaded,
	KindRouteDegraded: ErrCodeRouteDegraded,
	KindSchemaConflict: ErrCodeSchemaConflict,
	KindInternal: ErrCodeInternal,
}

// Code returns the SCREAMING_SNAKE error code for a Kind.
func (k Kind) Code() string {
	if c, ok := kindToCode[k]; ok {
		return c
	}
	return ErrCodeInternal
}
