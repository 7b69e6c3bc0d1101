package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Auth errors
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"

	// Request ledger errors
	CodeRequestNotFound         Code = "REQUEST_NOT_FOUND"
	CodeRequestExpired          Code = "REQUEST_EXPIRED"
	CodeRequestAlreadyProcessed Code = "REQUEST_ALREADY_PROCESSED"
	CodeInvalidRequestDirection Code = "INVALID_REQUEST_DIRECTION"
	CodeInvalidRequestAction    Code = "INVALID_REQUEST_ACTION"
	CodeNoMatchingRequest       Code = "NO_MATCHING_REQUEST"

	// Partner registry errors
	CodePartnerNotFound Code = "PARTNER_NOT_FOUND"
	CodeUnknownPartner  Code = "UNKNOWN_PARTNER"

	// Identity errors
	CodeNotAPartner                Code = "NOT_A_PARTNER"
	CodeNotAPartnerOfThisPrinciple Code = "NOT_A_PARTNER_OF_THIS_PRINCIPLE"
	CodeNotAPrinciple              Code = "NOT_A_PRINCIPLE"

	// Validation errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated:
		return http.StatusUnauthorized

	case CodeForbidden:
		return http.StatusForbidden

	// NotFound - resource absent, scoped to another org, or deliberately
	// indistinguishable from absent (heartbeat secret mismatch).
	case CodeRequestNotFound,
		CodeNoMatchingRequest,
		CodePartnerNotFound,
		CodeUnknownPartner,
		CodeNotAPartner,
		CodeNotAPartnerOfThisPrinciple,
		CodeNotAPrinciple:
		return http.StatusNotFound

	case CodeRequestExpired:
		return http.StatusGone

	// Caller errors - not retried
	case CodeRequestAlreadyProcessed,
		CodeInvalidRequestDirection,
		CodeInvalidRequestAction,
		CodeInvalidArgument:
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}
