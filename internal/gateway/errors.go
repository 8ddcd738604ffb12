package gateway

import "net/http"

// ErrorKind is the machine-readable denial taxonomy. Every kind maps to a
// stable HTTP status at the boundary; no kind is retried internally.
type ErrorKind string

const (
	KindAuthenticationRequired   ErrorKind = "authentication_required"
	KindSubscriptionUnverifiable ErrorKind = "subscription_unverifiable"
	KindPermissionDenied         ErrorKind = "permission_denied"
	KindQuotaExceeded            ErrorKind = "quota_exceeded"
	KindRateLimited              ErrorKind = "rate_limited"
	KindBurstDetected            ErrorKind = "burst_detected"
	KindIPBlocked                ErrorKind = "ip_blocked"
	KindInternalError            ErrorKind = "internal_error"
)

// HTTPStatus returns the status code a denial of this kind is served with.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindAuthenticationRequired:
		return http.StatusUnauthorized
	case KindSubscriptionUnverifiable, KindPermissionDenied, KindIPBlocked:
		return http.StatusForbidden
	case KindQuotaExceeded, KindRateLimited, KindBurstDetected:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing explanation for a denial kind.
func (k ErrorKind) Message() string {
	switch k {
	case KindAuthenticationRequired:
		return "Authentication is required to access this resource"
	case KindSubscriptionUnverifiable:
		return "Your subscription could not be verified. Please try again shortly."
	case KindPermissionDenied:
		return "Your subscription tier does not allow this operation"
	case KindQuotaExceeded:
		return "You have used your quota for this billing period"
	case KindRateLimited:
		return "You have exceeded your request rate limit. Please slow down."
	case KindBurstDetected:
		return "Unusually rapid request activity detected. Please slow down."
	case KindIPBlocked:
		return "Requests from your address are temporarily blocked"
	default:
		return "An unexpected error occurred"
	}
}
