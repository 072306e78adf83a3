package httpadapter

import (
	"net/http"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrAuthorizationEmpty), domain.IsKind(err, domain.ErrForbidden):
		return http.StatusForbidden
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicErrorMessage keeps internal diagnostics out of responses.
func publicErrorMessage(err error, status int) string {
	switch {
	case domain.IsKind(err, domain.ErrAuthorizationEmpty):
		return "Role is not authorized for any departments."
	case status == http.StatusBadRequest, status == http.StatusNotFound:
		return err.Error()
	case status == http.StatusUnauthorized:
		return "Invalid credentials"
	case status == http.StatusForbidden:
		return "forbidden"
	case status == http.StatusServiceUnavailable:
		return "upstream service is temporarily unavailable"
	default:
		return "internal error"
	}
}

func rejectionReason(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrAuthorizationEmpty):
		return "authorization_empty"
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid_input"
	case domain.IsKind(err, domain.ErrTemporary):
		return "temporary"
	default:
		return "internal"
	}
}
