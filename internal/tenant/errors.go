package tenant

import (
	"errors"

	"github.com/ledgerly/backend/internal/apperr"
)

// AppError translates a store error into the API taxonomy. ErrNotFound becomes
// notFound, ErrIntegrity becomes a data-integrity failure and anything else is internal.
func AppError(err error, notFound apperr.Code, msg string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.Wrap(err, apperr.KindNotFound, notFound, msg)
	case errors.Is(err, ErrIntegrity):
		return apperr.Wrap(err, apperr.KindInternal, apperr.CodeDataIntegrity, "workspace data integrity violation")
	default:
		return apperr.Internal(err, msg)
	}
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
