package roles

import (
	"fmt"

	"github.com/guildhall/guildhall/internal/platform/httpx"
)

// Domain errors. Each wraps an httpx sentinel so handlers map them to a status.
var (
	ErrNotFound        = fmt.Errorf("%w: role not found", httpx.ErrNotFound)
	ErrUserNotFound    = fmt.Errorf("%w: user not found", httpx.ErrNotFound)
	ErrDuplicateName   = fmt.Errorf("%w: role name already exists", httpx.ErrDuplicate)
	ErrAlreadyAssigned = fmt.Errorf("%w: user already has role", httpx.ErrDuplicate)
	ErrInvalidPosition = fmt.Errorf("%w: position must be at least 1", httpx.ErrValidation)
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", httpx.ErrValidation, fmt.Sprintf(format, args...))
}
