package users

import (
	"fmt"

	"github.com/guildhall/guildhall/internal/platform/httpx"
)

// ErrNotFound is returned for unknown user ids.
var ErrNotFound = fmt.Errorf("%w: user not found", httpx.ErrNotFound)
