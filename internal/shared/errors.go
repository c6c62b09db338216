package shared

import (
	"fmt"

	"github.com/tremedam/Agendamento-Pro/internal/platform/httpx"
)

var (
	// ErrInvalidToken indicates a bearer token that failed verification.
	ErrInvalidToken = fmt.Errorf("invalid token: %w", httpx.ErrUnauthorized)
	// ErrUnknownRole indicates a role claim or header outside the known set.
	ErrUnknownRole = fmt.Errorf("unknown role: %w", httpx.ErrForbidden)
	// ErrRoleRequired is returned when the caller lacks the role a route needs.
	ErrRoleRequired = fmt.Errorf("role not allowed: %w", httpx.ErrForbidden)
)
