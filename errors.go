package keypager

import "errors"

var (
	// ErrInvalidSortSpec is returned for a malformed ordering: unknown
	// direction, duplicated column or forbidden column name.
	ErrInvalidSortSpec = errors.New("invalid sort spec")
	// ErrCorruptCursor is returned when a token cannot be parsed or its type
	// tags do not fit the ordering in force.
	ErrCorruptCursor = errors.New("corrupt cursor")
	// ErrCursorArityMismatch is returned when a decoded cursor carries a
	// different number of values than the ordering it is applied to.
	ErrCursorArityMismatch = errors.New("cursor arity mismatch")
	// ErrSortTieBreakerMissing means the ordering reached the predicate
	// builder without being normalized. It is an integration error.
	ErrSortTieBreakerMissing = errors.New("sort tie-breaker missing")
	// ErrPipelineIdentityProjectionViolation means an external pipeline
	// stage strips or reorders away the tie-breaker column.
	ErrPipelineIdentityProjectionViolation = errors.New("pipeline identity projection violation")
	// ErrUnsupportedValue is returned when a boundary value cannot be
	// represented in a cursor.
	ErrUnsupportedValue = errors.New("unsupported cursor value")
)

// IsClientError reports whether err was caused by client input (a bad sort
// or token) rather than by the integrator.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSortSpec) ||
		errors.Is(err, ErrCorruptCursor) ||
		errors.Is(err, ErrCursorArityMismatch)
}

func isIntegrationError(err error) bool {
	return errors.Is(err, ErrSortTieBreakerMissing) ||
		errors.Is(err, ErrPipelineIdentityProjectionViolation) ||
		errors.Is(err, ErrUnsupportedValue)
}
