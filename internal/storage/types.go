package storage

import "errors"

var (
	// ErrNotFound indicates that the requested relationship was not found.
	ErrNotFound = errors.New("relation not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable indicates the backend is temporarily unavailable,
	// e.g. because the circuit breaker is open.
	ErrUnavailable = errors.New("storage unavailable")
)

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the total number of items across all pages.
	Total int

	// Page is the current page number (1-indexed).
	Page int

	// PageSize is the number of items per page.
	PageSize int

	// HasMore indicates whether there are more pages available.
	HasMore bool
}

// ListOptions provides pagination and filtering options for list operations.
type ListOptions struct {
	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 20, max: 100).
	Limit int

	// GateStatus filters by gate status ("open" or "blocked").
	// Empty string means no filter.
	GateStatus string

	// MinRisk filters to relationships with rupture_risk >= this value.
	MinRisk float64
}

// Normalize applies defaults and validates the ListOptions.
func (o *ListOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}

	if o.Limit < 1 {
		o.Limit = 20
	}

	if o.Limit > 100 {
		o.Limit = 100
	}

	if o.MinRisk < 0 {
		o.MinRisk = 0
	}

	if o.MinRisk > 1 {
		o.MinRisk = 1
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}
