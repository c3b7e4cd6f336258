package errors

import (
	"fmt"
)

var (
	// ErrNotFound covers unknown indices, nodes, edges and sessions.
	ErrNotFound = fmt.Errorf("knowstore: not found")

	// ErrInvalidParams covers validation failures such as dimension
	// mismatches, malformed filters and missing edge endpoints.
	ErrInvalidParams = fmt.Errorf("knowstore: invalid params")

	// ErrUnavailable signals a managed backend that cannot be reached.
	// It is never retried internally.
	ErrUnavailable = fmt.Errorf("knowstore: backend unavailable")

	ErrInvalidConfig = fmt.Errorf("knowstore: invalid config")
	ErrInternal      = fmt.Errorf("knowstore: internal error")
)
