package surrogate

import (
	"errors"
	"fmt"
)

// ErrNotPositiveDefinite is returned when the covariance matrix cannot be
// factorized even after jitter escalation
var ErrNotPositiveDefinite = errors.New("covariance matrix is not positive definite")

// InsufficientDataError is returned when the model is fit or queried with too
// few observations
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("surrogate needs at least %d observations, have %d", e.Need, e.Have)
}
