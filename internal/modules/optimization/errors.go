package optimization

import "errors"

// Errors returned by the optimizer. Callers should match them with errors.Is;
// the returned values are wrapped with the offending field or term.
var (
	// ErrDimensionMismatch means the covariance matrix, expected-return vector,
	// asset list or a group's indices disagree on the asset count.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrUnknownLossType means a loss spec named a type outside exp, var, exp_l2, group.
	ErrUnknownLossType = errors.New("unknown loss type")

	// ErrMissingLossParameter means a loss spec lacks a field its type requires.
	ErrMissingLossParameter = errors.New("missing loss parameter")

	// ErrNonFiniteObjective aborts a run when a loss term or its gradient is NaN or Inf.
	ErrNonFiniteObjective = errors.New("non-finite objective")

	// ErrInvalidOptions rejects negative epoch counts and unusable learning rates.
	ErrInvalidOptions = errors.New("invalid optimizer options")

	// ErrNotConverged is returned when a result is requested before Fit completed.
	ErrNotConverged = errors.New("optimizer has not converged")
)
