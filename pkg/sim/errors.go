package sim

import "errors"

var (
	ErrInvalidProgram     = errors.New("invalid program")
	ErrNegativePropensity = errors.New("negative or undefined propensity")
	ErrDiverged           = errors.New("continuous state diverged")
	ErrUniqueViolation    = errors.New("unique agent already instantiated")
	ErrCascade            = errors.New("deterministic events did not settle")
)
