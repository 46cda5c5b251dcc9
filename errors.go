package andersen

import (
	"errors"
	"fmt"
)

// ErrContractViolation is wrapped by every panic raised when the engine is
// handed input that breaks its preconditions. Analyze turns such panics into
// returned errors.
var ErrContractViolation = errors.New("contract violation")

func violation(format string, args ...any) {
	panic(fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...)))
}

// IsContractViolation reports whether a recovered panic value is a contract
// violation.
func IsContractViolation(p any) bool {
	err, ok := p.(error)
	return ok && errors.Is(err, ErrContractViolation)
}
