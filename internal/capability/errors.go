package capability

import "fmt"

// CapabilityError codes. Stable, machine readable.
const (
	CodeNotFound      = "not_found"
	CodeValidation    = "validation"
	CodeAuthorization = "authorization"
)

// CapabilityError is a typed failure from a mutating capability operation.
// Verification never returns one; "not valid" is a normal outcome there.
type CapabilityError struct {
	Code    string
	Message string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability error [%s]: %s", e.Code, e.Message)
}

func capErrorf(code, format string, args ...any) *CapabilityError {
	return &CapabilityError{Code: code, Message: fmt.Sprintf(format, args...)}
}
