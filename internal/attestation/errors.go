package attestation

import "fmt"

// AttestationError codes. Stable, machine readable.
const (
	CodeNotFound      = "not_found"
	CodeValidation    = "validation"
	CodeAuthorization = "authorization"
)

// AttestationError is a typed failure from a mutating attestation operation.
type AttestationError struct {
	Code    string
	Message string
}

func (e *AttestationError) Error() string {
	return fmt.Sprintf("attestation error [%s]: %s", e.Code, e.Message)
}

func attErrorf(code, format string, args ...any) *AttestationError {
	return &AttestationError{Code: code, Message: fmt.Sprintf(format, args...)}
}
