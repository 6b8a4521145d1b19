package identity

import "fmt"

// DIDError codes. Stable, machine readable.
const (
	CodeUnsupportedMethod = "unsupported_method"
	CodeNotFound          = "not_found"
	CodeInvalidDID        = "invalid_did"
	CodeConflict          = "conflict"
	CodeValidation        = "validation"
)

// DIDError is a typed DID service failure carrying a stable code for the
// transport layer to translate.
type DIDError struct {
	Code    string
	Message string
}

func (e *DIDError) Error() string {
	return fmt.Sprintf("did error [%s]: %s", e.Code, e.Message)
}

func didErrorf(code, format string, args ...any) *DIDError {
	return &DIDError{Code: code, Message: fmt.Sprintf(format, args...)}
}
