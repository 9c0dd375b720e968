package errs

import (
	"errors"
	"fmt"
	"net/http"

	"dospill/internal/pkg/logx"
)

// CustomError carries a business code, a user-facing message and the HTTP status
// used when the error is written to a response.
type CustomError struct {
	Code    int
	Message string
	Status  int
}

// Error implements the error interface.
func (e CustomError) Error() string {
	return fmt.Sprintf("Error Code %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// NewError returns the CustomError registered for code. An optional underlying error
// is logged (never exposed). Unknown codes degrade to ErrUnknown.
func NewError(code int, cause ...error) *CustomError {
	tmpl, ok := errorMap[code]
	if !ok {
		logx.Error(
			fmt.Errorf("code %d is not registered", code),
			"Unknown error code requested",
			"requested_code", code,
		)
		tmpl = errorMap[ErrUnknown]
	}

	if tmpl.Status == 0 {
		tmpl.Status = http.StatusOK
	}

	if len(cause) > 0 && cause[0] != nil {
		logx.Error(cause[0], "Error resolved to application code", "code", tmpl.Code)
	}

	return &tmpl
}

// As extracts a *CustomError from err, falling back to ErrUnknown.
func As(err error) *CustomError {
	if err == nil {
		return nil
	}
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce
	}
	return NewError(ErrUnknown, err)
}

// Is reports whether err carries the given application code.
func Is(err error, code int) bool {
	var ce *CustomError
	return errors.As(err, &ce) && ce.Code == code
}
