package terrain

import (
	"errors"
	"fmt"

	"github.com/airbusgeo/terrainfetch/internal/utils"
)

type ErrorCode int

const (
	TransientNetworkError ErrorCode = iota
	FormatError
	GeometryError
	ConfigurationError
)

func (c ErrorCode) String() string {
	switch c {
	case TransientNetworkError:
		return "TransientNetworkError"
	case FormatError:
		return "FormatError"
	case GeometryError:
		return "GeometryError"
	case ConfigurationError:
		return "ConfigurationError"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

type FetchError struct {
	code  ErrorCode
	desc  string
	cause error
}

// NewTransientNetworkError creates a new error for a failed or timed out network exchange.
// The cause is marked temporary.
func NewTransientNetworkError(cause error, desc string, a ...interface{}) error {
	return FetchError{code: TransientNetworkError, desc: fmt.Sprintf(desc, a...), cause: utils.MakeTemporary(cause)}
}

// NewFormatError creates a new error stating that a tile identifier or a file does not follow the expected naming
func NewFormatError(desc string, a ...interface{}) error {
	return FetchError{code: FormatError, desc: fmt.Sprintf(desc, a...)}
}

// NewGeometryError creates a new error stating that coordinates cannot be transformed
func NewGeometryError(cause error, desc string, a ...interface{}) error {
	return FetchError{code: GeometryError, desc: fmt.Sprintf(desc, a...), cause: cause}
}

// NewConfigurationError creates a new error stating that the user input is invalid
func NewConfigurationError(desc string, a ...interface{}) error {
	return FetchError{code: ConfigurationError, desc: fmt.Sprintf(desc, a...)}
}

// Error implements error
func (e FetchError) Error() string {
	if e.cause != nil {
		return e.code.String() + ": " + e.desc + ": " + e.cause.Error()
	}
	return e.code.String() + ": " + e.desc
}

func (e FetchError) Unwrap() error {
	return e.cause
}

// Desc returns a description of the error
func (e FetchError) Desc() string {
	return e.desc
}

// Code returns the code of the error
func (e FetchError) Code() ErrorCode {
	return e.code
}

// IsError tests whether error is a FetchError with the given code
func IsError(err error, code ErrorCode) bool {
	var ferr FetchError
	return errors.As(err, &ferr) && ferr.Code() == code
}

// AsError tests whether error is a FetchError and returns it
func AsError(err error) (FetchError, bool) {
	var ferr FetchError
	return ferr, errors.As(err, &ferr)
}
