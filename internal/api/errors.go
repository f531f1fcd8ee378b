package api

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Error represents an API error
type Error struct {
	Code    int
	Message string
}

// NewError creates a new API error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// RPCCode returns the JSON-RPC error code.
func (e *Error) RPCCode() int {
	return e.Code
}

// coder is implemented by errors that carry their own JSON-RPC code.
type coder interface {
	RPCCode() int
}

// errorCode maps a method error to a JSON-RPC code and message.
func errorCode(err error) (int, string) {
	var c coder
	if errors.As(err, &c) {
		if c.RPCCode() == ErrInvalidParams {
			return ErrInvalidParams, "Invalid params"
		}
		return c.RPCCode(), "Server error"
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return ErrInvalidParams, "Invalid params"
	}
	return ErrServerError, "Server error"
}
