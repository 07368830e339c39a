package application

import (
	"errors"
	"fmt"
)

// ----------------------------------------------
// Result Codes
// ----------------------------------------------

// ResultCode classifies the outcome of a runtime or application operation.
// The codes double as process exit codes, so they must stay within 0..255.
type ResultCode int

const (
	// ResultOK signals success
	ResultOK ResultCode = 0

	// ResultArgumentError signals invalid arguments or configuration values
	ResultArgumentError ResultCode = 1

	// ResultFail signals a generic runtime failure
	ResultFail ResultCode = 2

	// ResultInternalError signals a bug in the runtime itself
	ResultInternalError ResultCode = 3

	// ResultNetworkError signals a communication failure between the
	// coordinator and a worker replica
	ResultNetworkError ResultCode = 9

	// ResultApplicationError signals a failure raised by application code
	ResultApplicationError ResultCode = 32

	// ResultApplicationTestError signals a failure in an application
	// self-test (watchdog check)
	ResultApplicationTestError ResultCode = 33

	// ResultApplicationConfigError signals an invalid application config file
	ResultApplicationConfigError ResultCode = 34

	// ResultApplicationModuleError signals that the application factory could
	// not be resolved or instantiated
	ResultApplicationModuleError ResultCode = 35

	// ResultServerError signals a failure in the front-facing server
	ResultServerError ResultCode = 128

	// ResultUnmetRequirement signals that a requirement of the application
	// (device, file, external service) is not available on this host
	ResultUnmetRequirement ResultCode = 255
)

// String returns a human-readable name for the result code
func (c ResultCode) String() string {
	switch c {
	case ResultOK:
		return "ok"
	case ResultArgumentError:
		return "argument error"
	case ResultFail:
		return "failure"
	case ResultInternalError:
		return "internal error"
	case ResultNetworkError:
		return "network error"
	case ResultApplicationError:
		return "application error"
	case ResultApplicationTestError:
		return "application test error"
	case ResultApplicationConfigError:
		return "application config error"
	case ResultApplicationModuleError:
		return "application module error"
	case ResultServerError:
		return "server error"
	case ResultUnmetRequirement:
		return "unmet requirement"
	default:
		return fmt.Sprintf("result code %d", int(c))
	}
}

// ----------------------------------------------
// Error Type
// ----------------------------------------------

// Error is an error carrying a ResultCode. All errors crossing the
// application/runtime boundary should be of this type so the runtime can
// propagate the code into exit codes and responses.
type Error struct {
	Code ResultCode
	Msg  string
}

// NewError creates an Error with the given code and message
func NewError(code ResultCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Errorf creates an Error with the given code and a formatted message
func Errorf(code ResultCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// CodeOf extracts the ResultCode from an error. A nil error maps to
// ResultOK, an error without a code maps to ResultApplicationError.
func CodeOf(err error) ResultCode {
	if err == nil {
		return ResultOK
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ResultApplicationError
}
