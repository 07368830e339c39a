package application

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	cases := map[string]struct {
		err  error
		want ResultCode
	}{
		"nil error":      {nil, ResultOK},
		"typed error":    {NewError(ResultUnmetRequirement, "no device"), ResultUnmetRequirement},
		"wrapped error":  {fmt.Errorf("outer: %w", NewError(ResultNetworkError, "timeout")), ResultNetworkError},
		"plain error":    {errors.New("something"), ResultApplicationError},
		"formatted code": {Errorf(ResultApplicationConfigError, "bad value %d", 7), ResultApplicationConfigError},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			if got := CodeOf(c.err); got != c.want {
				t.Errorf("CodeOf(%v) = %d, want %d", c.err, got, c.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewError(ResultUnmetRequirement, "no accelerator found")
	want := "unmet requirement: no accelerator found"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}

func TestResultCodesAreValidExitCodes(t *testing.T) {
	codes := []ResultCode{
		ResultOK, ResultArgumentError, ResultFail, ResultInternalError,
		ResultNetworkError, ResultApplicationError, ResultApplicationTestError,
		ResultApplicationConfigError, ResultApplicationModuleError,
		ResultServerError, ResultUnmetRequirement,
	}
	for _, code := range codes {
		if code < 0 || code > 255 {
			t.Errorf("Result code %d is not a valid process exit code", code)
		}
	}
}
