package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/jllopis/agency/pkg/errors"
)

// CLIError pairs an AgencyError with a hint for the operator.
type CLIError struct {
	*errors.AgencyError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(ae *errors.AgencyError, hint string) *CLIError {
	return &CLIError{AgencyError: ae, Hint: hint}
}

// Error returns the message followed by the hint.
func (e *CLIError) Error() string {
	if e.AgencyError == nil {
		return "unknown error"
	}
	msg := e.AgencyError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the AgencyError to errors.As.
func (e *CLIError) Unwrap() error { return e.AgencyError }

type cliErrorJSON struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Hint    string `json:"hint,omitempty"`
	} `json:"error"`
}

// PrintError writes the error to stderr, as JSON when asked to.
func (e *CLIError) PrintError(asJSON bool) {
	if asJSON {
		var out cliErrorJSON
		out.Error.Code = string(e.Code)
		out.Error.Message = e.AgencyError.Error()
		out.Error.Hint = e.Hint
		_ = json.NewEncoder(os.Stderr).Encode(out)
		return
	}
	fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", e.Code, e.AgencyError.Error())
	if e.Hint != "" {
		fmt.Fprintf(os.Stderr, "  Hint: %s\n", e.Hint)
	}
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	ae := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg)
	return NewCLIError(ae, "run 'agency help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	ae := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath)
	hint := "check AGENCY_* variables and --set overrides"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(ae, hint)
}

// PrintError classifies err and prints it with a hint matching its code.
func PrintError(err error, asJSON bool) {
	var cliErr *CLIError
	if !stderrors.As(err, &cliErr) {
		ae := errors.Classify(err)
		cliErr = NewCLIError(ae, hintFor(ae.Code))
	}
	cliErr.PrintError(asJSON)
}

func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInvalidInput:
		return "check the prompt against guardrails.max_prompt_chars"
	case errors.CodeTimeout:
		return "raise crew.run_timeout or llm.timeout"
	case errors.CodeRateLimit:
		return "the model provider is throttling; retry later"
	case errors.CodeUnavailable:
		return "the circuit breaker is open; wait for llm.breaker.cooldown"
	case errors.CodeLLMError:
		return "check llm.provider, llm.model and the API key"
	case errors.CodeCrewError:
		return "check the crew definition with 'agency crew'"
	default:
		return ""
	}
}
