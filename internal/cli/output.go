package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
)

// Exit statuses of pmc.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a unit did not lower or validate, or a scenario failed
	ExitCommandError = 2 // bad arguments, unreadable units, config or build cache
)

// ExitError carries the exit status of a failed command. cmd/pmc prints
// errors that are not ExitErrors, since those were already reported.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// failedWith is the ExitFailure for n problems found while doing what,
// e.g. "lowering" or "validation".
func failedWith(what string, n int) *ExitError {
	return NewExitError(ExitFailure, fmt.Sprintf("%s failed with %d error(s)", what, n))
}

// GetExitCode extracts the exit code from an error. Errors that are not
// ExitErrors map to ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as text or as a JSON envelope.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose progress; falls back to Writer
	Verbose   bool
}

// JSON reports whether results are written as a JSON envelope.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string     `json:"status"` // "ok" or "error"
	Data   any        `json:"data,omitempty"`
	Error  *CLIError  `json:"error,omitempty"`  // first problem
	Errors []CLIError `json:"errors,omitempty"` // every problem, in report order
}

// CLIError is one reported problem. Lowering problems carry the unit,
// backend and IR record in Details (see DiagErrors).
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e CLIError) String() string {
	return e.Code + ": " + e.Message
}

// Respond writes data and errs as one indented envelope. The status is
// "error" as soon as errs is not empty.
func (f *OutputFormatter) Respond(data any, errs []CLIError) error {
	resp := CLIResponse{Status: "ok", Data: data}
	if len(errs) > 0 {
		resp.Status = "error"
		resp.Error = &errs[0]
		resp.Errors = errs
	}
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// Success writes a successful result.
func (f *OutputFormatter) Success(data any) error {
	if f.JSON() {
		return f.Respond(data, nil)
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error writes a single problem.
func (f *OutputFormatter) Error(code, message string, details any) error {
	e := CLIError{Code: code, Message: message, Details: details}
	if f.JSON() {
		return f.Respond(nil, []CLIError{e})
	}
	fmt.Fprintf(f.Writer, "%s Error [%s]: %s\n", Fail(), code, message)
	f.details("Details: ", details)
	return nil
}

// Problems writes the text form of a failed command: a headline, then one
// line per problem. Details follow each problem in verbose mode.
func (f *OutputFormatter) Problems(headline string, errs []CLIError) {
	fmt.Fprintf(f.Writer, "%s %s\n\n", Fail(), headline)
	for _, e := range errs {
		fmt.Fprintf(f.Writer, "  %s\n", e)
		f.details("    ", e.Details)
	}
}

// details prints lowering context (unit, backend, record) sorted by key,
// or any other details value as is.
func (f *OutputFormatter) details(indent string, details any) {
	if !f.Verbose || details == nil {
		return
	}
	m, ok := details.(map[string]string)
	if !ok {
		fmt.Fprintf(f.Writer, "%s%v\n", indent, details)
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(f.Writer, "%s%s=%s\n", indent, k, m[k])
	}
}

// VerboseLog writes progress in verbose mode. It goes to ErrWriter when
// set, which keeps JSON on Writer intact.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
)

// OK returns the success mark, green on a terminal.
func OK() string {
	return okMark("✓")
}

// Fail returns the failure mark, red on a terminal.
func Fail() string {
	return failMark("✗")
}
