// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tombee/toolhub/internal/config"
	"github.com/tombee/toolhub/internal/mcp"
)

// Exit codes for toolhub commands.
const (
	ExitSuccess       = 0
	ExitFailure       = 1
	ExitInvalidConfig = 2
	ExitUnavailable   = 3 // server could not be reached or is not connected
	ExitToolFailed    = 4 // tool missing or the call failed
)

// ExitError is an error that carries an exit code.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates an error for unreadable or invalid configuration.
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidConfig, Message: msg, Cause: cause}
}

// NewToolError wraps a failed tool operation with the exit code its cause
// deserves.
func NewToolError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitCodeFor(cause), Message: msg, Cause: cause}
}

// ExitCodeFor maps an error to an exit code by its sentinel.
func ExitCodeFor(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, mcp.ErrInvalidDescriptor),
		errors.Is(err, mcp.ErrDuplicateServer):
		return ExitInvalidConfig
	case errors.Is(err, mcp.ErrConnectionFailed),
		errors.Is(err, mcp.ErrServerNotConnected),
		errors.Is(err, mcp.ErrServerNotRegistered):
		return ExitUnavailable
	case errors.Is(err, mcp.ErrToolNotFound),
		errors.Is(err, mcp.ErrToolInvocation):
		return ExitToolFailed
	default:
		return ExitFailure
	}
}

// HandleExitError prints err with any suggestion and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(ReportError(os.Stderr, err))
}

// ReportError writes err and its suggestion to w and returns the exit code.
func ReportError(w io.Writer, err error) int {
	fmt.Fprintln(w, "Error:", err.Error())
	if s := suggestionFor(err); s != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", s)
	}
	return ExitCodeFor(err)
}

// suggestionFor walks the chain for the first error offering a suggestion.
func suggestionFor(err error) string {
	for err != nil {
		if s, ok := err.(interface{ Suggestion() string }); ok {
			return s.Suggestion()
		}
		err = errors.Unwrap(err)
	}
	return ""
}
