// Package exitcode defines the CLI exit codes.
package exitcode

import (
	"errors"
	"os"
)

// Exit codes for consistent error handling across the CLI.
const (
	// Success indicates successful execution.
	Success = 0

	// GeneralError indicates an unclassified error condition.
	GeneralError = 1

	// NeedsAlignment indicates the scope assessment recommends an
	// alignment session before planning.
	NeedsAlignment = 2

	// Aborted indicates the user cancelled the operation.
	Aborted = 3

	// ConfigError indicates invalid or unreadable configuration.
	ConfigError = 4

	// InfraError indicates a missing runtime, database failure, or other
	// environment problem.
	InfraError = 5
)

// Sentinel errors commands wrap to signal their exit code.
var (
	ErrNeedsAlignment = errors.New("alignment session recommended")
	ErrAborted        = errors.New("operation aborted")
	ErrConfig         = errors.New("configuration error")
	ErrInfra          = errors.New("infrastructure error")
)

// Exit terminates the program with the given exit code.
func Exit(code int) {
	os.Exit(code)
}

// FromError maps an error to its exit code.
func FromError(err error) int {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrNeedsAlignment):
		return NeedsAlignment
	case errors.Is(err, ErrAborted):
		return Aborted
	case errors.Is(err, ErrConfig):
		return ConfigError
	case errors.Is(err, ErrInfra):
		return InfraError
	default:
		return GeneralError
	}
}

// Description returns a human-readable description of an exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case NeedsAlignment:
		return "Alignment session recommended"
	case Aborted:
		return "Operation aborted"
	case ConfigError:
		return "Configuration error"
	case InfraError:
		return "Infrastructure error"
	default:
		return "Unknown error"
	}
}
