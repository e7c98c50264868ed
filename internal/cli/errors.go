package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/expflow/pkg/types"
)

// usageError marks bad flags or arguments.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// sysError marks failures of the environment (file system, network)
// rather than of the request.
type sysError struct{ err error }

func (e *sysError) Error() string { return e.err.Error() }
func (e *sysError) Unwrap() error { return e.err }

// isUserError reports whether err belongs to one of the expflow error
// families, all of which are caused by the request.
func isUserError(err error) bool {
	var ue usageError
	return errors.As(err, &ue) ||
		errors.Is(err, types.ErrValidation) ||
		errors.Is(err, types.ErrExists) ||
		errors.Is(err, types.ErrNotFound) ||
		errors.Is(err, types.ErrTypeMismatch)
}

// fail prefixes err with op. Errors outside the expflow families become
// system errors.
func fail(op string, err error) error {
	if err == nil {
		return nil
	}
	err = fmt.Errorf("%s: %w", op, err)
	if isUserError(err) {
		return err
	}
	return &sysError{err}
}

// exitCode maps an error returned by a command to the process exit code.
// Anything not marked as a system error, including cobra's own argument
// errors, is the user's.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var se *sysError
	if errors.As(err, &se) && !isUserError(err) {
		return exitSysError
	}
	return exitUserError
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// maxArgs is cobra.MaximumNArgs reporting a usage error.
func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MaximumNArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}
