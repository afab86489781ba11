// Command ire runs the intake routing engine: the dropbox worker, a
// one-shot chain for a single message, determinism replay, and the
// audit verification utilities.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/intake-labs/ire/pkg/fault"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.Message != "" {
				fmt.Fprintln(os.Stderr, "Error:", ee.Message)
			}
			os.Exit(ee.Code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(fault.ExitCode(err))
	}
}

// exitError carries an explicit process exit code out of a command.
type exitError struct {
	Code    int
	Message string
	Err     error
}

func (e *exitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *exitError) Unwrap() error { return e.Err }
