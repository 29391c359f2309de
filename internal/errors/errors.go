package errors

import (
	stderrors "errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/julianstephens/wayfare/internal/logger"
)

// ErrInternal marks a programming error that was caught at a public entry
// point instead of crashing the caller.
var ErrInternal = stderrors.New("internal error")

// Format formats an error message with a consistent "Error: " prefix
func Format(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Error: %v", err)
}

// Formatf formats an error message with a consistent "Error: " prefix using a format string
func Formatf(format string, args ...interface{}) string {
	return fmt.Sprintf("Error: "+format, args...)
}

// Fatal logs an error and exits the program with exit code 1
func Fatal(err error) {
	if err != nil {
		logger.Error("Command execution failed", "error", err)
		fmt.Fprintf(os.Stderr, "%s\n", Format(err))
		os.Exit(1)
	}
}

// Fatalf logs and formats an error message, then exits the program with exit code 1
func Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Error("Command execution failed", "error", msg)
	fmt.Fprintf(os.Stderr, "%s\n", Formatf(format, args...))
	os.Exit(1)
}

// Recover converts a panic into an ErrInternal-wrapped error stored in *errp.
// It must be called directly by a deferred statement:
//
//	defer errors.Recover(&err, "engine.CheckIn")
func Recover(errp *error, op string) {
	r := recover()
	if r == nil {
		return
	}
	logger.Error("Recovered from panic", "op", op, "panic", r, "stack", string(debug.Stack()))
	if errp != nil {
		*errp = fmt.Errorf("%w: %s: %v", ErrInternal, op, r)
	}
}
