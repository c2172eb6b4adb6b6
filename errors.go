// Package blocking provides typed errors with cause-chain support for
// the blocking-thread-pool bridge.
package blocking

import "fmt"

// Unwrap returns the underlying error if the recovered panic value is
// itself an error, enabling errors.Is/errors.As through the cause
// chain.
//
// Example:
//
//	// If spawned work panics with an error value
//	perr := &PanicError{Value: io.EOF}
//
//	// We can check if it wraps a specific error
//	if errors.Is(perr, io.EOF) {
//	    // This will match
//	}
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// WrapError wraps an error with a message, preserving the cause chain
// so that errors.Is(result, cause) == true.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
