// CLAUDE:SUMMARY Typed errors surfaced by the middlewares: circuit open and recovered panic.
package connectivity

import "fmt"

// ErrCircuitOpen is returned when the circuit breaker for an upstream is
// open, rejecting the call without attempting it.
type ErrCircuitOpen struct {
	Upstream string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Upstream)
}

// ErrPanic wraps a recovered panic value as an error.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("connectivity: call panicked: %v", e.Value)
}
