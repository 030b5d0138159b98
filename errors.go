package bedrock

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Sentinel errors. Compare with errors.Is; most are wrapped with context
// before they reach the caller.
var (
	// ErrConfig marks malformed or inconsistent startup configuration.
	ErrConfig = errors.New("bedrock: invalid configuration")
	// ErrStopped is returned for requests made after shutdown began, and by
	// waits that were released by shutdown instead of their predicate.
	ErrStopped = errors.New("bedrock: engine stopped")
	// ErrQuit is the cancellation cause recorded on a clean quit.
	ErrQuit = errors.New("bedrock: quit requested")

	ErrInvalidTicket      = errors.New("bedrock: latch ticket out of range")
	ErrUnknownContext     = errors.New("bedrock: unknown context")
	ErrForeignContext     = errors.New("bedrock: context belongs to another group")
	ErrAlreadyOpen        = errors.New("bedrock: context already open")
	ErrUnknownGroup       = errors.New("bedrock: unknown context group")
	ErrUnknownAsset       = errors.New("bedrock: unknown asset")
	ErrUnknownContextType = errors.New("bedrock: unknown context type")
	ErrDuplicateThread    = errors.New("bedrock: thread already registered")
	ErrDataDropped        = errors.New("bedrock: data request dropped")
	ErrNoRenderLoop       = errors.New("bedrock: turns lock needs a running render loop")
)

// ThreadError is a failure raised by a managed goroutine.
type ThreadError struct {
	Thread string
	Err    error
}

func (e *ThreadError) Error() string {
	return fmt.Sprintf("bedrock: thread %q: %v", e.Thread, e.Err)
}

func (e *ThreadError) Unwrap() error { return e.Err }

// PanicError carries a recovered panic value and the stack at the point of
// recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
