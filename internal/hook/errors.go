package hook

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a plugin has no implementation on a hook.
var ErrNotFound = errors.New("not found")

// HookCallError reports a hook called without an argument an implementation
// requires.
type HookCallError struct {
	Hook     string
	Argument string
	Plugin   string
}

func (e *HookCallError) Error() string {
	return fmt.Sprintf("hook %q: call must provide argument %q (plugin %s)", e.Hook, e.Argument, e.Plugin)
}

// ProtocolError reports a call made through the wrong entry point, such as
// calling a historic hook directly.
type ProtocolError struct {
	Hook   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("hook %q: %s", e.Hook, e.Reason)
}

// ValidationError reports a malformed hook implementation or specification.
type ValidationError struct {
	Plugin string
	Hook   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Hook == "" {
		return fmt.Sprintf("plugin %q: %s", e.Plugin, e.Reason)
	}
	return fmt.Sprintf("plugin %q, hook %q: %s", e.Plugin, e.Hook, e.Reason)
}

// WrapperError reports a wrapper frame that broke the single-suspension
// protocol.
type WrapperError struct {
	Hook   string
	Plugin string
	Reason string
}

func (e *WrapperError) Error() string {
	return fmt.Sprintf("wrapper of plugin %s on hook %q %s", e.Plugin, e.Hook, e.Reason)
}

// PanicError carries a panic recovered from plugin code.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes a panicked error value to errors.Is and errors.As.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Warning is a non-fatal diagnostic attached to a hook specification.
type Warning struct {
	Category string
	Message  string
}

func (w *Warning) String() string {
	if w.Category == "" {
		return w.Message
	}
	return w.Category + ": " + w.Message
}
