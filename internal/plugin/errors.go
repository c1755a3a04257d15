package plugin

import (
	"fmt"

	"github.com/mattjoyce/hookrelay/internal/protocol"
)

// CallError reports a failed plugin process invocation. Err is set when the
// process could not be run; otherwise Message carries the plugin's own error.
type CallError struct {
	Plugin  string
	Hook    string
	Phase   protocol.Phase
	Message string
	Err     error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plugin %q hook %q (%s): %v", e.Plugin, e.Hook, e.Phase, e.Err)
	}
	return fmt.Sprintf("plugin %q hook %q (%s): %s", e.Plugin, e.Hook, e.Phase, e.Message)
}

func (e *CallError) Unwrap() error { return e.Err }
