package registry

import "errors"

var (
	// ErrDuplicateName is returned when a name is already taken by another plugin.
	ErrDuplicateName = errors.New("plugin name already registered")
	// ErrDuplicatePlugin is returned when a plugin is already registered under another name.
	ErrDuplicatePlugin = errors.New("plugin already registered")
	// ErrUncomparable is returned for plugin values that cannot be compared for identity.
	ErrUncomparable = errors.New("plugin value is not comparable")
	// ErrNoHookSpecs is returned when a provider declares no specifications for the project.
	ErrNoHookSpecs = errors.New("no hook specifications found")
)
