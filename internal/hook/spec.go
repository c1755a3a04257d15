package hook

import (
	"fmt"
	"slices"
)

// Spec is the declared contract of a hook: its argument names and call mode.
type Spec struct {
	namespace  any
	name       string
	argNames   []string
	kwargNames []string
	opts       SpecOpts
}

// NewSpec builds the specification declared by decl inside namespace.
func NewSpec(namespace any, decl SpecDecl) (*Spec, error) {
	if decl.Name == "" {
		return nil, fmt.Errorf("hook specification has no name")
	}
	if decl.Opts.Historic && decl.Opts.FirstResult {
		return nil, fmt.Errorf("hook %q: cannot have a historic firstresult hook", decl.Name)
	}
	if err := checkNames(decl.Params); err != nil {
		return nil, fmt.Errorf("hook %q: %w", decl.Name, err)
	}
	return &Spec{
		namespace:  namespace,
		name:       decl.Name,
		argNames:   slices.Clone(decl.Params.Args),
		kwargNames: slices.Clone(decl.Params.Defaults),
		opts:       decl.Opts,
	}, nil
}

// Namespace returns the provider the specification was declared in.
func (s *Spec) Namespace() any { return s.namespace }

// Name returns the hook name.
func (s *Spec) Name() string { return s.name }

// ArgNames returns the declared argument names.
func (s *Spec) ArgNames() []string { return slices.Clone(s.argNames) }

// KwargNames returns the declared argument names that carry defaults.
func (s *Spec) KwargNames() []string { return slices.Clone(s.kwargNames) }

// Opts returns the specification's options.
func (s *Spec) Opts() SpecOpts { return s.opts }

// FirstResult reports first-result-only dispatch.
func (s *Spec) FirstResult() bool { return s.opts.FirstResult }

// Historic reports a historic hook.
func (s *Spec) Historic() bool { return s.opts.Historic }
