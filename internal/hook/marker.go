package hook

// SpecOpts configures a hook specification.
type SpecOpts struct {
	FirstResult    bool
	Historic       bool
	WarnOnImpl     *Warning
	WarnOnImplArgs map[string]*Warning
}

// ImplOpts configures a hook implementation.
type ImplOpts struct {
	Wrapper       bool
	LegacyWrapper bool
	Optional      bool
	TryFirst      bool
	TryLast       bool
	// RenameTo implements the hook of that name instead of the declared one.
	RenameTo string
}

// SpecDecl declares one hook specification for a project.
type SpecDecl struct {
	project string
	Name    string
	Params  Params
	Opts    SpecOpts
}

// Project returns the project the declaration was marked for.
func (d SpecDecl) Project() string { return d.project }

// ImplDecl declares one hook implementation for a project.
type ImplDecl struct {
	project string
	Name    string
	Func    any
	Params  Params
	Opts    ImplOpts
}

// Project returns the project the declaration was marked for.
func (d ImplDecl) Project() string { return d.project }

// HookName returns the hook the implementation targets.
func (d ImplDecl) HookName() string {
	if d.Opts.RenameTo != "" {
		return d.Opts.RenameTo
	}
	return d.Name
}

// SpecProvider is a namespace of hook specifications.
type SpecProvider interface {
	HookSpecs() []SpecDecl
}

// ImplProvider is a plugin that contributes hook implementations.
type ImplProvider interface {
	HookImpls() []ImplDecl
}

// SpecMarker tags hook specifications for one project. A registry only reads
// declarations tagged with its own project name.
type SpecMarker struct {
	project string
}

// NewSpecMarker returns a SpecMarker for project.
func NewSpecMarker(project string) SpecMarker {
	return SpecMarker{project: project}
}

// Project returns the marker's project name.
func (m SpecMarker) Project() string { return m.project }

// Spec declares the specification of hook name. Invalid option combinations
// are rejected when the declaration is added to a registry.
func (m SpecMarker) Spec(name string, params Params, opts SpecOpts) SpecDecl {
	return SpecDecl{project: m.project, Name: name, Params: params, Opts: opts}
}

// ImplMarker tags hook implementations for one project.
type ImplMarker struct {
	project string
}

// NewImplMarker returns an ImplMarker for project.
func NewImplMarker(project string) ImplMarker {
	return ImplMarker{project: project}
}

// Project returns the marker's project name.
func (m ImplMarker) Project() string { return m.project }

// Impl declares fn as the implementation of hook name.
func (m ImplMarker) Impl(name string, fn any, params Params, opts ImplOpts) ImplDecl {
	return ImplDecl{project: m.project, Name: name, Func: fn, Params: params, Opts: opts}
}
