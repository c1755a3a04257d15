package plugin_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hookrelay/internal/hook"
	"github.com/mattjoyce/hookrelay/internal/log"
	"github.com/mattjoyce/hookrelay/internal/plugin"
	"github.com/mattjoyce/hookrelay/internal/plugin/mocks"
	"github.com/mattjoyce/hookrelay/internal/protocol"
	"github.com/mattjoyce/hookrelay/internal/registry"
)

const project = "hookrelay"

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type specTable []hook.SpecDecl

func (s specTable) HookSpecs() []hook.SpecDecl { return s }

// native is an in-process plugin returning a fixed value.
type native struct {
	name  string
	value any
}

func (n *native) PluginName() string { return n.name }

func (n *native) HookImpls() []hook.ImplDecl {
	m := hook.NewImplMarker(project)
	return []hook.ImplDecl{
		m.Impl("collect", func(path string) any { return n.value }, hook.P("path"), hook.ImplOpts{}),
	}
}

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New(project)
	sm := hook.NewSpecMarker(project)
	require.NoError(t, r.AddHookSpecs(specTable{
		sm.Spec("collect", hook.P("path"), hook.SpecOpts{}),
	}))
	return r
}

func lintPlugin(hooks ...plugin.HookDecl) *plugin.Plugin {
	return &plugin.Plugin{
		Name:       "lint",
		Entrypoint: "/plugins/lint/run.sh",
		Protocol:   protocol.Version,
		Hooks:      hooks,
	}
}

func TestAdapterRegularCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	runner.EXPECT().
		Run(gomock.Any(), "/plugins/lint/run.sh", gomock.Any(), 5*time.Second).
		DoAndReturn(func(_ context.Context, _ string, req *protocol.Request, _ time.Duration) (*protocol.Response, error) {
			assert.Equal(t, protocol.Version, req.Protocol)
			assert.Equal(t, protocol.PhaseCall, req.Phase)
			assert.Equal(t, "collect", req.Hook)
			assert.Equal(t, map[string]any{"path": "/src"}, req.Args)
			assert.Equal(t, map[string]any{"strict": true}, req.Config)
			assert.NotEmpty(t, req.CallID)
			assert.Nil(t, req.Outcome)
			assert.False(t, req.DeadlineAt.IsZero())
			return &protocol.Response{
				Status: "ok",
				Result: "3 findings",
				Logs:   []protocol.LogEntry{{Level: "info", Message: "scanned"}},
			}, nil
		})

	adapter := plugin.NewAdapter(
		lintPlugin(plugin.HookDecl{Name: "collect", Args: []string{"path"}}),
		runner,
		hook.NewImplMarker(project),
		plugin.WithConfig(map[string]any{"strict": true}),
		plugin.WithTimeout(5*time.Second),
	)

	r := newRegistry(t)
	name, err := r.Register(adapter, "")
	require.NoError(t, err)
	assert.Equal(t, "lint", name)

	out, err := r.HookCaller("collect").Call(hook.Args{"path": "/src"})
	require.NoError(t, err)
	assert.Equal(t, []any{"3 findings"}, out)
}

func TestAdapterNullResultIsSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&protocol.Response{Status: "ok"}, nil)

	adapter := plugin.NewAdapter(lintPlugin(plugin.HookDecl{Name: "collect", Args: []string{"path"}}), runner, hook.NewImplMarker(project))
	r := newRegistry(t)
	_, err := r.Register(adapter, "")
	require.NoError(t, err)
	_, err = r.Register(&native{name: "native", value: 7}, "")
	require.NoError(t, err)

	out, err := r.HookCaller("collect").Call(hook.Args{"path": "/src"})
	require.NoError(t, err)
	assert.Equal(t, []any{7}, out)
}

func TestAdapterPluginError(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&protocol.Response{Status: "error", Error: "config missing"}, nil)

	adapter := plugin.NewAdapter(lintPlugin(plugin.HookDecl{Name: "collect", Args: []string{"path"}}), runner, hook.NewImplMarker(project))
	r := newRegistry(t)
	_, err := r.Register(adapter, "")
	require.NoError(t, err)

	_, err = r.HookCaller("collect").Call(hook.Args{"path": "/src"})
	require.Error(t, err)

	var callErr *plugin.CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "lint", callErr.Plugin)
	assert.Equal(t, "collect", callErr.Hook)
	assert.Equal(t, protocol.PhaseCall, callErr.Phase)
	assert.Equal(t, "config missing", callErr.Message)
}

func TestAdapterRunnerError(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, context.DeadlineExceeded)

	adapter := plugin.NewAdapter(lintPlugin(plugin.HookDecl{Name: "collect", Args: []string{"path"}}), runner, hook.NewImplMarker(project))
	r := newRegistry(t)
	_, err := r.Register(adapter, "")
	require.NoError(t, err)

	_, err = r.HookCaller("collect").Call(hook.Args{"path": "/src"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAdapterWrapperRunsSetupAndTeardown(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	gomock.InOrder(
		runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, req *protocol.Request, _ time.Duration) (*protocol.Response, error) {
				assert.Equal(t, protocol.PhaseSetup, req.Phase)
				assert.Nil(t, req.Outcome)
				return &protocol.Response{Status: "ok", State: map[string]any{"started": "t0"}}, nil
			}),
		runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, req *protocol.Request, _ time.Duration) (*protocol.Response, error) {
				assert.Equal(t, protocol.PhaseTeardown, req.Phase)
				assert.Equal(t, map[string]any{"started": "t0"}, req.State)
				require.NotNil(t, req.Outcome)
				assert.Equal(t, []any{"inner"}, req.Outcome.Result)
				assert.Empty(t, req.Outcome.Error)
				return &protocol.Response{Status: "ok", Replace: true, Result: "wrapped"}, nil
			}),
	)

	adapter := plugin.NewAdapter(
		lintPlugin(plugin.HookDecl{Name: "collect", Args: []string{"path"}, Wrapper: true}),
		runner,
		hook.NewImplMarker(project),
	)
	r := newRegistry(t)
	_, err := r.Register(&native{name: "native", value: "inner"}, "")
	require.NoError(t, err)
	_, err = r.Register(adapter, "")
	require.NoError(t, err)

	out, err := r.HookCaller("collect").Call(hook.Args{"path": "/src"})
	require.NoError(t, err)
	assert.Equal(t, "wrapped", out)
}

func TestAdapterWrapperTeardownSeesInnerError(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	gomock.InOrder(
		runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&protocol.Response{Status: "ok"}, nil),
		runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, req *protocol.Request, _ time.Duration) (*protocol.Response, error) {
				require.NotNil(t, req.Outcome)
				assert.Contains(t, req.Outcome.Error, "path")
				return &protocol.Response{Status: "ok"}, nil
			}),
	)

	adapter := plugin.NewAdapter(
		lintPlugin(plugin.HookDecl{Name: "collect", LegacyWrapper: true}),
		runner,
		hook.NewImplMarker(project),
	)
	r := newRegistry(t)
	_, err := r.Register(&native{name: "native"}, "")
	require.NoError(t, err)
	_, err = r.Register(adapter, "")
	require.NoError(t, err)

	// Without "path" the inner implementation cannot bind its argument.
	_, err = r.HookCaller("collect").Call(hook.Args{})
	var bindErr *hook.HookCallError
	require.True(t, errors.As(err, &bindErr))
}

func TestAdapterWrapperSetupFailureSkipsTeardown(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&protocol.Response{Status: "error", Error: "setup refused"}, nil).
		Times(1)

	adapter := plugin.NewAdapter(
		lintPlugin(plugin.HookDecl{Name: "collect", Wrapper: true}),
		runner,
		hook.NewImplMarker(project),
	)
	r := newRegistry(t)
	_, err := r.Register(adapter, "")
	require.NoError(t, err)

	_, err = r.HookCaller("collect").Call(hook.Args{"path": "/src"})
	var callErr *plugin.CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, protocol.PhaseSetup, callErr.Phase)
}

func TestAdapterImplOptions(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	adapter := plugin.NewAdapter(
		lintPlugin(
			plugin.HookDecl{Name: "collect_v1", Args: []string{"path"}, TryFirst: true, RenameTo: "collect"},
			plugin.HookDecl{Name: "unknown_hook", Optional: true},
		),
		runner,
		hook.NewImplMarker(project),
	)
	r := newRegistry(t)
	_, err := r.Register(adapter, "")
	require.NoError(t, err)
	require.NoError(t, r.CheckPending())

	impls := r.HookCaller("collect").Impls()
	require.Len(t, impls, 1)
	assert.True(t, impls[0].TryFirst())
	assert.Equal(t, "lint", impls[0].PluginName())
	assert.Len(t, r.HookCallers(adapter), 2)
}

func TestAdapterRejectedForUnknownArgument(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	adapter := plugin.NewAdapter(
		lintPlugin(plugin.HookDecl{Name: "collect", Args: []string{"path", "verbose"}}),
		runner,
		hook.NewImplMarker(project),
	)
	r := newRegistry(t)
	_, err := r.Register(adapter, "")
	var vErr *hook.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.False(t, r.HasPlugin("lint"))
}
