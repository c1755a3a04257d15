package relay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hookrelay/internal/config"
	"github.com/mattjoyce/hookrelay/internal/hook"
	"github.com/mattjoyce/hookrelay/internal/journal"
	"github.com/mattjoyce/hookrelay/internal/log"
	"github.com/mattjoyce/hookrelay/internal/plugin/mocks"
	"github.com/mattjoyce/hookrelay/internal/protocol"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

const lintManifest = `name: lint
version: 1.2.0
protocol: 1
entrypoint: run.sh
hooks:
  - name: hookrelay_startup
    args: [service]
  - name: collect
    args: [path]
`

func writePlugin(t *testing.T, root, name, manifest string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte("#!/bin/sh\n"), 0o755))
}

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "plugins")
	require.NoError(t, os.MkdirAll(root, 0o755))

	cfg := config.Defaults()
	cfg.PluginRoots = []string{root}
	cfg.Hooks = []config.HookConf{
		{Name: "collect", Args: []string{"path"}},
		{Name: "announce", Args: []string{"msg"}, Historic: true},
	}
	return cfg, root
}

// fakePlugin answers startup with nothing and collect with "linted <path>".
func fakePlugin(t *testing.T, runner *mocks.MockRunner) (startups *int) {
	n := 0
	runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, req *protocol.Request, _ time.Duration) (*protocol.Response, error) {
			switch req.Hook {
			case StartupHook:
				n++
				assert.Equal(t, map[string]any{"service": "hookrelay"}, req.Args)
				return &protocol.Response{Status: "ok"}, nil
			case "collect":
				return &protocol.Response{Status: "ok", Result: "linted " + req.Args["path"].(string)}, nil
			}
			t.Errorf("unexpected hook %q", req.Hook)
			return &protocol.Response{Status: "error", Error: "unexpected"}, nil
		}).AnyTimes()
	return &n
}

type announcer struct{ project string }

func (a *announcer) HookImpls() []hook.ImplDecl {
	m := hook.NewImplMarker(a.project)
	return []hook.ImplDecl{
		m.Impl("announce", func(msg string) string { return "heard " + msg }, hook.P("msg"), hook.ImplOpts{}),
	}
}

func TestNewWithoutPlugins(t *testing.T) {
	cfg := config.Defaults()
	cfg.PluginRoots = []string{filepath.Join(t.TempDir(), "missing")}

	r, err := New(context.Background(), cfg, WithRunner(mocks.NewMockRunner(gomock.NewController(t))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	info, ok := r.Hook(StartupHook)
	require.True(t, ok)
	assert.True(t, info.Historic)
	assert.Equal(t, []string{"service", "started_at"}, info.Args)
	assert.Empty(t, r.Plugins())

	_, err = r.Journal()
	assert.ErrorIs(t, err, ErrJournalOff)
}

func TestProcessPluginRegisteredAndCalled(t *testing.T) {
	cfg, root := testConfig(t)
	writePlugin(t, root, "lint", lintManifest)

	runner := mocks.NewMockRunner(gomock.NewController(t))
	startups := fakePlugin(t, runner)

	r, err := New(context.Background(), cfg, WithRunner(runner))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	assert.Equal(t, 1, *startups, "startup replays into plugins registered after it was called")

	plugins := r.Plugins()
	require.Len(t, plugins, 1)
	assert.Equal(t, "lint", plugins[0].Name)
	assert.Equal(t, "process", plugins[0].Kind)
	assert.Equal(t, "1.2.0", plugins[0].Version)
	assert.Len(t, plugins[0].Digest, 64)
	assert.Equal(t, []string{"collect", StartupHook}, plugins[0].Hooks)

	out, err := r.Call("collect", hook.Args{"path": "/src"})
	require.NoError(t, err)
	assert.Equal(t, []any{"linted /src"}, out)

	_, err = r.Call("nope", nil)
	assert.ErrorIs(t, err, ErrUnknownHook)
}

func TestCallExcluding(t *testing.T) {
	cfg, root := testConfig(t)
	writePlugin(t, root, "lint", lintManifest)

	runner := mocks.NewMockRunner(gomock.NewController(t))
	fakePlugin(t, runner)

	r, err := New(context.Background(), cfg, WithRunner(runner))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	out, err := r.CallExcluding("collect", hook.Args{"path": "/src"}, []string{"lint"})
	require.NoError(t, err)
	assert.Equal(t, []any{}, out)

	_, err = r.CallExcluding("collect", hook.Args{"path": "/src"}, []string{"ghost"})
	assert.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestHistoricCallCollectsResults(t *testing.T) {
	cfg, _ := testConfig(t)
	r, err := New(context.Background(), cfg, WithRunner(mocks.NewMockRunner(gomock.NewController(t))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	out, err := r.Call("announce", hook.Args{"msg": "first"})
	require.NoError(t, err)
	assert.Equal(t, []any{}, out)

	name, err := r.Register(&announcer{project: cfg.Service.Project}, "announcer")
	require.NoError(t, err)
	assert.Equal(t, "announcer", name)

	out, err = r.Call("announce", hook.Args{"msg": "second"})
	require.NoError(t, err)
	assert.Equal(t, []any{"heard second"}, out)

	plugins := r.Plugins()
	require.Len(t, plugins, 1)
	assert.Equal(t, "in-process", plugins[0].Kind)
}

func TestBlockUnregisterReload(t *testing.T) {
	cfg, root := testConfig(t)
	writePlugin(t, root, "lint", lintManifest)

	runner := mocks.NewMockRunner(gomock.NewController(t))
	startups := fakePlugin(t, runner)

	r, err := New(context.Background(), cfg, WithRunner(runner))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	require.NoError(t, r.Unregister("lint"))
	assert.Empty(t, r.Plugins())
	assert.ErrorIs(t, r.Unregister("lint"), ErrUnknownPlugin)

	loaded, err := r.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"lint"}, loaded)
	assert.Equal(t, 2, *startups)

	loaded, err = r.Reload()
	require.NoError(t, err)
	assert.Empty(t, loaded, "unchanged plugins are not registered twice")

	r.Block("lint")
	assert.Empty(t, r.Plugins())
	assert.Equal(t, []string{"lint"}, r.Blocked())

	loaded, err = r.Reload()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	assert.True(t, r.Unblock("lint"))
	assert.Empty(t, r.Blocked())

	writePlugin(t, root, "lint", lintManifest+"description: changed\n")
	loaded, err = r.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"lint"}, loaded)
	assert.Equal(t, 3, *startups)
}

func TestPluginFiltering(t *testing.T) {
	cfg, root := testConfig(t)
	writePlugin(t, root, "lint", lintManifest)
	writePlugin(t, root, "secret", `name: secret
version: 0.1.0
protocol: 1
entrypoint: run.sh
hooks: [collect]
config_keys:
  required: [token]
`)
	writePlugin(t, root, "off", `name: off
version: 0.1.0
protocol: 1
entrypoint: run.sh
hooks: [collect]
`)
	writePlugin(t, root, "badargs", `name: badargs
version: 0.1.0
protocol: 1
entrypoint: run.sh
hooks:
  - name: collect
    args: [path, verbose]
`)
	disabled := false
	cfg.Plugins["off"] = config.PluginConf{Enabled: &disabled}
	cfg.Journal = config.JournalConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "journal.db")}

	runner := mocks.NewMockRunner(gomock.NewController(t))
	fakePlugin(t, runner)

	r, err := New(context.Background(), cfg, WithRunner(runner))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	plugins := r.Plugins()
	require.Len(t, plugins, 1)
	assert.Equal(t, "lint", plugins[0].Name)

	j, err := r.Journal()
	require.NoError(t, err)

	events, err := j.ListEvents(context.Background(), "", 0)
	require.NoError(t, err)
	kinds := map[string]journal.EventKind{}
	for _, e := range events {
		kinds[e.Plugin] = e.Kind
	}
	assert.Equal(t, journal.EventRegistered, kinds["lint"])
	assert.Equal(t, journal.EventRejected, kinds["secret"])
	assert.Equal(t, journal.EventRejected, kinds["badargs"])
	assert.NotContains(t, kinds, "off")
}

func TestJournalRecordsCalls(t *testing.T) {
	cfg, root := testConfig(t)
	writePlugin(t, root, "lint", lintManifest)
	cfg.Journal = config.JournalConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "journal.db")}

	runner := mocks.NewMockRunner(gomock.NewController(t))
	fakePlugin(t, runner)

	r, err := New(context.Background(), cfg, WithRunner(runner))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	_, err = r.Call("collect", hook.Args{"path": "/a"})
	require.NoError(t, err)

	j, err := r.Journal()
	require.NoError(t, err)
	calls, err := j.ListCalls(context.Background(), journal.CallFilter{Hook: "collect"})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, journal.StatusOK, calls[0].Status)
	assert.Equal(t, []string{"lint"}, calls[0].Plugins)
	assert.JSONEq(t, `["linted /a"]`, string(calls[0].Result))

	startup, err := j.ListCalls(context.Background(), journal.CallFilter{Hook: StartupHook})
	require.NoError(t, err)
	assert.NotEmpty(t, startup)
}

func TestPluginErrorSurfaces(t *testing.T) {
	cfg, root := testConfig(t)
	writePlugin(t, root, "lint", lintManifest)

	runner := mocks.NewMockRunner(gomock.NewController(t))
	runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, req *protocol.Request, _ time.Duration) (*protocol.Response, error) {
			if req.Hook == StartupHook {
				return &protocol.Response{Status: "ok"}, nil
			}
			return nil, context.DeadlineExceeded
		}).AnyTimes()

	r, err := New(context.Background(), cfg, WithRunner(runner))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	_, err = r.Call("collect", hook.Args{"path": "/a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
