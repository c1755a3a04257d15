package plugin

import (
	"os"
	"path/filepath"
	"testing"
)

func writePlugin(t *testing.T, root, dirName, manifest string, entryMode os.FileMode) string {
	t.Helper()
	pluginDir := filepath.Join(root, dirName)
	if err := os.MkdirAll(pluginDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pluginDir, "manifest.yaml"), []byte(manifest), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if entryMode != 0 {
		if err := os.WriteFile(filepath.Join(pluginDir, "run.sh"), []byte("#!/bin/sh\necho ok\n"), entryMode); err != nil {
			t.Fatalf("write entrypoint: %v", err)
		}
	}
	return pluginDir
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name      string
		setupFn   func(t *testing.T) string // Returns plugins directory
		wantCount int
		wantErr   bool
		checkFn   func(t *testing.T, cat *Catalog)
	}{
		{
			name: "valid plugin discovered",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "lint", `name: lint
version: 1.0.0
protocol: 1
entrypoint: run.sh
hooks:
  - name: collect_report
    args: [path]
    tryfirst: true
  - name: audit
    wrapper: true
`, 0755)
				return dir
			},
			wantCount: 1,
			checkFn: func(t *testing.T, cat *Catalog) {
				p, ok := cat.Get("lint")
				if !ok {
					t.Fatal("lint not found")
				}
				if p.Protocol != 1 {
					t.Error("protocol version mismatch")
				}
				if !p.Implements("collect_report") || !p.Implements("audit") {
					t.Errorf("unexpected hooks: %v", p.HookNames())
				}
				if !p.Hooks[0].TryFirst || len(p.Hooks[0].Args) != 1 {
					t.Errorf("flags not decoded: %+v", p.Hooks[0])
				}
				if !p.Hooks[1].IsWrapper() {
					t.Error("audit should be a wrapper")
				}
				if len(p.Digest) != 64 {
					t.Errorf("digest = %q, want 64 hex chars", p.Digest)
				}
				if !filepath.IsAbs(p.Entrypoint) {
					t.Errorf("entrypoint not absolute: %s", p.Entrypoint)
				}
			},
		},
		{
			name: "string hook list",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "simple", `name: simple
version: 0.1.0
protocol: 1
entrypoint: run.sh
hooks: [startup, shutdown]
`, 0755)
				return dir
			},
			wantCount: 1,
			checkFn: func(t *testing.T, cat *Catalog) {
				p, _ := cat.Get("simple")
				names := p.HookNames()
				if len(names) != 2 || names[0] != "startup" || names[1] != "shutdown" {
					t.Errorf("HookNames() = %v", names)
				}
			},
		},
		{
			name: "multiple valid plugins in nested directories",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				for _, name := range []string{"plugin1", "nested/plugin2"} {
					writePlugin(t, dir, name, "name: "+filepath.Base(name)+`
version: 1.0.0
protocol: 1
entrypoint: run.sh
hooks: [startup]
`, 0755)
				}
				return dir
			},
			wantCount: 2,
			checkFn: func(t *testing.T, cat *Catalog) {
				names := cat.Names()
				if len(names) != 2 || names[0] != "plugin1" || names[1] != "plugin2" {
					t.Errorf("Names() = %v", names)
				}
			},
		},
		{
			name: "directory without manifest skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				os.Mkdir(filepath.Join(dir, "no-manifest"), 0755)
				return dir
			},
			wantCount: 0,
		},
		{
			name: "unsupported protocol skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "bad-protocol", `name: bad-protocol
version: 1.0.0
protocol: 99
entrypoint: run.sh
hooks: [startup]
`, 0755)
				return dir
			},
			wantCount: 0,
		},
		{
			name: "non-executable entrypoint skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "non-exec", `name: non-exec
version: 1.0.0
protocol: 1
entrypoint: run.sh
hooks: [startup]
`, 0644)
				return dir
			},
			wantCount: 0,
		},
		{
			name: "duplicate name keeps first",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				for _, d := range []string{"a", "b"} {
					writePlugin(t, dir, d, `name: dup
version: 1.0.0
protocol: 1
entrypoint: run.sh
hooks: [startup]
`, 0755)
				}
				return dir
			},
			wantCount: 1,
			checkFn: func(t *testing.T, cat *Catalog) {
				p, _ := cat.Get("dup")
				if filepath.Base(p.Path) != "a" {
					t.Errorf("kept %s, want first discovered", p.Path)
				}
			},
		},
		{
			name: "nonexistent directory",
			setupFn: func(t *testing.T) string {
				return "/nonexistent/path"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pluginsDir := tt.setupFn(t)

			logger := func(level, msg string, args ...any) {
				// Silent logger for tests
			}

			cat, err := Discover(pluginsDir, logger)

			if (err != nil) != tt.wantErr {
				t.Errorf("Discover() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if len(cat.All()) != tt.wantCount {
					t.Errorf("Discover() found %d plugins, want %d", len(cat.All()), tt.wantCount)
				}

				if tt.checkFn != nil {
					tt.checkFn(t, cat)
				}
			}
		})
	}
}

func TestDiscoverManyRequiresRoot(t *testing.T) {
	if _, err := DiscoverMany(nil, nil); err == nil {
		t.Fatal("expected error for no roots")
	}
	if _, err := DiscoverMany([]string{"  "}, nil); err == nil {
		t.Fatal("expected error for blank roots")
	}
}

func TestDigestChangesWithManifest(t *testing.T) {
	dir := t.TempDir()
	base := `name: p
version: 1.0.0
protocol: 1
entrypoint: run.sh
hooks: [startup]
`
	writePlugin(t, dir, "p", base, 0755)
	cat, err := Discover(dir, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	p1, _ := cat.Get("p")

	writePlugin(t, dir, "p", base+"description: changed\n", 0755)
	cat, err = Discover(dir, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	p2, _ := cat.Get("p")

	if p1.Digest == p2.Digest {
		t.Fatal("digest should change when the manifest changes")
	}
}

func TestValidateManifest(t *testing.T) {
	valid := func() *Manifest {
		return &Manifest{
			Name:       "test",
			Protocol:   1,
			Entrypoint: "run.sh",
			Hooks:      Hooks{{Name: "collect", Args: []string{"path"}}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(m *Manifest)
		wantErr bool
	}{
		{name: "valid manifest", mutate: func(m *Manifest) {}},
		{name: "missing name", mutate: func(m *Manifest) { m.Name = "" }, wantErr: true},
		{name: "missing protocol", mutate: func(m *Manifest) { m.Protocol = 0 }, wantErr: true},
		{name: "missing entrypoint", mutate: func(m *Manifest) { m.Entrypoint = "" }, wantErr: true},
		{name: "missing hooks", mutate: func(m *Manifest) { m.Hooks = nil }, wantErr: true},
		{name: "path traversal in entrypoint", mutate: func(m *Manifest) { m.Entrypoint = "../evil/run.sh" }, wantErr: true},
		{name: "invalid hook name", mutate: func(m *Manifest) { m.Hooks[0].Name = "bad-name" }, wantErr: true},
		{name: "invalid rename target", mutate: func(m *Manifest) { m.Hooks[0].RenameTo = "1x" }, wantErr: true},
		{name: "invalid arg name", mutate: func(m *Manifest) { m.Hooks[0].Args = []string{"a b"} }, wantErr: true},
		{name: "duplicate arg", mutate: func(m *Manifest) { m.Hooks[0].Args = []string{"a", "a"} }, wantErr: true},
		{
			name: "duplicate hook target via rename",
			mutate: func(m *Manifest) {
				m.Hooks = append(m.Hooks, HookDecl{Name: "collect_v2", RenameTo: "collect"})
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)
			err := validateManifest(m)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateManifest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTrust(t *testing.T) {
	tests := []struct {
		name    string
		setupFn func(t *testing.T) (entrypoint, pluginPath, pluginsDir string)
		wantErr bool
	}{
		{
			name: "valid executable",
			setupFn: func(t *testing.T) (string, string, string) {
				dir := t.TempDir()
				pluginDir := filepath.Join(dir, "test")
				os.Mkdir(pluginDir, 0755)

				entrypoint := filepath.Join(pluginDir, "run.sh")
				os.WriteFile(entrypoint, []byte("#!/bin/sh\n"), 0755)

				return entrypoint, pluginDir, dir
			},
			wantErr: false,
		},
		{
			name: "non-executable",
			setupFn: func(t *testing.T) (string, string, string) {
				dir := t.TempDir()
				pluginDir := filepath.Join(dir, "test")
				os.Mkdir(pluginDir, 0755)

				entrypoint := filepath.Join(pluginDir, "run.sh")
				os.WriteFile(entrypoint, []byte("#!/bin/sh\n"), 0644) // Not executable

				return entrypoint, pluginDir, dir
			},
			wantErr: true,
		},
		{
			name: "world-writable plugin directory",
			setupFn: func(t *testing.T) (string, string, string) {
				dir := t.TempDir()
				pluginDir := filepath.Join(dir, "test")
				os.Mkdir(pluginDir, 0755)

				if err := os.Chmod(pluginDir, 0777); err != nil {
					t.Skip("cannot set world-writable on this filesystem")
				}
				info, _ := os.Stat(pluginDir)
				if info.Mode().Perm()&0002 == 0 {
					t.Skip("filesystem does not support world-writable directories")
				}

				entrypoint := filepath.Join(pluginDir, "run.sh")
				os.WriteFile(entrypoint, []byte("#!/bin/sh\n"), 0755)

				return entrypoint, pluginDir, dir
			},
			wantErr: true,
		},
		{
			name: "entrypoint outside root",
			setupFn: func(t *testing.T) (string, string, string) {
				outside := t.TempDir()
				target := filepath.Join(outside, "evil.sh")
				os.WriteFile(target, []byte("#!/bin/sh\n"), 0755)

				dir := t.TempDir()
				pluginDir := filepath.Join(dir, "test")
				os.Mkdir(pluginDir, 0755)
				entrypoint := filepath.Join(pluginDir, "run.sh")
				if err := os.Symlink(target, entrypoint); err != nil {
					t.Skip("symlinks unsupported")
				}
				return entrypoint, pluginDir, dir
			},
			wantErr: true,
		},
		{
			name: "nonexistent entrypoint",
			setupFn: func(t *testing.T) (string, string, string) {
				dir := t.TempDir()
				pluginDir := filepath.Join(dir, "test")
				os.Mkdir(pluginDir, 0755)

				entrypoint := filepath.Join(pluginDir, "nonexistent.sh")

				return entrypoint, pluginDir, dir
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entrypoint, pluginPath, pluginsDir := tt.setupFn(t)

			err := validateTrustInRoots(entrypoint, pluginPath, []string{pluginsDir})

			if (err != nil) != tt.wantErr {
				t.Errorf("validateTrustInRoots() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPluginMissingConfig(t *testing.T) {
	p := &Plugin{ConfigKeys: &ConfigKeys{Required: []string{"token", "url"}, Optional: []string{"debug"}}}

	missing := p.MissingConfig(map[string]any{"url": "x"})
	if len(missing) != 1 || missing[0] != "token" {
		t.Fatalf("MissingConfig() = %v, want [token]", missing)
	}

	if got := (&Plugin{}).MissingConfig(nil); got != nil {
		t.Fatalf("plugin without config_keys should report nothing, got %v", got)
	}
}
