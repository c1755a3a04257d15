package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func fixedType(fsType string) func(string) (string, error) {
	return func(string) (string, error) { return fsType, nil }
}

func TestProbeFilesystem(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		detected    string
		wantType    string
		wantNetwork bool
	}{
		{"local", "ext4", "ext4", false},
		{"nfs", "nfs", "nfs", true},
		{"uppercase smb", " SMBFS ", "smbfs", true},
		{"unnamed magic", "0x6969aa", "0x6969aa", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fs, err := probeWith(filepath.Join(t.TempDir(), "journal.db"), fixedType(tt.detected))
			if err != nil {
				t.Fatalf("probeWith() error = %v", err)
			}
			if fs.Type != tt.wantType || fs.Network != tt.wantNetwork {
				t.Fatalf("probeWith() = %+v, want type %q network %v", fs, tt.wantType, tt.wantNetwork)
			}
		})
	}
}

func TestProbeFilesystemUsesExistingAncestor(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var probed string
	fs, err := probeWith(filepath.Join(root, "a", "b", "journal.db"), func(p string) (string, error) {
		probed = p
		return "ext4", nil
	})
	if err != nil {
		t.Fatalf("probeWith() error = %v", err)
	}
	if probed != root || fs.Probed != root {
		t.Fatalf("probed %q (reported %q), want %q", probed, fs.Probed, root)
	}
}

func TestProbeFilesystemErrors(t *testing.T) {
	t.Parallel()

	if _, err := probeWith("", fixedType("ext4")); err == nil {
		t.Fatal("expected error for empty path")
	}
	_, err := probeWith(t.TempDir(), func(string) (string, error) { return "", errors.New("statfs failed") })
	if err == nil || !strings.Contains(err.Error(), "statfs failed") {
		t.Fatalf("expected detector error, got %v", err)
	}
}

func TestRequireLocal(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db")
	if err := requireLocal(path, fixedType("apfs")); err != nil {
		t.Fatalf("local filesystem rejected: %v", err)
	}

	err := requireLocal(path, fixedType("cifs"))
	if err == nil {
		t.Fatal("expected network filesystem to be rejected")
	}
	for _, want := range []string{"cifs", "journal.path", "--journal"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestProbeFilesystemOnThisHost(t *testing.T) {
	t.Parallel()

	fs, err := ProbeFilesystem(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("ProbeFilesystem() error = %v", err)
	}
	if fs.Type == "" {
		t.Fatal("expected a filesystem type")
	}
}
