package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem describes the filesystem a database path lives on.
type Filesystem struct {
	// Probed is the nearest existing ancestor of the requested path.
	Probed  string
	Type    string
	Network bool
}

var networkTypes = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"nfs4":   true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// ProbeFilesystem reports the filesystem that would hold path. The path need
// not exist yet.
func ProbeFilesystem(path string) (Filesystem, error) {
	return probeWith(path, detectFilesystemType)
}

func probeWith(path string, detect func(string) (string, error)) (Filesystem, error) {
	if path == "" {
		return Filesystem{}, errors.New("database path is empty")
	}
	probed, err := existingAncestor(path)
	if err != nil {
		return Filesystem{}, fmt.Errorf("resolve database path %q: %w", path, err)
	}
	fsType, err := detect(probed)
	if err != nil {
		return Filesystem{}, fmt.Errorf("detect filesystem for %q: %w", probed, err)
	}
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	return Filesystem{Probed: probed, Type: fsType, Network: networkTypes[fsType]}, nil
}

// requireLocal rejects database paths on network filesystems.
func requireLocal(path string, detect func(string) (string, error)) error {
	fs, err := probeWith(path, detect)
	if err != nil {
		return err
	}
	if fs.Network {
		return fmt.Errorf("journal %q is on network filesystem %s; SQLite needs a local filesystem for locking. "+
			"Point journal.path (or --journal) at a local disk", path, fs.Type)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(dir)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor of %q", path)
		}
		dir = parent
	}
}
