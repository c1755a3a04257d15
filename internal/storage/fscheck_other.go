//go:build !darwin && !linux

package storage

// Filesystems are not distinguished here; every path counts as local.
func detectFilesystemType(string) (string, error) {
	return "unknown", nil
}
