package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteWithBackup persists a document with the backup-before-overwrite
// discipline: the current file, if any, is copied to a sibling .bak, then
// the new content is written to a temp file and renamed into place. A
// crash mid-write leaves either the old document or the new one, never a
// torn file.
func WriteWithBackup(path string, data []byte) error {
	if existing, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", existing, 0o644); err != nil {
			return fmt.Errorf("failed to write backup for %s: %w", filepath.Base(path), err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
