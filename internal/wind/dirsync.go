package wind

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

func validateDirectoryPath(path string) error {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) && strings.Contains(cleanPath, "..") {
		return errors.New("unsafe directory path (contains directory traversal): " + path)
	}
	return nil
}

// dirSync calls fsync(2) on the directory to persist changes made within it.
//
// Call after os.Create, os.Rename, os.Remove and similar operations that
// change directory entries but not the file contents themselves.
func dirSync(d string) error {
	if err := validateDirectoryPath(d); err != nil {
		return errors.Wrap(err, "dirSync")
	}

	f, err := os.OpenFile(d, os.O_RDONLY, 0755) // #nosec G304,G302 - path validated above
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return f.Close()
}
