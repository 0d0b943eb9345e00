package convert

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Trash quarantines staged files no converter can handle.
type Trash interface {
	Trash(localPath string) (string, error)
}

// DirTrash moves files into a quarantine directory.
type DirTrash struct {
	Dir string
}

// Trash moves localPath into the quarantine directory under a unique name
// and returns the new location.
func (t DirTrash) Trash(localPath string) (string, error) {
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create trash dir: %w", err)
	}
	dst := filepath.Join(t.Dir, uuid.NewString()[:8]+"_"+filepath.Base(localPath))
	if err := os.Rename(localPath, dst); err != nil {
		return "", fmt.Errorf("move %s to trash: %w", localPath, err)
	}
	return dst, nil
}
