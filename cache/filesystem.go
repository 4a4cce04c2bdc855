package cache

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// Protector is implemented by filesystem providers that understand
// DiskConfig.FileProtection. The value is opaque to the Disk tier; providers
// that do not implement Protector ignore it.
type Protector interface {
	Protect(name string, protection any) error
}

// OSFilesystem is the operating system filesystem rooted at a directory. It
// interprets an os.FileMode protection as a chmod.
type OSFilesystem struct {
	billy.Filesystem
	root string
}

var _ Protector = (*OSFilesystem)(nil)

// NewOSFilesystem returns the operating system filesystem rooted at root.
func NewOSFilesystem(root string) *OSFilesystem {
	return &OSFilesystem{Filesystem: osfs.New(root), root: root}
}

func (fs *OSFilesystem) Protect(name string, protection any) error {
	switch p := protection.(type) {
	case nil:
		return nil
	case os.FileMode:
		return os.Chmod(filepath.Join(fs.root, filepath.FromSlash(name)), p)
	default:
		return errors.Newf("unsupported file protection %T", protection)
	}
}

// syncer is implemented by files backed by the operating system.
type syncer interface {
	Sync() error
}
