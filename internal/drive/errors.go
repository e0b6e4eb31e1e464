package drive

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors for the component layers. They flow untranslated through
// the core and are mapped to POSIX errnos only at the FUSE boundary.
var (
	// ErrNotFound means the name is absent after a guaranteed-fresh listing.
	ErrNotFound = errors.New("no such file or directory")

	// ErrIsDirectory means a file operation hit a directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotDirectory means a directory operation hit a regular file.
	ErrNotDirectory = errors.New("not a directory")

	// ErrRemote means a RemoteStore call failed. The core does not retry;
	// re-login and retry belong to the store implementation.
	ErrRemote = errors.New("remote store unavailable")

	// ErrNoAttribute means no xattr with the requested name exists.
	ErrNoAttribute = errors.New("no such attribute")
)

// SizeMismatchError reports that a freshly opened stream disagrees with the
// size recorded when the attribute was built. The cache entry is stale and
// must be invalidated rather than silently truncated or padded.
type SizeMismatchError struct {
	Path   string
	Cached int64
	Live   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch for %s: cached %d, remote %d", e.Path, e.Cached, e.Live)
}

func remoteErr(err error, format string, args ...interface{}) error {
	return errors.Wrapf(ErrRemote, format+": %v", append(args, err)...)
}
