//go:build windows

package lockfile

import (
	"os"

	"github.com/pkg/errors"
)

// platformAcquire claims the lock representation with an exclusive-create
// open of a regular file (spec.md §4.6 "On Windows: a regular file opened
// with exclusive-create semantics"), writing the owner encoding as its
// content so platformOwner can diagnose the current holder.
func platformAcquire(lockPath string, owner Owner) error {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return os.ErrExist
		}
		return errors.Wrap(err, "unable to create lock file")
	}
	defer f.Close()

	if _, err := f.WriteString(owner.String()); err != nil {
		return errors.Wrap(err, "unable to write lock file owner")
	}
	return nil
}

// platformOwner reads the owner encoded in an existing lock file.
func platformOwner(lockPath string) (Owner, bool, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Owner{}, false, nil
		}
		return Owner{}, false, errors.Wrap(err, "unable to read lock file")
	}
	owner, err := parseOwner(string(data))
	if err != nil {
		return Owner{}, false, err
	}
	return owner, true, nil
}

// platformRemove removes the lock file. A missing file is not an error.
func platformRemove(lockPath string) error {
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "unable to remove lock file")
	}
	return nil
}
