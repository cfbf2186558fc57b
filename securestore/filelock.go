package securestore

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
)

const (
	lockAttempts   = 50
	lockRetryDelay = 100 * time.Millisecond
	staleLockAge   = 30 * time.Second
)

// fileLock is an exclusive, cross-process lock implemented as a sibling
// "<path>.lock" file created with O_EXCL.
type fileLock struct {
	f    *os.File
	path string
}

// lockFile blocks until the lock guarding target is held, a stale lock has
// been broken, or the attempts run out.
func lockFile(target string) (*fileLock, error) {
	path := target + ".lock"

	for range lockAttempts {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// pid helps when someone has to clean up by hand
			fmt.Fprintf(f, "%d", os.Getpid())
			return &fileLock{f: f, path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrap(err, "create lock file")
		}

		broken, err := breakStaleLock(path)
		if err != nil {
			return nil, err
		}
		if !broken {
			time.Sleep(lockRetryDelay)
		}
	}

	return nil, errors.Errorf(
		"timed out after %v waiting for lock %s",
		time.Duration(lockAttempts)*lockRetryDelay,
		path,
	)
}

// breakStaleLock removes a lock file left behind by a crashed writer.
func breakStaleLock(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		// Holder released it between our open and stat; just retry.
		return os.IsNotExist(err), nil
	}
	if time.Since(info.ModTime()) <= staleLockAge {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, errors.Wrapf(err, "remove stale lock %s", path)
	}
	return true, nil
}

func (l *fileLock) release() error {
	if l.f != nil {
		_ = l.f.Close()
	}
	return os.Remove(l.path)
}
