package sandbox

import (
	"errors"
	"io/fs"
	"syscall"
)

// Boundary errors. Operations check these before touching the filesystem,
// so a failed check never leaves a partial effect behind.
var (
	// ErrPathEscape means the requested path resolved outside the sandbox root.
	ErrPathEscape = errors.New("path escapes sandbox root")

	// ErrPolicyDenied means the resolved path matched a deny pattern or no
	// allow pattern.
	ErrPolicyDenied = errors.New("denied by policy")

	// ErrRunDisabled means the run tool was invoked while disabled by
	// server configuration.
	ErrRunDisabled = errors.New("run is disabled by server policy")

	// ErrCommandNotAllowed means the command basename has no allowlist entry.
	ErrCommandNotAllowed = errors.New("command not in allowlist")

	// ErrArgPrefix means the argument list does not begin with the prefix
	// required for the command.
	ErrArgPrefix = errors.New("arguments do not start with required prefix")
)

// Filesystem errors, translated from OS-level failures so raw platform
// error text never reaches the caller.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotADirectory = errors.New("not a directory")
	ErrIsADirectory  = errors.New("is a directory")
)

// translateOSError maps an error returned by an os/filepath call onto the
// sandbox taxonomy. Unrecognized errors pass through unchanged.
func translateOSError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrExist):
		return ErrAlreadyExists
	case errors.Is(err, syscall.ENOTDIR):
		return ErrNotADirectory
	case errors.Is(err, syscall.EISDIR):
		return ErrIsADirectory
	}
	return err
}
