package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Entry is one directory listing row. Mode is the permission bits in octal,
// MTime is unix seconds; both taken from lstat so symlinks describe
// themselves.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
	Mode  string `json:"mode"`
	MTime int64  `json:"mtime"`
}

// ListResult is the outcome of List. Path is relative to the sandbox root,
// as are all paths reported by FS.
type ListResult struct {
	Path    string  `json:"path"`
	Entries []Entry `json:"entries"`
}

// ReadResult is the outcome of ReadText.
type ReadResult struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WriteResult is the outcome of WriteText. Bytes counts the encoded bytes
// written, not the input rune count.
type WriteResult struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// MakeDirResult is the outcome of MakeDir.
type MakeDirResult struct {
	Path string `json:"path"`
}

// MoveResult is the outcome of Move.
type MoveResult struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

// RemoveResult is the outcome of Remove.
type RemoveResult struct {
	Path string `json:"path"`
}

// StatResult is the outcome of Stat.
type StatResult struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
	Mode  string `json:"mode"`
	MTime int64  `json:"mtime"`
}

// FS exposes the file operations of the sandbox. Every verb resolves and
// policy-checks each path argument before touching the filesystem, so a
// boundary failure never leaves a partial effect. FS is stateless apart
// from its immutable configuration and safe for concurrent use.
type FS struct {
	logger   *zap.Logger
	resolver *Resolver
	policy   *Policy
}

// NewFS creates the file-operation facade.
func NewFS(logger *zap.Logger, resolver *Resolver, policy *Policy) *FS {
	return &FS{logger: logger, resolver: resolver, policy: policy}
}

// ensureRoot lazily creates the sandbox root, matching first-use semantics
// for a fresh configuration.
func (f *FS) ensureRoot() error {
	return os.MkdirAll(f.resolver.Root(), 0o755)
}

// resolveChecked runs the resolver and the policy on one path argument.
func (f *FS) resolveChecked(requested string) (string, error) {
	resolved, err := f.resolver.Resolve(requested)
	if err != nil {
		return "", err
	}
	if err := f.policy.Check(resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

// ResolveWorkingDir resolves and policy-checks a directory for use as a
// command working directory. The directory must exist.
func (f *FS) ResolveWorkingDir(path string) (string, error) {
	if err := f.ensureRoot(); err != nil {
		return "", err
	}
	resolved, err := f.resolveChecked(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", translateOSError(err)
	}
	if !info.IsDir() {
		return "", ErrNotADirectory
	}
	return resolved, nil
}

// List returns the entries of a directory under the root. Hidden entries
// (dot-prefixed names) are skipped unless includeHidden is set, namePattern
// filters by entry name, and entries the policy denies are silently
// omitted rather than failing the listing.
func (f *FS) List(path, namePattern string, includeHidden bool) (ListResult, error) {
	if err := f.ensureRoot(); err != nil {
		return ListResult{}, err
	}
	dir, err := f.resolveChecked(path)
	if err != nil {
		return ListResult{}, err
	}

	if namePattern == "" {
		namePattern = "*"
	}
	nameGlob, err := glob.Compile(namePattern, '/')
	if err != nil {
		return ListResult{}, fmt.Errorf("invalid glob pattern %q: %w", namePattern, err)
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return ListResult{}, translateOSError(err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if !includeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		if !nameGlob.Match(name) {
			continue
		}
		if f.policy.Check(filepath.Join(dir, name)) != nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:  name,
			IsDir: de.IsDir(),
			Size:  info.Size(),
			Mode:  fmt.Sprintf("0o%o", info.Mode().Perm()),
			MTime: info.ModTime().Unix(),
		})
	}

	return ListResult{Path: f.resolver.Rel(dir), Entries: entries}, nil
}

// ReadText reads a regular file and decodes it with the named encoding
// (utf-8 when empty).
func (f *FS) ReadText(path, encodingName string) (ReadResult, error) {
	if err := f.ensureRoot(); err != nil {
		return ReadResult{}, err
	}
	resolved, err := f.resolveChecked(path)
	if err != nil {
		return ReadResult{}, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return ReadResult{}, translateOSError(err)
	}
	if info.IsDir() {
		return ReadResult{}, ErrIsADirectory
	}
	if !info.Mode().IsRegular() {
		return ReadResult{}, ErrNotFound
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ReadResult{}, translateOSError(err)
	}
	content, err := decodeText(data, encodingName)
	if err != nil {
		return ReadResult{}, err
	}
	return ReadResult{Path: f.resolver.Rel(resolved), Content: content}, nil
}

// WriteText writes content to a file using the named encoding. With
// createDirs the parent directories are created; an existing file fails
// with ErrAlreadyExists unless overwrite is set.
func (f *FS) WriteText(path, content string, createDirs, overwrite bool, encodingName string) (WriteResult, error) {
	if err := f.ensureRoot(); err != nil {
		return WriteResult{}, err
	}
	resolved, err := f.resolveChecked(path)
	if err != nil {
		return WriteResult{}, err
	}

	data, err := encodeText(content, encodingName)
	if err != nil {
		return WriteResult{}, err
	}

	if createDirs {
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return WriteResult{}, translateOSError(err)
		}
	}
	if !overwrite {
		if _, err := os.Lstat(resolved); err == nil {
			return WriteResult{}, ErrAlreadyExists
		}
	}
	if err := os.WriteFile(resolved, data, 0o644); err != nil {
		return WriteResult{}, translateOSError(err)
	}

	f.logger.Info("wrote file",
		zap.String("path", f.resolver.Rel(resolved)),
		zap.Int("bytes", len(data)))
	return WriteResult{Path: f.resolver.Rel(resolved), Bytes: len(data)}, nil
}

// MakeDir creates a directory. With parents, missing ancestors are created
// and an existing directory is an error only when existOk is false; without
// parents the immediate parent must already exist and an existing target
// always fails.
func (f *FS) MakeDir(path string, parents, existOk bool) (MakeDirResult, error) {
	if err := f.ensureRoot(); err != nil {
		return MakeDirResult{}, err
	}
	resolved, err := f.resolveChecked(path)
	if err != nil {
		return MakeDirResult{}, err
	}

	if parents {
		if !existOk {
			if _, err := os.Lstat(resolved); err == nil {
				return MakeDirResult{}, ErrAlreadyExists
			}
		}
		if err := os.MkdirAll(resolved, 0o755); err != nil {
			return MakeDirResult{}, translateOSError(err)
		}
	} else {
		if err := os.Mkdir(resolved, 0o755); err != nil {
			return MakeDirResult{}, translateOSError(err)
		}
	}
	return MakeDirResult{Path: f.resolver.Rel(resolved)}, nil
}

// Move renames src to dst within the root, creating dst's parent as needed.
// An existing destination fails with ErrAlreadyExists unless overwrite is
// set, in which case it is replaced.
func (f *FS) Move(src, dst string, overwrite bool) (MoveResult, error) {
	if err := f.ensureRoot(); err != nil {
		return MoveResult{}, err
	}
	resolvedSrc, err := f.resolveChecked(src)
	if err != nil {
		return MoveResult{}, err
	}
	resolvedDst, err := f.resolveChecked(dst)
	if err != nil {
		return MoveResult{}, err
	}

	if _, err := os.Lstat(resolvedSrc); err != nil {
		return MoveResult{}, translateOSError(err)
	}
	if err := os.MkdirAll(filepath.Dir(resolvedDst), 0o755); err != nil {
		return MoveResult{}, translateOSError(err)
	}
	if info, err := os.Lstat(resolvedDst); err == nil {
		if !overwrite {
			return MoveResult{}, ErrAlreadyExists
		}
		if info.IsDir() {
			if err := os.RemoveAll(resolvedDst); err != nil {
				return MoveResult{}, translateOSError(err)
			}
		} else if err := os.Remove(resolvedDst); err != nil {
			return MoveResult{}, translateOSError(err)
		}
	}
	if err := os.Rename(resolvedSrc, resolvedDst); err != nil {
		return MoveResult{}, translateOSError(err)
	}

	f.logger.Info("moved",
		zap.String("src", f.resolver.Rel(resolvedSrc)),
		zap.String("dst", f.resolver.Rel(resolvedDst)))
	return MoveResult{Src: f.resolver.Rel(resolvedSrc), Dst: f.resolver.Rel(resolvedDst)}, nil
}

// Remove deletes a file or directory. A directory requires recursive;
// without it the call fails with ErrIsADirectory and deletes nothing.
// Paths are resolved before deletion, so removing a symlink removes its
// in-root target, not the link entry itself.
func (f *FS) Remove(path string, recursive bool) (RemoveResult, error) {
	if err := f.ensureRoot(); err != nil {
		return RemoveResult{}, err
	}
	resolved, err := f.resolveChecked(path)
	if err != nil {
		return RemoveResult{}, err
	}

	info, err := os.Lstat(resolved)
	if err != nil {
		return RemoveResult{}, translateOSError(err)
	}
	if info.IsDir() {
		if !recursive {
			return RemoveResult{}, ErrIsADirectory
		}
		if err := os.RemoveAll(resolved); err != nil {
			return RemoveResult{}, translateOSError(err)
		}
	} else if err := os.Remove(resolved); err != nil {
		return RemoveResult{}, translateOSError(err)
	}

	f.logger.Info("removed", zap.String("path", f.resolver.Rel(resolved)))
	return RemoveResult{Path: f.resolver.Rel(resolved)}, nil
}

// Stat reports lstat metadata for a path under the root.
func (f *FS) Stat(path string) (StatResult, error) {
	if err := f.ensureRoot(); err != nil {
		return StatResult{}, err
	}
	resolved, err := f.resolveChecked(path)
	if err != nil {
		return StatResult{}, err
	}

	info, err := os.Lstat(resolved)
	if err != nil {
		return StatResult{}, translateOSError(err)
	}
	return StatResult{
		Path:  f.resolver.Rel(resolved),
		IsDir: info.IsDir(),
		Size:  info.Size(),
		Mode:  fmt.Sprintf("0o%o", info.Mode().Perm()),
		MTime: info.ModTime().Unix(),
	}, nil
}

// decodeText decodes file bytes with the named encoding. utf-8 is validated
// rather than silently replacing invalid sequences; other encodings go
// through the registered decoder.
func decodeText(data []byte, name string) (string, error) {
	enc, isUTF8, err := lookupEncoding(name)
	if err != nil {
		return "", err
	}
	if isUTF8 {
		if !utf8.Valid(data) {
			return "", fmt.Errorf("content is not valid utf-8")
		}
		return string(data), nil
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", name, err)
	}
	return string(decoded), nil
}

// encodeText encodes content with the named encoding; runes the target
// encoding cannot represent are an error, not a silent substitution.
func encodeText(content, name string) ([]byte, error) {
	enc, isUTF8, err := lookupEncoding(name)
	if err != nil {
		return nil, err
	}
	if isUTF8 {
		return []byte(content), nil
	}
	encoded, err := enc.NewEncoder().Bytes([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return encoded, nil
}

// lookupEncoding resolves an encoding name ("utf-8", "latin1", "utf-16le",
// ...) through the WHATWG index, which covers the common aliases.
func lookupEncoding(name string) (encoding.Encoding, bool, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return nil, true, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, false, fmt.Errorf("unknown encoding %q", name)
	}
	return enc, false, nil
}
