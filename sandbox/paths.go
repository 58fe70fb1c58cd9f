package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Resolver canonicalizes caller-supplied paths against the sandbox root.
// Every path is interpreted as relative to the root regardless of leading
// separators, and the result is guaranteed to be the root itself or a true
// descendant of it. Resolver never touches the filesystem beyond reading
// symlinks and is safe to call on paths that do not exist yet.
type Resolver struct {
	root string // absolute, cleaned
}

// NewResolver creates a Resolver for the given root directory. The root is
// made absolute once here; it does not need to exist yet.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root %q: %w", root, err)
	}
	abs = filepath.Clean(abs)
	// An existing root may itself live behind a symlink (tmpfs setups);
	// canonicalize it once so containment and Rel agree.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Resolver{root: abs}, nil
}

// Root returns the absolute sandbox root.
func (r *Resolver) Root() string {
	return r.root
}

// Rel reports the path relative to the sandbox root, for responses that must
// never leak absolute host paths.
func (r *Resolver) Rel(resolved string) string {
	rel, err := filepath.Rel(r.root, resolved)
	if err != nil {
		return resolved
	}
	return rel
}

// Resolve canonicalizes a requested path against the sandbox root.
//
// Leading separators are stripped so an "absolute" request is treated as
// root-relative. The ".." escape check is lexical and runs before any
// syscall: a request that climbs above the root fails even when the
// intermediate directories do not exist. Symlinks on the existing portion
// of the path are then resolved so a link inside the root cannot point the
// result outside it. The containment check requires the root plus a
// separator, so a sibling such as /sandbox-evil never passes for /sandbox.
func (r *Resolver) Resolve(requested string) (string, error) {
	rel := filepath.Clean(strings.TrimLeft(requested, "/\\"))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("resolve %q: %w", requested, ErrPathEscape)
	}
	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("resolve %q: %w", requested, ErrPathEscape)
	}

	root, err := resolveExisting(r.root)
	if err != nil {
		return "", fmt.Errorf("resolve sandbox root: %w", err)
	}
	target, err := resolveExisting(filepath.Join(root, rel))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", requested, err)
	}

	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("resolve %q: %w", requested, ErrPathEscape)
	}
	return target, nil
}

// resolveExisting resolves symlinks on the deepest existing ancestor of path
// and rejoins the nonexistent remainder, so containment checks see the real
// location even for paths that are about to be created.
func resolveExisting(path string) (string, error) {
	var remainder []string
	cur := path
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(remainder) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, remainder[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", translateOSError(err)
		}
		// A dangling symlink reports ErrNotExist but must not fall back
		// to its lexical form: a later write would follow it to wherever
		// it points.
		if fi, lerr := os.Lstat(cur); lerr == nil && fi.Mode()&os.ModeSymlink != 0 {
			return "", ErrNotFound
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			// Nothing on the path exists; the lexical form stands.
			return path, nil
		}
		remainder = append(remainder, filepath.Base(cur))
		cur = parent
	}
}
