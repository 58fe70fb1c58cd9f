package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	root := t.TempDir()
	resolver, err := NewResolver(root)
	require.NoError(t, err)
	resolved, err := resolver.Resolve("")
	require.NoError(t, err)
	return resolver, resolved
}

func TestResolverContainment(t *testing.T) {
	resolver, root := newTestResolver(t)

	t.Run("EmptyPathIsRoot", func(t *testing.T) {
		resolved, err := resolver.Resolve("")
		require.NoError(t, err)
		assert.Equal(t, root, resolved)
	})

	t.Run("DotIsRoot", func(t *testing.T) {
		resolved, err := resolver.Resolve(".")
		require.NoError(t, err)
		assert.Equal(t, root, resolved)
	})

	t.Run("RelativeChild", func(t *testing.T) {
		resolved, err := resolver.Resolve("a/b/c.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "a", "b", "c.txt"), resolved)
	})

	t.Run("LeadingSlashIsRootRelative", func(t *testing.T) {
		resolved, err := resolver.Resolve("/etc/passwd")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "etc", "passwd"), resolved)
	})

	t.Run("InternalDotDotStaysInside", func(t *testing.T) {
		resolved, err := resolver.Resolve("a/b/../c.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "a", "c.txt"), resolved)
	})
}

func TestResolverEscapes(t *testing.T) {
	resolver, _ := newTestResolver(t)

	escapes := []string{
		"..",
		"../",
		"../../etc/passwd",
		"a/../../etc/passwd",
		"a/b/../../../etc/passwd",
		"/../etc/passwd",
	}
	for _, requested := range escapes {
		t.Run(requested, func(t *testing.T) {
			_, err := resolver.Resolve(requested)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPathEscape)
		})
	}
}

func TestResolverEscapeWithoutExistingIntermediates(t *testing.T) {
	// The climb is rejected lexically, before any syscall could be
	// confused by the missing directories.
	resolver, _ := newTestResolver(t)
	_, err := resolver.Resolve("does/not/exist/../../../../etc/passwd")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestResolverSiblingPrefixRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "sandbox")
	sibling := filepath.Join(parent, "sandbox-evil")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.MkdirAll(sibling, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sibling, "secret"), []byte("x"), 0o644))

	resolver, err := NewResolver(root)
	require.NoError(t, err)

	_, err = resolver.Resolve("../sandbox-evil/secret")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestResolverSymlinkEscape(t *testing.T) {
	resolver, root := newTestResolver(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	t.Run("LinkItself", func(t *testing.T) {
		_, err := resolver.Resolve("link")
		assert.ErrorIs(t, err, ErrPathEscape)
	})

	t.Run("ThroughLink", func(t *testing.T) {
		_, err := resolver.Resolve("link/secret")
		assert.ErrorIs(t, err, ErrPathEscape)
	})

	t.Run("ThroughLinkNonexistentLeaf", func(t *testing.T) {
		_, err := resolver.Resolve("link/new-file.txt")
		assert.ErrorIs(t, err, ErrPathEscape)
	})
}

func TestResolverDanglingSymlink(t *testing.T) {
	resolver, root := newTestResolver(t)
	require.NoError(t, os.Symlink("/etc/does-not-exist", filepath.Join(root, "dangling")))

	_, err := resolver.Resolve("dangling")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolverSymlinkInsideRoot(t *testing.T) {
	resolver, root := newTestResolver(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")))

	resolved, err := resolver.Resolve("alias/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "real", "file.txt"), resolved)
}

func TestResolverNonexistentPathOK(t *testing.T) {
	// Resolution must be safe to call speculatively, before a write
	// creates the file.
	resolver, root := newTestResolver(t)
	resolved, err := resolver.Resolve("brand/new/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "brand", "new", "file.txt"), resolved)
}

func TestResolverRel(t *testing.T) {
	resolver, root := newTestResolver(t)
	assert.Equal(t, ".", resolver.Rel(root))
	assert.Equal(t, filepath.Join("a", "b"), resolver.Rel(filepath.Join(root, "a", "b")))
}
