package sandbox

import (
	"fmt"
	"path/filepath"

	"github.com/gobwas/glob"
)

// DefaultAllowGlobs permits everything under the root; policy is shaped by
// the deny list. `**` rather than `**/*`: with segment-bounded `*` the
// latter would never match a top-level entry, which has no separator in
// its relative path.
var DefaultAllowGlobs = []string{"**"}

// DefaultDenyGlobs shields conventional secret locations: environment files,
// SSH credentials, version-control metadata, dependency caches, private keys.
var DefaultDenyGlobs = []string{
	"**/.env*",
	"**/.ssh/**",
	"**/.git/**",
	"**/node_modules/**",
	"**/id_*",
}

// Policy evaluates root-relative paths against compiled deny and allow
// pattern sets. Deny is checked strictly first: a path matching any deny
// pattern fails regardless of the allow set, and a path is permitted only
// if it also matches at least one allow pattern.
//
// Pattern semantics: `*` and `?` stay within a path segment, `**` crosses
// segment boundaries. Patterns are compiled once at construction.
type Policy struct {
	resolver *Resolver
	deny     []compiledGlob
	allow    []compiledGlob
}

type compiledGlob struct {
	pattern string
	matcher glob.Glob
}

// NewPolicy compiles the deny and allow pattern sets. An unparsable pattern
// is a configuration error and fails construction.
func NewPolicy(resolver *Resolver, denyGlobs, allowGlobs []string) (*Policy, error) {
	deny, err := compileGlobs(denyGlobs)
	if err != nil {
		return nil, fmt.Errorf("deny patterns: %w", err)
	}
	allow, err := compileGlobs(allowGlobs)
	if err != nil {
		return nil, fmt.Errorf("allow patterns: %w", err)
	}
	return &Policy{resolver: resolver, deny: deny, allow: allow}, nil
}

// ValidateGlobs reports the first pattern in the set that does not compile.
// It lets configuration loading reject bad pattern sets before any policy
// is constructed.
func ValidateGlobs(patterns []string) error {
	_, err := compileGlobs(patterns)
	return err
}

func compileGlobs(patterns []string) ([]compiledGlob, error) {
	compiled := make([]compiledGlob, 0, len(patterns))
	for _, pattern := range patterns {
		matcher, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, compiledGlob{pattern: pattern, matcher: matcher})
	}
	return compiled, nil
}

// Check decides whether a resolved path may be touched. The returned error
// wraps ErrPolicyDenied and, for deny matches, names the offending pattern.
func (p *Policy) Check(resolved string) error {
	rel := toSlashRel(p.resolver.Rel(resolved))
	if rel == "." {
		// The root itself; patterns govern the entries under it.
		return nil
	}
	for _, d := range p.deny {
		if d.matcher.Match(rel) {
			return fmt.Errorf("%w: %s", ErrPolicyDenied, d.pattern)
		}
	}
	for _, a := range p.allow {
		if a.matcher.Match(rel) {
			return nil
		}
	}
	return fmt.Errorf("%w: no allow pattern matches", ErrPolicyDenied)
}

// toSlashRel normalizes a root-relative path to slash form for matching.
func toSlashRel(rel string) string {
	return filepath.ToSlash(rel)
}
