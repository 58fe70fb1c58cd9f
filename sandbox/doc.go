// Package sandbox implements the access-control boundary of the server.
//
// The package confines every filesystem and process-execution operation to a
// single root directory. Resolver canonicalizes caller-supplied paths and
// rejects traversal and symlink escapes, Policy evaluates resolved paths
// against deny-then-allow glob pattern sets, Runner executes allowlisted
// commands with a required argument prefix, a wall-clock timeout and an
// output byte cap, and FS composes resolver and policy in front of the
// actual file operations.
//
// All configuration is immutable after construction, so every type here is
// safe for concurrent use without locking.
//
// Usage:
//
//	resolver, err := sandbox.NewResolver("/srv/sandbox")
//	policy, err := sandbox.NewPolicy(resolver, sandbox.DefaultDenyGlobs, sandbox.DefaultAllowGlobs)
//	fs := sandbox.NewFS(logger, resolver, policy)
//	result, err := fs.ReadText("notes/readme.md", "utf-8")
package sandbox
