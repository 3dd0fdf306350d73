// Package storage defines the persistence contract the plan repository
// depends on and its plain file-store implementation. Plans live under a
// single root directory: one metadata blob per plan, per-node specification
// files grouped into numbered attempt directories, and a "current" symlink
// re-targeted on each new attempt.
package storage
