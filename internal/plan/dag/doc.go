// Package dag holds the pure graph utilities the plan repository validates
// topologies with: cycle detection, root/leaf computation, and dependency
// existence checks over a flat job list. It has no knowledge of persistence
// or execution state.
package dag
