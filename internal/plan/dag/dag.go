package dag

import (
	"fmt"
	"sort"
)

// Job is the minimal view of a node the graph utilities operate on.
type Job struct {
	ProducerID   string
	Dependencies []string
}

// DetectCycles walks the dependency graph depth-first and reports the first
// cycle found. The error always names a node on the cycle.
func DetectCycles(jobs []Job) error {
	deps := make(map[string][]string, len(jobs))
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		deps[job.ProducerID] = job.Dependencies
		ids = append(ids, job.ProducerID)
	}
	sort.Strings(ids)

	// Classic three-color search: permanent nodes are fully explored and
	// known cycle-free, temporary nodes sit on the current recursion stack.
	permanent := make(map[string]bool, len(jobs))
	temporary := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if permanent[id] {
			return nil
		}
		if temporary[id] {
			return fmt.Errorf("dag: cycle detected involving node '%s'", id)
		}
		temporary[id] = true
		for _, dep := range deps[id] {
			if _, ok := deps[dep]; !ok {
				// Missing references are ValidateDependencies' concern.
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(temporary, id)
		permanent[id] = true
		return nil
	}

	for _, id := range ids {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// RootsAndLeaves computes the jobs with no dependencies (roots) and the jobs
// no other job depends on (leaves), both sorted. A job with neither is
// simultaneously root and leaf.
func RootsAndLeaves(jobs []Job) (roots, leaves []string) {
	depended := make(map[string]bool)
	for _, job := range jobs {
		for _, dep := range job.Dependencies {
			depended[dep] = true
		}
	}
	for _, job := range jobs {
		if len(job.Dependencies) == 0 {
			roots = append(roots, job.ProducerID)
		}
		if !depended[job.ProducerID] {
			leaves = append(leaves, job.ProducerID)
		}
	}
	sort.Strings(roots)
	sort.Strings(leaves)
	return roots, leaves
}

// ValidateDependencies confirms every declared dependency names a job in the
// set. The error identifies the missing dependency and its referrer.
func ValidateDependencies(jobs []Job) error {
	known := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		known[job.ProducerID] = true
	}
	for _, job := range jobs {
		for _, dep := range job.Dependencies {
			if !known[dep] {
				return fmt.Errorf("dag: dependency %s referenced by %s not declared", dep, job.ProducerID)
			}
		}
	}
	return nil
}

// Validate runs the full structural check used before committing a
// mutation: every dependency must exist and the graph must be acyclic.
func Validate(jobs []Job) error {
	if err := ValidateDependencies(jobs); err != nil {
		return err
	}
	return DetectCycles(jobs)
}
