package workflow

import (
	"fmt"
	"strings"
)

// detectCycle runs a depth-first search over the dependency graph and
// returns a human-readable cycle path such as "a -> b -> a" when one
// exists. Steps are visited in declared order so the reported cycle is
// deterministic.
func detectCycle(steps []*Step) (string, bool) {
	index := make(map[string]*Step, len(steps))
	for _, step := range steps {
		index[step.ID] = step
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(steps))
	var stack []string

	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		state[id] = inStack
		stack = append(stack, id)

		step := index[id]
		if step != nil {
			for _, dep := range step.Dependencies {
				if _, ok := index[dep]; !ok {
					continue // unknown deps are a validation error, not a cycle
				}
				switch state[dep] {
				case inStack:
					// Trim the stack to the start of the loop.
					start := 0
					for i, v := range stack {
						if v == dep {
							start = i
							break
						}
					}
					path := append(append([]string{}, stack[start:]...), dep)
					return strings.Join(path, " -> "), true
				case unvisited:
					if path, found := visit(dep); found {
						return path, true
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return "", false
	}

	for _, step := range steps {
		if state[step.ID] == unvisited {
			if path, found := visit(step.ID); found {
				return path, true
			}
		}
	}
	return "", false
}

// executionLevels splits steps into dependency waves: every step in a
// wave has all of its dependencies satisfied by earlier waves. Within
// a wave, steps keep their declared order. Unknown dependency
// references and cycles surface as errors.
func executionLevels(steps []*Step) ([][]*Step, error) {
	index := make(map[string]*Step, len(steps))
	for _, step := range steps {
		index[step.ID] = step
	}

	for _, step := range steps {
		for _, dep := range step.Dependencies {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("step %q depends on unknown step %q", step.ID, dep)
			}
		}
	}

	scheduled := make(map[string]bool, len(steps))
	var levels [][]*Step

	for len(scheduled) < len(steps) {
		var wave []*Step
		for _, step := range steps {
			if scheduled[step.ID] {
				continue
			}
			ready := true
			for _, dep := range step.Dependencies {
				if !scheduled[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, step)
			}
		}

		if len(wave) == 0 {
			if path, found := detectCycle(steps); found {
				return nil, fmt.Errorf("circular dependency detected: %s", path)
			}
			return nil, fmt.Errorf("circular dependency detected")
		}

		for _, step := range wave {
			scheduled[step.ID] = true
		}
		levels = append(levels, wave)
	}

	return levels, nil
}

// parallelGroups partitions one wave by ParallelGroup. Steps without a
// group run sequentially in declared order; members of the same group
// fan out together. Group batches are interleaved at the position of
// their first member so overall progression still follows declared
// order.
func parallelGroups(wave []*Step) [][]*Step {
	var batches [][]*Step
	groupBatch := make(map[string]int)

	for _, step := range wave {
		if step.ParallelGroup == "" {
			batches = append(batches, []*Step{step})
			continue
		}
		if i, ok := groupBatch[step.ParallelGroup]; ok {
			batches[i] = append(batches[i], step)
			continue
		}
		groupBatch[step.ParallelGroup] = len(batches)
		batches = append(batches, []*Step{step})
	}

	return batches
}
