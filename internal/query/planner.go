package query

import (
	"github.com/webindex/webindex/internal/partition"
	"github.com/webindex/webindex/internal/partition/domain"
)

// Plan groups a batch's deterministic queries by the single partition
// each touches — "the planner groups queries that target overlapping
// partitions and reads each partition at most once per batch" (spec
// §4.4). Simple and time-bounded queries don't have a fixed partition
// set ahead of reading (their termination is data-dependent), so each
// runs its own retrieval loop; they are still executed concurrently
// with each other and with the deterministic groups by the Executor.
type Plan struct {
	deterministicGroups map[partition.Key][]int
	other               []int
	errs                map[int]error
}

// Planner builds a Plan from a query batch.
type Planner struct{}

// NewPlanner creates a Planner. It holds no state; batching state lives
// entirely in the Plan it returns.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan groups queries[i] for every i, recording a per-slot error (e.g.
// an unparseable URL) instead of failing the whole batch.
func (p *Planner) Plan(queries []Query) *Plan {
	plan := &Plan{
		deterministicGroups: make(map[partition.Key][]int),
		errs:                make(map[int]error),
	}

	for i, q := range queries {
		if q.Kind != KindDeterministic {
			plan.other = append(plan.other, i)
			continue
		}

		dom, err := domain.Extract(q.URL)
		if err != nil {
			plan.errs[i] = err
			continue
		}
		key := partition.Key{
			Stream: q.Stream,
			Year:   q.Timestamp.Year(),
			Month:  int(q.Timestamp.Month()),
			Domain: dom,
		}
		plan.deterministicGroups[key] = append(plan.deterministicGroups[key], i)
	}

	return plan
}
