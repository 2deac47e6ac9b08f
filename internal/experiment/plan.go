// Package experiment sweeps problems across first solution strategies and
// local search metaheuristics and hands every finished run to sinks.
package experiment

import (
	"fmt"
	"strings"
	"time"

	"vrpbench/internal/model"
	"vrpbench/internal/routing"
)

// Plan is the cross product to run, problem major.
type Plan struct {
	Problems       []*model.Instance
	FirstSolutions []routing.FirstSolutionStrategy
	Metaheuristics []routing.Metaheuristic
	// TimeLimit replaces every problem's own limit when positive.
	TimeLimit time.Duration
	Seed      int64
	Workers   int
}

// ReferenceStrategies are the first solution strategies of the reference
// sweep. SWEEP and EVALUATOR_STRATEGY need data the models do not carry.
func ReferenceStrategies() []routing.FirstSolutionStrategy {
	return []routing.FirstSolutionStrategy{
		routing.Automatic,
		routing.PathCheapestArc,
		routing.PathMostConstrainedArc,
		routing.Savings,
		routing.Christofides,
		routing.AllUnperformed,
		routing.BestInsertion,
		routing.ParallelCheapestInsertion,
		routing.LocalCheapestInsertion,
		routing.GlobalCheapestArc,
		routing.LocalCheapestArc,
		routing.FirstUnboundMinValue,
	}
}

// DefaultPlan is the reference sweep: five demo problems, twelve strategies
// and every metaheuristic including none.
func DefaultPlan() Plan {
	return Plan{
		Problems:       model.Demo(),
		FirstSolutions: ReferenceStrategies(),
		Metaheuristics: routing.Metaheuristics(),
		Workers:        1,
	}
}

// Combination is one cell of a plan.
type Combination struct {
	Seq           int
	Problem       *model.Instance
	FirstSolution routing.FirstSolutionStrategy
	Metaheuristic routing.Metaheuristic
	Params        routing.SearchParameters
}

func (c Combination) String() string {
	return fmt.Sprintf("%s/%s/%s", c.Problem.Name, c.FirstSolution, c.Metaheuristic)
}

// DefaultTimeLimit bounds a metaheuristic on a problem that names no limit
// of its own.
const DefaultTimeLimit = 10 * time.Second

// SearchFor composes the search parameters of one combination. Without a
// metaheuristic the construction runs unbounded; otherwise the problem's
// time limit applies, or DefaultTimeLimit when it has none.
func SearchFor(problem *model.Instance, first routing.FirstSolutionStrategy, meta routing.Metaheuristic) routing.SearchParameters {
	p := routing.SearchParameters{FirstSolution: first, Metaheuristic: meta}
	if meta != routing.MetaheuristicNone {
		p.TimeLimit = problem.TimeLimit
		if p.TimeLimit <= 0 {
			p.TimeLimit = DefaultTimeLimit
		}
	}
	return p
}

func (p Plan) Size() int {
	return len(p.Problems) * len(p.FirstSolutions) * len(p.Metaheuristics)
}

// Combinations expands the plan in run order.
func (p Plan) Combinations() []Combination {
	out := make([]Combination, 0, p.Size())
	for _, prob := range p.Problems {
		for _, fs := range p.FirstSolutions {
			for _, mh := range p.Metaheuristics {
				params := SearchFor(prob, fs, mh)
				if p.TimeLimit > 0 && mh != routing.MetaheuristicNone {
					params.TimeLimit = p.TimeLimit
				}
				params.Seed = p.Seed
				out = append(out, Combination{
					Seq:           len(out),
					Problem:       prob,
					FirstSolution: fs,
					Metaheuristic: mh,
					Params:        params,
				})
			}
		}
	}
	return out
}

// Validate rejects empty axes and duplicate problem names.
func (p Plan) Validate() error {
	if len(p.Problems) == 0 || len(p.FirstSolutions) == 0 || len(p.Metaheuristics) == 0 {
		return fmt.Errorf("empty plan: %d problems, %d strategies, %d metaheuristics",
			len(p.Problems), len(p.FirstSolutions), len(p.Metaheuristics))
	}
	seen := map[string]bool{}
	for _, in := range p.Problems {
		if seen[in.Name] {
			return fmt.Errorf("duplicate problem %q", in.Name)
		}
		seen[in.Name] = true
	}
	return nil
}

// Select narrows the plan to the named problems and strategies. Empty
// lists keep the plan's axis. Names match case-insensitively.
func (p Plan) Select(problems, firsts, metas []string) (Plan, error) {
	if len(problems) > 0 {
		var keep []*model.Instance
		for _, name := range problems {
			in := findProblem(p.Problems, name)
			if in == nil {
				return Plan{}, fmt.Errorf("unknown problem %q", name)
			}
			keep = append(keep, in)
		}
		p.Problems = keep
	}
	if len(firsts) > 0 {
		p.FirstSolutions = nil
		for _, name := range firsts {
			fs, err := routing.ParseFirstSolutionStrategy(name)
			if err != nil {
				return Plan{}, err
			}
			p.FirstSolutions = append(p.FirstSolutions, fs)
		}
	}
	if len(metas) > 0 {
		p.Metaheuristics = nil
		for _, name := range metas {
			mh, err := routing.ParseMetaheuristic(name)
			if err != nil {
				return Plan{}, err
			}
			p.Metaheuristics = append(p.Metaheuristics, mh)
		}
	}
	return p, p.Validate()
}

func findProblem(all []*model.Instance, name string) *model.Instance {
	for _, in := range all {
		if strings.EqualFold(in.Name, name) {
			return in
		}
	}
	return nil
}
