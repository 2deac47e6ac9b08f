package routing

import (
	"fmt"
	"strings"
	"time"
)

// FirstSolutionStrategy selects how the initial routes are constructed.
type FirstSolutionStrategy int

const (
	Automatic FirstSolutionStrategy = iota
	PathCheapestArc
	PathMostConstrainedArc
	EvaluatorStrategy
	Savings
	Sweep
	Christofides
	AllUnperformed
	BestInsertion
	ParallelCheapestInsertion
	LocalCheapestInsertion
	GlobalCheapestArc
	LocalCheapestArc
	FirstUnboundMinValue
)

var firstSolutionNames = map[FirstSolutionStrategy]string{
	Automatic:                 "AUTOMATIC",
	PathCheapestArc:           "PATH_CHEAPEST_ARC",
	PathMostConstrainedArc:    "PATH_MOST_CONSTRAINED_ARC",
	EvaluatorStrategy:         "EVALUATOR_STRATEGY",
	Savings:                   "SAVINGS",
	Sweep:                     "SWEEP",
	Christofides:              "CHRISTOFIDES",
	AllUnperformed:            "ALL_UNPERFORMED",
	BestInsertion:             "BEST_INSERTION",
	ParallelCheapestInsertion: "PARALLEL_CHEAPEST_INSERTION",
	LocalCheapestInsertion:    "LOCAL_CHEAPEST_INSERTION",
	GlobalCheapestArc:         "GLOBAL_CHEAPEST_ARC",
	LocalCheapestArc:          "LOCAL_CHEAPEST_ARC",
	FirstUnboundMinValue:      "FIRST_UNBOUND_MIN_VALUE",
}

func (s FirstSolutionStrategy) String() string {
	if n, ok := firstSolutionNames[s]; ok {
		return n
	}
	return fmt.Sprintf("FirstSolutionStrategy(%d)", int(s))
}

// FirstSolutionStrategies lists every strategy in declaration order.
func FirstSolutionStrategies() []FirstSolutionStrategy {
	out := make([]FirstSolutionStrategy, 0, len(firstSolutionNames))
	for s := Automatic; s <= FirstUnboundMinValue; s++ {
		out = append(out, s)
	}
	return out
}

func ParseFirstSolutionStrategy(name string) (FirstSolutionStrategy, error) {
	want := normalizeName(name)
	for s, n := range firstSolutionNames {
		if n == want {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown first solution strategy %q", name)
}

// Metaheuristic selects the local search that improves the first solution.
type Metaheuristic int

const (
	MetaheuristicNone Metaheuristic = iota
	MetaheuristicAutomatic
	GreedyDescent
	GuidedLocalSearch
	SimulatedAnnealing
	TabuSearch
	GenericTabuSearch
)

var metaheuristicNames = map[Metaheuristic]string{
	MetaheuristicNone:      "None",
	MetaheuristicAutomatic: "AUTOMATIC",
	GreedyDescent:          "GREEDY_DESCENT",
	GuidedLocalSearch:      "GUIDED_LOCAL_SEARCH",
	SimulatedAnnealing:     "SIMULATED_ANNEALING",
	TabuSearch:             "TABU_SEARCH",
	GenericTabuSearch:      "GENERIC_TABU_SEARCH",
}

func (m Metaheuristic) String() string {
	if n, ok := metaheuristicNames[m]; ok {
		return n
	}
	return fmt.Sprintf("Metaheuristic(%d)", int(m))
}

func Metaheuristics() []Metaheuristic {
	out := make([]Metaheuristic, 0, len(metaheuristicNames))
	for m := MetaheuristicNone; m <= GenericTabuSearch; m++ {
		out = append(out, m)
	}
	return out
}

// ParseMetaheuristic accepts the upper-snake names; "" and "none" mean no local search.
func ParseMetaheuristic(name string) (Metaheuristic, error) {
	want := normalizeName(name)
	if want == "" || want == "NONE" {
		return MetaheuristicNone, nil
	}
	for m, n := range metaheuristicNames {
		if n == want {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown local search metaheuristic %q", name)
}

func normalizeName(s string) string {
	s = strings.TrimSpace(strings.ToUpper(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// SearchParameters configures one Solve call. A zero TimeLimit means the
// search runs until its own stopping rule; local search without a limit
// stops at the first local optimum.
type SearchParameters struct {
	FirstSolution FirstSolutionStrategy
	Metaheuristic Metaheuristic
	TimeLimit     time.Duration
	// Seed makes randomized phases reproducible. Zero picks a fixed default.
	Seed int64
	// SolutionLimit caps accepted local search moves; zero means unlimited.
	SolutionLimit int
}

func DefaultSearchParameters() SearchParameters {
	return SearchParameters{FirstSolution: Automatic, Metaheuristic: MetaheuristicNone}
}

func (p SearchParameters) String() string {
	lim := "none"
	if p.TimeLimit > 0 {
		lim = p.TimeLimit.String()
	}
	return fmt.Sprintf("first=%s local=%s limit=%s seed=%d", p.FirstSolution, p.Metaheuristic, lim, p.Seed)
}
