package opt

import (
	"math/rand"
	"sort"
)

// anneal is simulated annealing over ruin and recreate moves: remove k
// units (random or related), reinsert them (greedy or regret-2), accept by
// the Metropolis rule. Operator weights adapt by roulette wheel.
func (s *search) anneal(sol *solution, limit int) *solution {
	e := s.e
	m := &e.stats
	rng := s.rng
	remW := []float64{1, 1} // random, shaw
	insW := []float64{1, 1} // greedy, regret2
	temp := float64(sol.obj)*0.05 + 1
	const cool = 0.995
	const snapshotEvery = 50
	curr, best := sol, sol
	units := len(e.units())
	for it := 0; !s.stop(it, m.Improvements, limit); it++ {
		m.Iterations++
		k := 1 + rng.Intn(min(3, max(1, units)))
		op := selectOp(remW, rng)
		m.RemovalSelects[op]++
		ip := selectOp(insW, rng)
		m.InsertSelects[ip]++
		var removed [][]int64
		switch op {
		case 0:
			removed = s.randomUnits(curr, k)
		case 1:
			removed = s.relatedUnits(curr, k)
		}
		cand := s.removeUnits(curr, removed)
		if cand != nil {
			switch ip {
			case 0:
				cand = s.greedyInsert(cand, removed, byObjective)
			case 1:
				cand = s.regretInsert(cand, removed)
			}
		}
		if cand == nil || !e.complete(cand) {
			remW[op] = max(0.01, remW[op]*0.999)
			insW[ip] = max(0.01, insW[ip]*0.999)
			temp *= cool
			continue
		}
		delta := float64(cand.obj - curr.obj)
		if delta < 0 || rng.Float64() < expNeg(delta, temp) {
			curr = cand
			if curr.obj < best.obj {
				best = curr
				remW[op] += 0.1
				insW[ip] += 0.1
				m.Improvements++
			} else {
				remW[op] += 0.01
				insW[ip] += 0.01
				if delta > 0 {
					m.AcceptedWorse++
				}
			}
		} else {
			remW[op] = max(0.01, remW[op]*0.999)
			insW[ip] = max(0.01, insW[ip]*0.999)
		}
		temp *= cool
		if m.Iterations%snapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, WeightSnapshot{
				Iteration: m.Iterations,
				Removal:   [2]float64{remW[0], remW[1]},
				Insertion: [2]float64{insW[0], insW[1]},
			})
		}
	}
	m.FinalRemovalWeights = [2]float64{remW[0], remW[1]}
	m.FinalInsertionWeights = [2]float64{insW[0], insW[1]}
	return best
}

// placedUnits lists the insertion units of sol, each with all its visits placed.
func (s *search) placedUnits(sol *solution) [][]int64 {
	placed := map[int64]bool{}
	for _, r := range sol.routes {
		for _, idx := range r {
			placed[idx] = true
		}
	}
	var out [][]int64
	for _, u := range s.e.units() {
		all := true
		for _, idx := range u {
			all = all && placed[idx]
		}
		if all {
			out = append(out, u)
		}
	}
	return out
}

func (s *search) randomUnits(sol *solution, k int) [][]int64 {
	all := s.placedUnits(sol)
	var out [][]int64
	for i := 0; i < k && len(all) > 0; i++ {
		j := s.rng.Intn(len(all))
		out = append(out, all[j])
		all = append(all[:j], all[j+1:]...)
	}
	return out
}

// relatedUnits is Shaw removal: a random seed unit plus the k-1 units
// closest to it by arc cost.
func (s *search) relatedUnits(sol *solution, k int) [][]int64 {
	e := s.e
	all := s.placedUnits(sol)
	if len(all) == 0 {
		return nil
	}
	seed := all[s.rng.Intn(len(all))]
	type scored struct {
		unit  []int64
		score int64
	}
	var rel []scored
	for _, u := range all {
		if u[0] == seed[0] {
			continue
		}
		rel = append(rel, scored{u, e.symmetricCost(seed[0], u[0])})
	}
	sort.SliceStable(rel, func(i, j int) bool { return rel[i].score < rel[j].score })
	out := [][]int64{seed}
	for i := 0; i < len(rel) && len(out) < k; i++ {
		out = append(out, rel[i].unit)
	}
	return out
}

func (s *search) removeUnits(sol *solution, units [][]int64) *solution {
	if len(units) == 0 {
		return sol
	}
	drop := map[int64]bool{}
	for _, u := range units {
		for _, idx := range u {
			drop[idx] = true
		}
	}
	routes := make([][]int64, len(sol.routes))
	for v, r := range sol.routes {
		routes[v] = withoutAll(r, drop)
	}
	return s.e.fromRoutes(routes)
}

func selectOp(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}
