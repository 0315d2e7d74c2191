package coordinator

import (
	"sort"

	"github.com/civalops/farmcoord/internal/store"
	"github.com/civalops/farmcoord/pkg/models"
)

// BalancerConfig tunes the rebalance thresholds. The defaults mark an agent
// overloaded above 1.2x the farm average and underloaded below 0.8x.
type BalancerConfig struct {
	OverloadFactor  float64
	UnderloadFactor float64
	MaxMoves        int
}

// DefaultBalancerConfig returns the stock thresholds.
func DefaultBalancerConfig() BalancerConfig {
	return BalancerConfig{OverloadFactor: 1.2, UnderloadFactor: 0.8, MaxMoves: 100}
}

func (c BalancerConfig) withDefaults() BalancerConfig {
	d := DefaultBalancerConfig()
	if c.OverloadFactor <= 0 {
		c.OverloadFactor = d.OverloadFactor
	}
	if c.UnderloadFactor <= 0 {
		c.UnderloadFactor = d.UnderloadFactor
	}
	if c.MaxMoves <= 0 {
		c.MaxMoves = d.MaxMoves
	}
	return c
}

// ProposeMoves computes a move set that drains overloaded agents down to the
// overload threshold, handing pending todos to underloaded agents with higher
// performance first. It never mutates state and never moves an in_progress
// todo. An empty result is a valid outcome meaning all loads are in band.
//
// Assignees that are no longer on the farm roster are drained entirely: a
// removed agent's pending work becomes eligible on the next rebalance pass.
func ProposeMoves(todos []store.Todo, roster []string, performance map[string]float64, cfg BalancerConfig) []models.Move {
	cfg = cfg.withDefaults()
	if len(roster) == 0 {
		return nil
	}
	onRoster := make(map[string]bool, len(roster))
	for _, a := range roster {
		onRoster[a] = true
	}

	loads := ActiveLoads(todos, roster)
	sum := 0
	for _, a := range roster {
		sum += loads[a]
	}
	avg := float64(sum) / float64(len(roster))

	// Movable work per assignee: pending only, oldest first.
	pendingByAgent := make(map[string][]store.Todo)
	for _, t := range todos {
		if t.Status == models.StatusPending {
			pendingByAgent[t.AgentID] = append(pendingByAgent[t.AgentID], t)
		}
	}
	for a := range pendingByAgent {
		ts := pendingByAgent[a]
		sort.SliceStable(ts, func(i, j int) bool {
			if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
				return ts[i].CreatedAt.Before(ts[j].CreatedAt)
			}
			return ts[i].TodoID < ts[j].TodoID
		})
	}

	// Sources in deterministic order: non-roster assignees first (full
	// drain), then overloaded roster agents by descending load.
	var sources []string
	for a := range loads {
		if !onRoster[a] && len(pendingByAgent[a]) > 0 {
			sources = append(sources, a)
		}
	}
	sort.Strings(sources)
	var overloaded []string
	for _, a := range roster {
		if float64(loads[a]) > avg*cfg.OverloadFactor {
			overloaded = append(overloaded, a)
		}
	}
	sort.SliceStable(overloaded, func(i, j int) bool {
		if loads[overloaded[i]] != loads[overloaded[j]] {
			return loads[overloaded[i]] > loads[overloaded[j]]
		}
		return overloaded[i] < overloaded[j]
	})
	sources = append(sources, overloaded...)

	projected := make(map[string]int, len(roster))
	for _, a := range roster {
		projected[a] = loads[a]
	}

	var moves []models.Move
	for _, src := range sources {
		queue := pendingByAgent[src]
		srcLoad := loads[src]
		for _, todo := range queue {
			if len(moves) >= cfg.MaxMoves {
				return moves
			}
			// Roster sources stop once back inside the overload band;
			// non-roster sources drain completely.
			if onRoster[src] && float64(srcLoad) <= avg*cfg.OverloadFactor {
				break
			}
			// Roster sources only hand off to underloaded agents; draining a
			// removed agent falls back to the least loaded agent so the work
			// never strands.
			dst := pickReceiver(roster, loads, projected, performance, avg*cfg.UnderloadFactor, src, onRoster[src])
			if dst == "" {
				break
			}
			moves = append(moves, models.Move{TodoID: todo.TodoID, FromAgent: src, ToAgent: dst})
			srcLoad--
			projected[src] = srcLoad
			projected[dst]++
		}
	}
	return moves
}

// pickReceiver selects the destination for one move: among underloaded roster
// agents (load below cutoff, the farm average scaled by the underload factor)
// the highest-performance agent wins, so proven agents absorb work first.
// Eligibility is judged on the load before this rebalance pass, so every
// underloaded agent stays a candidate for the whole proposal. Ties break on
// lower projected load, then name. With strict=false (draining removed
// agents) and nobody underloaded, the least loaded agent receives instead.
func pickReceiver(roster []string, loads, projected map[string]int, performance map[string]float64, cutoff float64, exclude string, strict bool) string {
	better := func(a, best string) bool {
		pa, pb := performance[a], performance[best]
		if pa != pb {
			return pa > pb
		}
		if projected[a] != projected[best] {
			return projected[a] < projected[best]
		}
		return a < best
	}

	best := ""
	for _, a := range roster {
		if a == exclude || float64(loads[a]) >= cutoff {
			continue
		}
		if best == "" || better(a, best) {
			best = a
		}
	}
	if best != "" || strict {
		return best
	}
	for _, a := range roster {
		if a == exclude {
			continue
		}
		if best == "" {
			best = a
			continue
		}
		if projected[a] != projected[best] {
			if projected[a] < projected[best] {
				best = a
			}
			continue
		}
		if better(a, best) {
			best = a
		}
	}
	return best
}
