package coordinator

import (
	"github.com/civalops/farmcoord/internal/store"
	"github.com/civalops/farmcoord/pkg/models"
)

// Aggregate recomputes farm progress from the full current todo set. It is a
// pure recomputation, never an incremental patch, so cached and true state
// cannot drift. Agents from roster with zero todos report 0 performance.
func Aggregate(todos []store.Todo, roster []string) models.FarmProgress {
	perf := make(map[string]float64, len(roster))
	for _, a := range roster {
		perf[a] = 0
	}

	total := len(todos)
	completed := 0
	perAgentTotal := make(map[string]int)
	perAgentCompleted := make(map[string]int)
	for _, t := range todos {
		perAgentTotal[t.AgentID]++
		if t.Status == models.StatusCompleted {
			completed++
			perAgentCompleted[t.AgentID]++
		}
	}

	for agent, n := range perAgentTotal {
		perf[agent] = 100 * float64(perAgentCompleted[agent]) / float64(n)
	}

	overall := 0.0
	if total > 0 {
		overall = 100 * float64(completed) / float64(total)
	}
	return models.FarmProgress{OverallCompletion: overall, AgentPerformance: perf}
}

// ActiveLoads counts pending plus in_progress todos per agent. Agents from
// roster appear even when idle; assignees outside the roster appear too so
// the balancer can drain work left behind by removed agents.
func ActiveLoads(todos []store.Todo, roster []string) map[string]int {
	loads := make(map[string]int, len(roster))
	for _, a := range roster {
		loads[a] = 0
	}
	for _, t := range todos {
		if t.Status == models.StatusPending || t.Status == models.StatusInProgress {
			loads[t.AgentID]++
		}
	}
	return loads
}
