package coordinator

import (
	"testing"
	"time"

	"github.com/civalops/farmcoord/internal/store"
	"github.com/civalops/farmcoord/pkg/models"
)

func agentTodo(id, agent, status string) store.Todo {
	now := time.Now().UTC()
	return store.Todo{
		TodoID: id, AgentID: agent, FarmID: "f1",
		Title: "t", Category: models.CategoryTrading,
		Priority: models.PriorityMedium, Status: status,
		HierarchyLevel: models.HierarchyIndividual,
		CreatedAt:      now, UpdatedAt: now,
	}
}

func TestAggregateEmpty(t *testing.T) {
	t.Parallel()
	p := Aggregate(nil, []string{"a1", "a2"})
	if p.OverallCompletion != 0 {
		t.Fatalf("OverallCompletion = %v, want 0", p.OverallCompletion)
	}
	for _, a := range []string{"a1", "a2"} {
		if got, ok := p.AgentPerformance[a]; !ok || got != 0 {
			t.Fatalf("AgentPerformance[%s] = %v, %v; want 0 present", a, got, ok)
		}
	}
}

func TestAggregatePercentages(t *testing.T) {
	t.Parallel()
	todos := []store.Todo{
		agentTodo("1", "a1", models.StatusCompleted),
		agentTodo("2", "a1", models.StatusPending),
		agentTodo("3", "a2", models.StatusCompleted),
		agentTodo("4", "a2", models.StatusCompleted),
	}
	p := Aggregate(todos, []string{"a1", "a2", "a3"})
	if p.OverallCompletion != 75 {
		t.Fatalf("OverallCompletion = %v, want 75", p.OverallCompletion)
	}
	if p.AgentPerformance["a1"] != 50 {
		t.Fatalf("a1 performance = %v, want 50", p.AgentPerformance["a1"])
	}
	if p.AgentPerformance["a2"] != 100 {
		t.Fatalf("a2 performance = %v, want 100", p.AgentPerformance["a2"])
	}
	if p.AgentPerformance["a3"] != 0 {
		t.Fatalf("a3 performance = %v, want 0 for idle agent", p.AgentPerformance["a3"])
	}
	for a, v := range p.AgentPerformance {
		if v < 0 || v > 100 {
			t.Fatalf("AgentPerformance[%s] = %v out of [0,100]", a, v)
		}
	}
}

func TestActiveLoads(t *testing.T) {
	t.Parallel()
	todos := []store.Todo{
		agentTodo("1", "a1", models.StatusPending),
		agentTodo("2", "a1", models.StatusInProgress),
		agentTodo("3", "a1", models.StatusCompleted),
		agentTodo("4", "a2", models.StatusCancelled),
		agentTodo("5", "ghost", models.StatusPending),
	}
	loads := ActiveLoads(todos, []string{"a1", "a2"})
	if loads["a1"] != 2 {
		t.Fatalf("a1 load = %d, want 2", loads["a1"])
	}
	if loads["a2"] != 0 {
		t.Fatalf("a2 load = %d, want 0", loads["a2"])
	}
	if loads["ghost"] != 1 {
		t.Fatalf("ghost load = %d, want 1 (off-roster assignee still counted)", loads["ghost"])
	}
}
