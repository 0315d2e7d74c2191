package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFarmLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	farm, err := s.CreateFarm(ctx, "north-farm")
	if err != nil {
		t.Fatalf("CreateFarm: %v", err)
	}
	if farm.FarmID == "" {
		t.Fatal("expected non-empty farm id")
	}
	if farm.Revision != 0 {
		t.Fatalf("new farm revision = %d, want 0", farm.Revision)
	}

	got, err := s.GetFarmByName(ctx, "north-farm")
	if err != nil {
		t.Fatalf("GetFarmByName: %v", err)
	}
	if got.FarmID != farm.FarmID {
		t.Fatalf("farm id mismatch: %q vs %q", got.FarmID, farm.FarmID)
	}

	if _, err := s.CreateFarm(ctx, "north-farm"); err == nil {
		t.Fatal("expected duplicate farm name to fail")
	}

	farms, err := s.ListFarms(ctx)
	if err != nil {
		t.Fatalf("ListFarms: %v", err)
	}
	if len(farms) != 1 {
		t.Fatalf("ListFarms = %d farms, want 1", len(farms))
	}

	if err := s.DeleteFarm(ctx, "north-farm"); err != nil {
		t.Fatalf("DeleteFarm: %v", err)
	}
	if _, err := s.GetFarmByName(ctx, "north-farm"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetFarmByName after delete = %v, want ErrNotFound", err)
	}
}

func TestFarmRevisionBump(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateFarm(ctx, "rev-farm"); err != nil {
		t.Fatalf("CreateFarm: %v", err)
	}
	for i := 1; i <= 3; i++ {
		rev, err := s.BumpFarmRevision(ctx, "rev-farm")
		if err != nil {
			t.Fatalf("BumpFarmRevision: %v", err)
		}
		if rev != int64(i) {
			t.Fatalf("bump %d returned revision %d", i, rev)
		}
	}
	rev, err := s.FarmRevision(ctx, "rev-farm")
	if err != nil {
		t.Fatalf("FarmRevision: %v", err)
	}
	if rev != 3 {
		t.Fatalf("FarmRevision = %d, want 3", rev)
	}
}

// Roster changes must advance the revision so a rebalance proposal computed
// against the old roster fails its optimistic recheck instead of assigning
// work to an agent that no longer exists.
func TestRosterChangeBumpsRevision(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateFarm(ctx, "roster"); err != nil {
		t.Fatalf("CreateFarm: %v", err)
	}
	if _, err := s.AddAgent(ctx, "roster", "a1"); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}
	rev, err := s.FarmRevision(ctx, "roster")
	if err != nil {
		t.Fatalf("FarmRevision: %v", err)
	}
	if rev != 1 {
		t.Fatalf("revision after add = %d, want 1", rev)
	}

	if err := s.RemoveAgent(ctx, "roster", "a1"); err != nil {
		t.Fatalf("RemoveAgent: %v", err)
	}
	rev, err = s.FarmRevision(ctx, "roster")
	if err != nil {
		t.Fatalf("FarmRevision: %v", err)
	}
	if rev != 2 {
		t.Fatalf("revision after remove = %d, want 2", rev)
	}
}

func TestAgentMembership(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	farm, err := s.CreateFarm(ctx, "crew")
	if err != nil {
		t.Fatalf("CreateFarm: %v", err)
	}
	a, err := s.AddAgent(ctx, "crew", "momentum-1")
	if err != nil {
		t.Fatalf("AddAgent: %v", err)
	}
	if a.FarmID != farm.FarmID {
		t.Fatalf("agent farm id = %q, want %q", a.FarmID, farm.FarmID)
	}
	if _, err := s.AddAgent(ctx, "crew", "momentum-1"); err == nil {
		t.Fatal("expected duplicate agent name within farm to fail")
	}
	if _, err := s.AddAgent(ctx, "no-such-farm", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddAgent to missing farm = %v, want ErrNotFound", err)
	}

	agents, err := s.ListAgents(ctx, "crew")
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "momentum-1" {
		t.Fatalf("ListAgents = %+v", agents)
	}

	if err := s.RemoveAgent(ctx, "crew", "momentum-1"); err != nil {
		t.Fatalf("RemoveAgent: %v", err)
	}
	if err := s.RemoveAgent(ctx, "crew", "momentum-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RemoveAgent twice = %v, want ErrNotFound", err)
	}
}

func TestTodoCRUD(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	farm, err := s.CreateFarm(ctx, "todo-farm")
	if err != nil {
		t.Fatalf("CreateFarm: %v", err)
	}
	if _, err := s.AddAgent(ctx, "todo-farm", "scalper-1"); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	todo := Todo{
		TodoID:         NewID(),
		AgentID:        "scalper-1",
		FarmID:         farm.FarmID,
		Title:          "Scan order book depth",
		Category:       "analysis",
		Priority:       "high",
		Status:         "pending",
		HierarchyLevel: "individual",
		AssignedBy:     "operator",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.PutTodo(ctx, todo); err != nil {
		t.Fatalf("PutTodo: %v", err)
	}

	got, err := s.GetTodo(ctx, todo.TodoID)
	if err != nil {
		t.Fatalf("GetTodo: %v", err)
	}
	if got == nil {
		t.Fatal("GetTodo returned nil for existing todo")
	}
	if got.Title != todo.Title || got.Priority != "high" || !got.CreatedAt.Equal(now) {
		t.Fatalf("GetTodo = %+v", got)
	}

	// Upsert replaces fields in place.
	todo.Status = "in_progress"
	todo.UpdatedAt = now.Add(time.Second)
	if err := s.PutTodo(ctx, todo); err != nil {
		t.Fatalf("PutTodo upsert: %v", err)
	}
	got, err = s.GetTodo(ctx, todo.TodoID)
	if err != nil || got == nil {
		t.Fatalf("GetTodo after upsert: %v", err)
	}
	if got.Status != "in_progress" {
		t.Fatalf("status after upsert = %q", got.Status)
	}

	missing, err := s.GetTodo(ctx, "nope")
	if err != nil {
		t.Fatalf("GetTodo missing: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for missing todo")
	}

	if err := s.DeleteTodo(ctx, todo.TodoID); err != nil {
		t.Fatalf("DeleteTodo: %v", err)
	}
	got, err = s.GetTodo(ctx, todo.TodoID)
	if err != nil || got != nil {
		t.Fatalf("GetTodo after delete = %+v, %v", got, err)
	}
}

func TestListOrdering(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	farm, err := s.CreateFarm(ctx, "ordered")
	if err != nil {
		t.Fatalf("CreateFarm: %v", err)
	}
	base := time.Now().UTC().Truncate(time.Millisecond)
	titles := []string{"first", "second", "third"}
	for i, title := range titles {
		todo := Todo{
			TodoID:         NewID(),
			AgentID:        "a1",
			FarmID:         farm.FarmID,
			Title:          title,
			Category:       "trading",
			Priority:       "medium",
			Status:         "pending",
			HierarchyLevel: "individual",
			CreatedAt:      base.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt:      base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := s.PutTodo(ctx, todo); err != nil {
			t.Fatalf("PutTodo: %v", err)
		}
	}

	byFarm, err := s.ListByFarm(ctx, "ordered")
	if err != nil {
		t.Fatalf("ListByFarm: %v", err)
	}
	if len(byFarm) != 3 {
		t.Fatalf("ListByFarm = %d todos, want 3", len(byFarm))
	}
	for i, title := range titles {
		if byFarm[i].Title != title {
			t.Fatalf("position %d = %q, want %q", i, byFarm[i].Title, title)
		}
	}

	byAgent, err := s.ListByAgent(ctx, "ordered", "a1")
	if err != nil {
		t.Fatalf("ListByAgent: %v", err)
	}
	if len(byAgent) != 3 {
		t.Fatalf("ListByAgent = %d todos, want 3", len(byAgent))
	}
	other, err := s.ListByAgent(ctx, "ordered", "a2")
	if err != nil {
		t.Fatalf("ListByAgent other: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("ListByAgent for unknown agent = %d todos, want 0", len(other))
	}
}

func TestDeleteFarmRemovesTodos(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	farm, err := s.CreateFarm(ctx, "doomed")
	if err != nil {
		t.Fatalf("CreateFarm: %v", err)
	}
	now := time.Now().UTC()
	todo := Todo{
		TodoID: NewID(), AgentID: "a1", FarmID: farm.FarmID,
		Title: "cleanup target", Category: "trading", Priority: "low",
		Status: "pending", HierarchyLevel: "individual",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.PutTodo(ctx, todo); err != nil {
		t.Fatalf("PutTodo: %v", err)
	}
	if err := s.DeleteFarm(ctx, "doomed"); err != nil {
		t.Fatalf("DeleteFarm: %v", err)
	}
	got, err := s.GetTodo(ctx, todo.TodoID)
	if err != nil {
		t.Fatalf("GetTodo: %v", err)
	}
	if got != nil {
		t.Fatal("todo survived farm deletion")
	}
}

func TestSeedDemoIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SeedDemo(ctx); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}
	if err := s.SeedDemo(ctx); err != nil {
		t.Fatalf("SeedDemo second run: %v", err)
	}
	todos, err := s.ListByFarm(ctx, "alpha-farm")
	if err != nil {
		t.Fatalf("ListByFarm: %v", err)
	}
	if len(todos) != 4 {
		t.Fatalf("seeded %d todos, want 4", len(todos))
	}
	agents, err := s.ListAgents(ctx, "alpha-farm")
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 3 {
		t.Fatalf("seeded %d agents, want 3", len(agents))
	}
}

func BenchmarkPutTodo(b *testing.B) {
	s, err := Open(b.TempDir())
	if err != nil {
		b.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	farm, err := s.CreateFarm(ctx, "bench")
	if err != nil {
		b.Fatalf("CreateFarm: %v", err)
	}
	now := time.Now().UTC()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		todo := Todo{
			TodoID: NewID(), AgentID: "a1", FarmID: farm.FarmID,
			Title: "bench todo", Category: "trading", Priority: "medium",
			Status: "pending", HierarchyLevel: "individual",
			CreatedAt: now, UpdatedAt: now,
		}
		if err := s.PutTodo(ctx, todo); err != nil {
			b.Fatalf("PutTodo: %v", err)
		}
	}
}
