package daemon

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/civalops/farmcoord/internal/httpapi"
	"github.com/civalops/farmcoord/pkg/models"
)

func TestStartForeground_emptyHome(t *testing.T) {
	ctx := context.Background()
	err := StartForeground(ctx, StartOptions{Home: ""})
	if err == nil {
		t.Fatal("StartForeground empty home: expected error")
	}
}

func TestStatus_notRunning(t *testing.T) {
	t.Parallel()
	st, err := Status(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Running {
		t.Fatal("expected not running in empty home")
	}
}

// The background child only sees flags, so every option the daemon command
// reads must show up in the argv. A dropped flag means `start --db-driver
// postgres` quietly launches a sqlite daemon.
func TestBackgroundArgs_forwardsAllOptions(t *testing.T) {
	t.Parallel()
	args := backgroundArgs(StartOptions{
		Home:          "/tmp/fc",
		Port:          4780,
		IntervalSec:   30,
		AutoRebalance: true,
		Dev:           true,
		PprofAddr:     "127.0.0.1:6060",
		DBDriver:      "postgres",
		DBURL:         "postgres://localhost/farmcoord",
		EnableOtel:    false,
	})
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"daemon",
		"--home /tmp/fc",
		"--port 4780",
		"--interval 30",
		"--otel=false",
		"--auto-rebalance",
		"--dev",
		"--pprof 127.0.0.1:6060",
		"--db-driver postgres",
		"--db-url postgres://localhost/farmcoord",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("child args missing %q: %s", want, joined)
		}
	}
}

func testApp(t *testing.T) (*httpapi.App, context.Context) {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	app, err := httpapi.NewApp(httpapi.ServerOptions{Home: home, Addr: ":0"})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return app, context.Background()
}

func seedFarm(t *testing.T, app *httpapi.App, ctx context.Context, farm string, agents []string) {
	t.Helper()
	if _, err := app.Store.CreateFarm(ctx, farm); err != nil {
		t.Fatalf("CreateFarm: %v", err)
	}
	for _, a := range agents {
		if _, err := app.Store.AddAgent(ctx, farm, a); err != nil {
			t.Fatalf("AddAgent %s: %v", a, err)
		}
	}
}

func TestMaintainFarm_reprioritizes(t *testing.T) {
	app, ctx := testApp(t)
	defer func() { _ = app.Store.Close() }()

	seedFarm(t, app, ctx, "farm1", []string{"a1"})
	if _, err := app.Coordinator.CreateTodo(ctx, models.CreateTodoRequest{
		Farm: "farm1", AgentID: "a1", Title: "rotate keys", Priority: models.PriorityCritical,
	}); err != nil {
		t.Fatalf("CreateTodo: %v", err)
	}

	ch := app.Hub.Subscribe()
	defer app.Hub.Unsubscribe(ch)

	maintainFarm(ctx, StartOptions{}, app, "farm1")

	select {
	case raw := <-ch:
		var ev models.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if ev.Type != "reprioritized" {
			t.Errorf("event type: got %q, want reprioritized", ev.Type)
		}
		if ev.Farm != "farm1" {
			t.Errorf("event farm: got %q", ev.Farm)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for hub message")
	}
}

func TestMaintainFarm_autoRebalance(t *testing.T) {
	app, ctx := testApp(t)
	defer func() { _ = app.Store.Close() }()

	seedFarm(t, app, ctx, "farm2", []string{"busy", "idle1", "idle2"})
	for i := 0; i < 6; i++ {
		if _, err := app.Coordinator.CreateTodo(ctx, models.CreateTodoRequest{
			Farm: "farm2", AgentID: "busy", Title: "scan book",
		}); err != nil {
			t.Fatalf("CreateTodo: %v", err)
		}
	}

	maintainFarm(ctx, StartOptions{AutoRebalance: true}, app, "farm2")

	todos, err := app.Store.ListByAgent(ctx, "farm2", "busy")
	if err != nil {
		t.Fatalf("ListByAgent: %v", err)
	}
	// 6 todos over 3 agents: busy must come down to the overload band (avg 2 * 1.2).
	if len(todos) > 2 {
		t.Errorf("busy agent still has %d todos after rebalance", len(todos))
	}
}

func TestRunMaintenance_ticksUntilCancelled(t *testing.T) {
	app, ctx := testApp(t)
	defer func() { _ = app.Store.Close() }()

	seedFarm(t, app, ctx, "farm3", []string{"a1"})
	if _, err := app.Coordinator.CreateTodo(ctx, models.CreateTodoRequest{
		Farm: "farm3", AgentID: "a1", Title: "hold position",
	}); err != nil {
		t.Fatalf("CreateTodo: %v", err)
	}

	ch := app.Hub.Subscribe()
	defer app.Hub.Unsubscribe(ch)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		runMaintenance(runCtx, StartOptions{IntervalSec: 0.01}, app)
		close(done)
	}()

	select {
	case <-ch:
		// At least one maintenance event observed.
	case <-time.After(2 * time.Second):
		t.Error("no maintenance event before timeout")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runMaintenance did not stop after cancel")
	}
}
