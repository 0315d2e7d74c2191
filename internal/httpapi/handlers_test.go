package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/civalops/farmcoord/pkg/models"
)

// TestHandlers exercises many server routes to improve coverage of server.go.
func TestHandlers(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	app, err := NewApp(ServerOptions{Home: home, Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(ts.Close)

	// POST farm with empty name
	resp, _ := http.Post(ts.URL+"/farms", "application/json", strings.NewReader(`{"name":""}`))
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if resp != nil && resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST /farms empty name: status=%d", resp.StatusCode)
	}

	// Create farm and agents for sub-routes
	_, _ = http.Post(ts.URL+"/farms", "application/json", strings.NewReader(`{"name":"h1"}`))
	for _, name := range []string{"a1", "a2", "a3"} {
		ar, _ := http.Post(ts.URL+"/farms/h1/agents", "application/json",
			strings.NewReader(fmt.Sprintf(`{"name":%q}`, name)))
		if ar.StatusCode != http.StatusOK {
			t.Fatalf("POST agent %s: %d", name, ar.StatusCode)
		}
	}

	// GET agents
	agentsResp, _ := http.Get(ts.URL + "/farms/h1/agents")
	if agentsResp.StatusCode != http.StatusOK {
		t.Fatalf("GET agents: %d", agentsResp.StatusCode)
	}
	var agents []models.Agent
	_ = json.NewDecoder(agentsResp.Body).Decode(&agents)
	if len(agents) != 3 {
		t.Fatalf("GET agents: got %d, want 3", len(agents))
	}

	// Bulk create: one todo per request entry, all on a1
	var bulkTodos []string
	for i := 0; i < 6; i++ {
		bulkTodos = append(bulkTodos, fmt.Sprintf(`{"agent_id":"a1","title":"scan pair %d"}`, i))
	}
	bulkBody := fmt.Sprintf(`{"operation":"create","todos":[%s]}`, strings.Join(bulkTodos, ","))
	bulkResp, _ := http.Post(ts.URL+"/farms/h1/bulk", "application/json", strings.NewReader(bulkBody))
	if bulkResp.StatusCode != http.StatusOK {
		t.Fatalf("POST bulk create: %d", bulkResp.StatusCode)
	}
	var snap models.FarmCoordination
	_ = json.NewDecoder(bulkResp.Body).Decode(&snap)
	if got := len(snap.AgentTodoLists["a1"].Todos); got != 6 {
		t.Fatalf("bulk create: a1 has %d todos, want 6", got)
	}

	// Bulk with unknown operation -> 400
	badBulk, _ := http.Post(ts.URL+"/farms/h1/bulk", "application/json",
		strings.NewReader(`{"operation":"merge","todos":[{"agent_id":"a1","title":"x"}]}`))
	if badBulk.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST bulk bad op: %d", badBulk.StatusCode)
	}

	// ?agent= narrows to one agent's raw list
	agentTodos, _ := http.Get(ts.URL + "/farms/h1/todos?agent=a1")
	if agentTodos.StatusCode != http.StatusOK {
		t.Fatalf("GET todos?agent=a1: %d", agentTodos.StatusCode)
	}
	var a1Todos []models.Todo
	_ = json.NewDecoder(agentTodos.Body).Decode(&a1Todos)
	if len(a1Todos) != 6 {
		t.Fatalf("GET todos?agent=a1: got %d, want 6", len(a1Todos))
	}

	// Rebalance: a1 is overloaded relative to idle a2 and a3
	rebResp, _ := http.Post(ts.URL+"/farms/h1/rebalance", "application/json", nil)
	if rebResp.StatusCode != http.StatusOK {
		t.Fatalf("POST rebalance: %d", rebResp.StatusCode)
	}
	var reb models.RebalanceResult
	if err := json.NewDecoder(rebResp.Body).Decode(&reb); err != nil {
		t.Fatalf("decode rebalance: %v", err)
	}
	if len(reb.Moves) == 0 {
		t.Fatal("expected rebalance to propose moves")
	}
	for _, m := range reb.Moves {
		if m.FromAgent != "a1" {
			t.Fatalf("move from %s, want a1", m.FromAgent)
		}
	}
	if reb.Coordination == nil {
		t.Fatal("expected coordination snapshot in rebalance result")
	}

	// Priorities snapshot
	prioResp, _ := http.Post(ts.URL+"/farms/h1/priorities", "application/json", nil)
	if prioResp.StatusCode != http.StatusOK {
		t.Fatalf("POST priorities: %d", prioResp.StatusCode)
	}
	var prioSnap models.FarmCoordination
	_ = json.NewDecoder(prioResp.Body).Decode(&prioSnap)
	buckets := len(prioSnap.Priorities.Immediate) + len(prioSnap.Priorities.Planned) + len(prioSnap.Priorities.LongTerm)
	if buckets != 6 {
		t.Fatalf("priorities cover %d todos, want 6", buckets)
	}

	// GET /farms/{farm}
	farmResp, _ := http.Get(ts.URL + "/farms/h1")
	if farmResp.StatusCode != http.StatusOK {
		t.Fatalf("GET /farms/h1: %d", farmResp.StatusCode)
	}
	var farm models.Farm
	_ = json.NewDecoder(farmResp.Body).Decode(&farm)
	if farm.Name != "h1" || farm.AgentCount != 3 {
		t.Fatalf("GET /farms/h1: got %+v", farm)
	}
	missingResp, _ := http.Get(ts.URL + "/farms/no-such-farm")
	if missingResp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET unknown farm: %d", missingResp.StatusCode)
	}

	// DELETE a todo; the farm revision advances and the snapshot shrinks
	delTodoReq, _ := http.NewRequest(http.MethodDelete, ts.URL+"/farms/h1/todos/"+a1Todos[0].TodoID, nil)
	delTodoResp, _ := http.DefaultClient.Do(delTodoReq)
	if delTodoResp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE todo: %d", delTodoResp.StatusCode)
	}
	var afterDel models.FarmCoordination
	_ = json.NewDecoder(delTodoResp.Body).Decode(&afterDel)
	total := 0
	for _, list := range afterDel.AgentTodoLists {
		total += len(list.Todos)
	}
	if total != 5 {
		t.Fatalf("after delete: %d todos, want 5", total)
	}

	// GET /config and GET /metrics (fallback handler when MetricsHandler not set)
	configResp, _ := http.Get(ts.URL + "/config")
	if configResp.StatusCode != http.StatusOK {
		t.Fatalf("GET /config: %d", configResp.StatusCode)
	}
	var cfg models.Config
	_ = json.NewDecoder(configResp.Body).Decode(&cfg)
	if cfg.BootstrapID == "" {
		t.Fatal("expected bootstrap_id in /config")
	}
	metricsResp, _ := http.Get(ts.URL + "/metrics")
	if metricsResp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics: %d", metricsResp.StatusCode)
	}

	// GET /bootstrap full
	bootstrapResp, _ := http.Get(ts.URL + "/bootstrap")
	if bootstrapResp.StatusCode != http.StatusOK {
		t.Fatalf("GET /bootstrap: %d", bootstrapResp.StatusCode)
	}
	var boot models.Bootstrap
	_ = json.NewDecoder(bootstrapResp.Body).Decode(&boot)
	if len(boot.Farms) == 0 {
		t.Error("bootstrap should have farms")
	}
	if boot.Config.BootstrapID != cfg.BootstrapID {
		t.Error("bootstrap id should be stable across calls")
	}

	// Remove an agent; its todos are kept for the next rebalance pass
	delReq, _ := http.NewRequest(http.MethodDelete, ts.URL+"/farms/h1/agents/a3", nil)
	delResp, _ := http.DefaultClient.Do(delReq)
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE agent: %d", delResp.StatusCode)
	}

	// Method not allowed
	putFarms, _ := http.NewRequest(http.MethodPut, ts.URL+"/farms", nil)
	putResp, _ := http.DefaultClient.Do(putFarms)
	if putResp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("PUT /farms: %d", putResp.StatusCode)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	app, err := NewApp(ServerOptions{Home: home, Addr: ":0", APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(ts.Close)

	// /health and /metrics exempt
	healthResp, _ := http.Get(ts.URL + "/health")
	if healthResp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health without key: %d", healthResp.StatusCode)
	}
	metricsResp, _ := http.Get(ts.URL + "/metrics")
	if metricsResp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics without key: %d", metricsResp.StatusCode)
	}

	// /farms without key -> 401
	farmsResp, _ := http.Get(ts.URL + "/farms")
	if farmsResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GET /farms without key: %d", farmsResp.StatusCode)
	}

	// /farms with X-API-Key -> 200
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/farms", nil)
	req.Header.Set("X-API-Key", "secret")
	resp, _ := http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /farms with key: %d", resp.StatusCode)
	}

	// /farms with query api_key -> 200
	resp2, _ := http.Get(ts.URL + "/farms?api_key=secret")
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("GET /farms with api_key query: %d", resp2.StatusCode)
	}

	// invalid key -> 401
	req3, _ := http.NewRequest(http.MethodGet, ts.URL+"/farms", nil)
	req3.Header.Set("X-API-Key", "wrong")
	resp3, _ := http.DefaultClient.Do(req3)
	if resp3.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GET /farms with wrong key: %d", resp3.StatusCode)
	}
}

func TestDeleteFarm_cascade(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	app, err := NewApp(ServerOptions{Home: home, Addr: ":0"})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(ts.Close)
	ctx := context.Background()

	// Create farm, agent, and todo
	_, _ = http.Post(ts.URL+"/farms", "application/json", strings.NewReader(`{"name":"cascade"}`))
	_, _ = http.Post(ts.URL+"/farms/cascade/agents", "application/json", strings.NewReader(`{"name":"a1"}`))
	_, _ = http.Post(ts.URL+"/farms/cascade/todos", "application/json",
		strings.NewReader(`{"agent_id":"a1","title":"t1"}`))

	farmsBefore, _ := app.Store.ListFarms(ctx)
	var found bool
	for _, f := range farmsBefore {
		if f.Name == "cascade" {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("farm cascade not created")
	}

	// DELETE farm
	delReq, _ := http.NewRequest(http.MethodDelete, ts.URL+"/farms/cascade", nil)
	delResp, _ := http.DefaultClient.Do(delReq)
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE /farms/cascade: %d", delResp.StatusCode)
	}
	farmsAfter, _ := app.Store.ListFarms(ctx)
	for _, f := range farmsAfter {
		if f.Name == "cascade" {
			t.Fatal("farm cascade should be deleted")
		}
	}
}
