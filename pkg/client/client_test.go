package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/civalops/farmcoord/pkg/models"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:4780", "")
	if c.BaseURL != "http://localhost:4780" || c.APIKey != "" {
		t.Errorf("New: %+v", c)
	}
	c2 := New("http://localhost:4780", "secret")
	if c2.APIKey != "secret" {
		t.Errorf("New with key: %+v", c2)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	ctx := context.Background()
	ok, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !ok {
		t.Fatal("Health: expected ok true")
	}
}

func TestHealth_error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"down"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	ctx := context.Background()
	_, err := c.Health(ctx)
	if err == nil {
		t.Fatal("expected error from 503")
	}
}

func TestClient_setsAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "mykey")
	ctx := context.Background()
	_, _ = c.Health(ctx)
	if gotKey != "mykey" {
		t.Errorf("X-API-Key: got %q", gotKey)
	}
}

func TestCreateTodo_postsToFarmPath(t *testing.T) {
	var gotPath string
	var gotReq models.CreateTodoRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"farm":"f1","revision":2}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	snap, err := c.CreateTodo(context.Background(), models.CreateTodoRequest{
		Farm: "f1", AgentID: "a1", Title: "hedge exposure",
	})
	if err != nil {
		t.Fatalf("CreateTodo: %v", err)
	}
	if gotPath != "/farms/f1/todos" {
		t.Errorf("path: got %q", gotPath)
	}
	if gotReq.Title != "hedge exposure" || gotReq.AgentID != "a1" {
		t.Errorf("request body: %+v", gotReq)
	}
	if snap.Revision != 2 {
		t.Errorf("snapshot revision: got %d", snap.Revision)
	}
}

func TestUpdateStatus_patchesWithActor(t *testing.T) {
	var gotMethod string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"farm":"f1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.UpdateStatus(context.Background(), "f1", "t1", models.StatusInProgress, "a1")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("method: got %s", gotMethod)
	}
	if gotBody["status"] != models.StatusInProgress || gotBody["actor"] != "a1" {
		t.Errorf("body: %v", gotBody)
	}
}

func TestRebalance_decodesMoves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/farms/f1/rebalance" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"moves":[{"todo_id":"t1","from_agent":"a","to_agent":"b"}],"coordination":{"farm":"f1"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	res, err := c.Rebalance(context.Background(), "f1")
	if err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	if len(res.Moves) != 1 || res.Moves[0].ToAgent != "b" {
		t.Errorf("moves: %+v", res.Moves)
	}
}
