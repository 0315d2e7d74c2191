// Package httpapi serves the coordination API consumed by dashboards and
// agent runtimes: farm and agent management, todo operations, rebalancing,
// and the SSE event stream.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/civalops/farmcoord/internal/coordinator"
	"github.com/civalops/farmcoord/internal/notify"
	"github.com/civalops/farmcoord/internal/otel"
	"github.com/civalops/farmcoord/internal/store"
	"github.com/civalops/farmcoord/internal/store/postgres"
	"github.com/civalops/farmcoord/pkg/models"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for dev mode (dashboard dev server on a different origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server (home dir, listen addr, API key, DB, metrics).
type ServerOptions struct {
	Home           string
	Addr           string
	Dev            bool
	APIKey         string             // if set, require X-API-Key header or query api_key
	DBDriver       string             // "sqlite" (default) or "postgres"
	DBURL          string             // for postgres: connection string (or set DATABASE_URL env)
	MetricsHandler http.Handler       // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool               // if true, wrap handler with otelhttp for request metrics
	Coordination   coordinator.Config // tuning for the coordinator (thresholds, retries)
}

// App holds the HTTP server, SSE hub, store, coordinator, and notifier registry.
type App struct {
	Server      *http.Server
	Hub         *SSEHub
	Store       store.Store
	Coordinator *coordinator.Coordinator
	Notifiers   *notify.Registry
	Home        string
}

// fanoutSink delivers coordinator events both to SSE subscribers and to
// external notifiers.
type fanoutSink struct {
	hub *SSEHub
	reg *notify.Registry
}

func (s fanoutSink) Publish(ev models.Event) {
	s.hub.Publish(ev)
	if s.reg != nil {
		s.reg.Publish(ev)
	}
}

// NewApp creates the HTTP app (server, hub, store, coordinator) and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	hub := NewSSEHub()
	mux := http.NewServeMux()

	var st store.Store
	var err error
	if opts.DBDriver == "postgres" {
		st, err = postgres.Open(opts.DBURL)
	} else {
		st, err = store.Open(opts.Home)
	}
	if err != nil {
		return nil, err
	}
	_ = st.SeedDemo(context.Background())

	notifiers := notify.FromEnv(slog.Default())
	coord := coordinator.New(st, fanoutSink{hub: hub, reg: notifiers}, slog.Default(), opts.Coordination)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			pending, inProgress, completed, cancelled := countTodos(r.Context(), st)
			_, _ = fmt.Fprintf(w, "# TYPE farmcoord_todos_total gauge\n")
			_, _ = fmt.Fprintf(w, "farmcoord_todos_total{status=\"pending\"} %d\n", pending)
			_, _ = fmt.Fprintf(w, "farmcoord_todos_total{status=\"in_progress\"} %d\n", inProgress)
			_, _ = fmt.Fprintf(w, "farmcoord_todos_total{status=\"completed\"} %d\n", completed)
			_, _ = fmt.Fprintf(w, "farmcoord_todos_total{status=\"cancelled\"} %d\n", cancelled)
		})
	}

	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.Config{
			HumanName:   "human",
			FcHome:      opts.Home,
			BootstrapID: getBootstrapID(opts.Home),
		})
	})

	mux.HandleFunc("/bootstrap", func(w http.ResponseWriter, r *http.Request) {
		handleBootstrap(w, r, st, opts.Home)
	})

	mux.HandleFunc("/stream", hub.Handler())

	// --- Farms ---
	mux.HandleFunc("/farms", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			farms, err := st.ListFarms(r.Context())
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, toModelFarms(farms))
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			if body.Name == "" {
				writeJSONError(w, http.StatusBadRequest, "name required")
				return
			}
			f, err := st.CreateFarm(r.Context(), body.Name)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			hub.PublishJSON(map[string]any{"type": "farm_update", "farm": f.Name})
			writeJSON(w, toModelFarm(f))
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	// --- Farm-scoped endpoints ---
	mux.HandleFunc("/farms/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/farms/")
		parts := strings.Split(rest, "/")
		if len(parts) < 1 || parts[0] == "" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		farm := parts[0]

		// /farms/{farm}
		if len(parts) == 1 || parts[1] == "" {
			if r.Method == http.MethodGet {
				f, err := st.GetFarmByName(r.Context(), farm)
				if err != nil {
					writeJSONError(w, http.StatusNotFound, err.Error())
					return
				}
				writeJSON(w, toModelFarm(f))
				return
			}
			if r.Method == http.MethodDelete {
				if err := st.DeleteFarm(r.Context(), farm); err != nil {
					writeJSONError(w, http.StatusNotFound, err.Error())
					return
				}
				hub.PublishJSON(map[string]any{"type": "farm_update", "farm": farm})
				writeJSON(w, map[string]any{"ok": true})
				return
			}
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}

		switch parts[1] {
		case "agents":
			handleAgents(w, r, st, hub, farm, parts)
		case "todos":
			handleTodos(w, r, st, coord, farm, parts)
		case "bulk":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			var op models.BulkOperation
			if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			op.Farm = farm
			snap, err := coord.BulkOperation(r.Context(), op)
			if err != nil {
				writeCoordError(w, err)
				return
			}
			otel.RecordTodoOp(r.Context(), "bulk_"+op.Operation, farm, "")
			writeJSON(w, snap)
		case "rebalance":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			start := time.Now()
			res, err := coord.RebalanceWorkload(r.Context(), farm)
			if err != nil {
				otel.RecordRebalance(r.Context(), farm, "error", 0, time.Since(start))
				writeCoordError(w, err)
				return
			}
			outcome := "applied"
			if len(res.Moves) == 0 {
				outcome = "noop"
			}
			otel.RecordRebalance(r.Context(), farm, outcome, len(res.Moves), time.Since(start))
			writeJSON(w, res)
		case "priorities":
			if r.Method != http.MethodPost && r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			snap, err := coord.UpdatePriorities(r.Context(), farm)
			if err != nil {
				writeCoordError(w, err)
				return
			}
			otel.RecordPriorityBuckets(r.Context(), farm,
				len(snap.Priorities.Immediate), len(snap.Priorities.Planned), len(snap.Priorities.LongTerm))
			writeJSON(w, snap)
		default:
			writeJSONError(w, http.StatusNotFound, "not found")
		}
	})

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "farmcoord")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		_ = st.Close()
	})

	return &App{Server: srv, Hub: hub, Store: st, Coordinator: coord, Notifiers: notifiers, Home: opts.Home}, nil
}

func handleAgents(w http.ResponseWriter, r *http.Request, st store.Store, hub *SSEHub, farm string, parts []string) {
	// /farms/{farm}/agents/{agent}
	if len(parts) >= 3 && parts[2] != "" {
		if r.Method != http.MethodDelete {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := st.RemoveAgent(r.Context(), farm, parts[2]); err != nil {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		hub.PublishJSON(map[string]any{"type": "agent_update", "farm": farm, "agent": parts[2]})
		writeJSON(w, map[string]any{"ok": true})
		return
	}
	switch r.Method {
	case http.MethodGet:
		agents, err := st.ListAgents(r.Context(), farm)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		out := make([]models.Agent, 0, len(agents))
		for _, a := range agents {
			out = append(out, models.Agent{Name: a.Name, FarmID: a.FarmID, CreatedAt: a.CreatedAt})
		}
		writeJSON(w, out)
	case http.MethodPost:
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		a, err := st.AddAgent(r.Context(), farm, body.Name)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		hub.PublishJSON(map[string]any{"type": "agent_update", "farm": farm, "agent": a.Name})
		writeJSON(w, models.Agent{Name: a.Name, FarmID: a.FarmID, CreatedAt: a.CreatedAt})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func handleTodos(w http.ResponseWriter, r *http.Request, st store.Store, coord *coordinator.Coordinator, farm string, parts []string) {
	// /farms/{farm}/todos/{id}
	if len(parts) >= 3 && parts[2] != "" {
		todoID := parts[2]
		switch r.Method {
		case http.MethodGet:
			todo, err := st.GetTodo(r.Context(), todoID)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if todo == nil {
				writeJSONError(w, http.StatusNotFound, "todo not found")
				return
			}
			writeJSON(w, toModelTodo(*todo))
		case http.MethodPatch:
			var body struct {
				Status string `json:"status"`
				Actor  string `json:"actor"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			if body.Status == "" {
				writeJSONError(w, http.StatusBadRequest, "status required")
				return
			}
			if body.Actor == "" {
				body.Actor = models.CoordinatorActor
			}
			snap, err := coord.UpdateStatus(r.Context(), farm, todoID, body.Status, body.Actor)
			if err != nil {
				writeCoordError(w, err)
				return
			}
			otel.RecordTodoOp(r.Context(), "transition", farm, body.Status)
			writeJSON(w, snap)
		case http.MethodDelete:
			// Deletion goes through the bulk path so the farm revision is
			// bumped and subscribers hear about it.
			snap, err := coord.BulkOperation(r.Context(), models.BulkOperation{
				Operation: "delete",
				Farm:      farm,
				Todos:     []models.Todo{{TodoID: todoID}},
			})
			if err != nil {
				writeCoordError(w, err)
				return
			}
			otel.RecordTodoOp(r.Context(), "delete", farm, "")
			writeJSON(w, snap)
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}
	// /farms/{farm}/todos
	switch r.Method {
	case http.MethodGet:
		// ?agent= narrows the response to one agent's raw todo list;
		// without it the full coordination snapshot is returned.
		if agent := r.URL.Query().Get("agent"); agent != "" {
			todos, err := st.ListByAgent(r.Context(), farm, agent)
			if err != nil {
				writeJSONError(w, http.StatusNotFound, err.Error())
				return
			}
			out := make([]models.Todo, 0, len(todos))
			for _, t := range todos {
				out = append(out, toModelTodo(t))
			}
			writeJSON(w, out)
			return
		}
		start := time.Now()
		snap, err := coord.GetFarmTodos(r.Context(), farm)
		if err != nil {
			writeCoordError(w, err)
			return
		}
		otel.RecordSnapshotRebuild(r.Context(), farm, time.Since(start))
		writeJSON(w, snap)
	case http.MethodPost:
		var req models.CreateTodoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		req.Farm = farm
		snap, err := coord.CreateTodo(r.Context(), req)
		if err != nil {
			writeCoordError(w, err)
			return
		}
		otel.RecordTodoOp(r.Context(), "create", farm, models.StatusPending)
		writeJSON(w, snap)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// writeCoordError maps the coordinator error taxonomy onto HTTP statuses:
// validation 400, conflict 409, store failure 502, rollback failure 500
// with fatal set so operators can alert on it.
func writeCoordError(w http.ResponseWriter, err error) {
	var ve *coordinator.ValidationError
	var ce *coordinator.ConflictError
	var se *coordinator.StoreError
	var prf *coordinator.PartialRollbackFailure
	switch {
	case errors.As(err, &ve):
		writeJSONError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &ce):
		writeJSONError(w, http.StatusConflict, ce.Error())
	case errors.As(err, &prf):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":    prf.Error(),
			"fatal":    true,
			"orphaned": prf.Orphaned,
		})
	case errors.As(err, &se):
		writeJSONError(w, http.StatusBadGateway, se.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func countTodos(ctx context.Context, st store.Store) (pending, inProgress, completed, cancelled int64) {
	farms, _ := st.ListFarms(ctx)
	for _, f := range farms {
		todos, _ := st.ListByFarm(ctx, f.Name)
		for _, t := range todos {
			switch t.Status {
			case models.StatusPending:
				pending++
			case models.StatusInProgress:
				inProgress++
			case models.StatusCompleted:
				completed++
			case models.StatusCancelled:
				cancelled++
			}
		}
	}
	return
}

// responseRecorder captures status code for logging and forwards Flusher if supported.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func getBootstrapID(home string) string {
	protected := filepath.Join(home, "protected")
	_ = os.MkdirAll(protected, 0o755)
	path := filepath.Join(protected, "bootstrap_id")
	if b, err := os.ReadFile(path); err == nil {
		if s := strings.TrimSpace(string(b)); s != "" {
			return s
		}
	}
	id := randomHex(16)
	_ = os.WriteFile(path, []byte(id+"\n"), 0o644)
	return id
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// fallback: time-based
		return hex.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(b)
}

func handleBootstrap(w http.ResponseWriter, r *http.Request, st store.Store, home string) {
	farms, _ := st.ListFarms(r.Context())
	initialFarm := ""
	if len(farms) > 0 {
		initialFarm = farms[0].Name
	}
	var todos []models.Todo
	var agents []models.Agent
	if initialFarm != "" {
		if ts, err := st.ListByFarm(r.Context(), initialFarm); err == nil {
			for _, t := range ts {
				todos = append(todos, toModelTodo(t))
			}
		}
		if as, err := st.ListAgents(r.Context(), initialFarm); err == nil {
			for _, a := range as {
				agents = append(agents, models.Agent{Name: a.Name, FarmID: a.FarmID, CreatedAt: a.CreatedAt})
			}
		}
	}
	boot := models.Bootstrap{
		Config: models.Config{
			HumanName:   "human",
			FcHome:      home,
			BootstrapID: getBootstrapID(home),
		},
		Farms:  toModelFarms(farms),
		Todos:  todos,
		Agents: agents,
	}
	if initialFarm != "" {
		boot.InitialFarm = &initialFarm
	}
	writeJSON(w, boot)
}

func toModelFarm(f store.Farm) models.Farm {
	return models.Farm{
		FarmID:     f.FarmID,
		Name:       f.Name,
		Revision:   f.Revision,
		CreatedAt:  f.CreatedAt,
		AgentCount: f.AgentCount,
		TodoCount:  f.TodoCount,
	}
}

func toModelFarms(fs []store.Farm) []models.Farm {
	out := make([]models.Farm, 0, len(fs))
	for _, f := range fs {
		out = append(out, toModelFarm(f))
	}
	return out
}

func toModelTodo(t store.Todo) models.Todo {
	return models.Todo{
		TodoID:         t.TodoID,
		AgentID:        t.AgentID,
		FarmID:         t.FarmID,
		Title:          t.Title,
		Description:    t.Description,
		Category:       t.Category,
		Priority:       t.Priority,
		Status:         t.Status,
		HierarchyLevel: t.HierarchyLevel,
		AssignedBy:     t.AssignedBy,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
