// Package coordinator implements farm-level todo coordination: bulk
// assignment with all-or-nothing commit, priority bucketing, workload
// rebalancing, and progress aggregation. Mutations on the same farm are
// serialized; different farms proceed in parallel.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/civalops/farmcoord/internal/store"
	"github.com/civalops/farmcoord/pkg/models"
)

// Config tunes the coordinator. Zero values fall back to defaults.
type Config struct {
	DueSoonHorizon   time.Duration
	Balancer         BalancerConfig
	RebalanceRetries int           // optimistic-concurrency attempts before ConflictError
	StoreRetries     int           // transient store failures retried per operation
	OpTimeout        time.Duration // deadline for a single mutating operation
}

// DefaultConfig returns the stock coordinator configuration.
func DefaultConfig() Config {
	return Config{
		DueSoonHorizon:   DefaultDueSoonHorizon,
		Balancer:         DefaultBalancerConfig(),
		RebalanceRetries: 3,
		StoreRetries:     2,
		OpTimeout:        10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DueSoonHorizon <= 0 {
		c.DueSoonHorizon = d.DueSoonHorizon
	}
	c.Balancer = c.Balancer.withDefaults()
	if c.RebalanceRetries <= 0 {
		c.RebalanceRetries = d.RebalanceRetries
	}
	if c.StoreRetries <= 0 {
		c.StoreRetries = d.StoreRetries
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = d.OpTimeout
	}
	return c
}

// Coordinator is the orchestrating facade over the store, the assignment
// engine, the classifier, the balancer, and the progress aggregator. It owns
// one logical lock per farm; holders of a farm lock are the only writers of
// that farm's todo set.
type Coordinator struct {
	store  store.Store
	engine *AssignmentEngine
	sink   EventSink
	log    *slog.Logger
	cfg    Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a Coordinator over st. sink may be nil to drop events.
func New(st store.Store, sink EventSink, log *slog.Logger, cfg Config) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store:  st,
		engine: NewAssignmentEngine(st, log),
		sink:   sink,
		log:    log,
		cfg:    cfg.withDefaults(),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (c *Coordinator) farmLock(farm string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[farm]
	if !ok {
		l = &sync.Mutex{}
		c.locks[farm] = l
	}
	return l
}

// withStoreRetry runs fn up to cfg.StoreRetries+1 times, retrying transient
// store failures. Validation, conflict, and rollback failures pass through
// untouched.
func (c *Coordinator) withStoreRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var last error
	for attempt := 0; attempt <= c.cfg.StoreRetries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		err := fn(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		var prf *PartialRollbackFailure
		var ve *ValidationError
		var ce *ConflictError
		if errors.As(err, &prf) || errors.As(err, &ve) || errors.As(err, &ce) {
			return err
		}
		last = err
		c.log.Warn("store operation failed", "op", op, "attempt", attempt+1, "error", err)
	}
	var se *StoreError
	if errors.As(last, &se) {
		return last
	}
	return storeErr(op, last)
}

// GetFarmTodos returns the current coordination snapshot without taking the
// farm lock; readers observe the last fully committed state.
func (c *Coordinator) GetFarmTodos(ctx context.Context, farm string) (*models.FarmCoordination, error) {
	return c.buildCoordination(ctx, farm)
}

// CreateTodo validates and persists a single todo, then returns the rebuilt
// farm snapshot.
func (c *Coordinator) CreateTodo(ctx context.Context, req models.CreateTodoRequest) (*models.FarmCoordination, error) {
	if req.Title == "" {
		return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if req.AgentID == "" {
		return nil, &ValidationError{Field: "agent_id", Reason: "must not be empty"}
	}
	if req.Farm == "" {
		return nil, &ValidationError{Field: "farm", Reason: "must not be empty"}
	}
	if req.Category != "" && !models.ValidCategory(req.Category) {
		return nil, &ValidationError{Field: "category", Reason: "unknown category " + req.Category}
	}
	if req.Priority != "" && !models.ValidPriority(req.Priority) {
		return nil, &ValidationError{Field: "priority", Reason: "unknown priority " + req.Priority}
	}
	hierarchy := defaultString(req.HierarchyLevel, models.HierarchyIndividual)
	if !models.ValidHierarchy(hierarchy) {
		return nil, &ValidationError{Field: "hierarchy_level", Reason: "unknown level " + req.HierarchyLevel}
	}

	l := c.farmLock(req.Farm)
	l.Lock()
	defer l.Unlock()

	farm, err := c.store.GetFarmByName(ctx, req.Farm)
	if err != nil {
		return nil, wrapLookup("get farm", err)
	}
	now := time.Now().UTC()
	todo := store.Todo{
		TodoID:         store.NewID(),
		AgentID:        req.AgentID,
		FarmID:         farm.FarmID,
		Title:          req.Title,
		Description:    req.Description,
		Category:       defaultString(req.Category, models.CategoryTrading),
		Priority:       defaultString(req.Priority, models.PriorityMedium),
		Status:         models.StatusPending,
		HierarchyLevel: hierarchy,
		AssignedBy:     defaultString(req.AssignedBy, models.CoordinatorActor),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = c.withStoreRetry(ctx, "put", func(ctx context.Context) error {
		return c.store.PutTodo(ctx, todo)
	})
	if err != nil {
		return nil, err
	}
	if _, err := c.store.BumpFarmRevision(ctx, req.Farm); err != nil {
		return nil, storeErr("bump revision", err)
	}
	c.emit(EventTodoCreated, req.Farm, todo.AgentID, todo.TodoID)
	return c.buildCoordination(ctx, req.Farm)
}

// BulkOperation applies a bulk create, update, or delete atomically and
// returns the rebuilt snapshot. Two bulk operations against the same farm
// are applied in lock-acquisition order, never interleaved.
func (c *Coordinator) BulkOperation(ctx context.Context, op models.BulkOperation) (*models.FarmCoordination, error) {
	if op.Farm == "" {
		return nil, &ValidationError{Field: "farm", Reason: "must not be empty"}
	}
	if len(op.Todos) == 0 {
		return nil, &ValidationError{Field: "todos", Reason: "must not be empty"}
	}
	switch op.Operation {
	case "create", "update", "delete":
	default:
		return nil, &ValidationError{Field: "operation", Reason: "must be create, update, or delete"}
	}

	l := c.farmLock(op.Farm)
	l.Lock()
	defer l.Unlock()

	farm, err := c.store.GetFarmByName(ctx, op.Farm)
	if err != nil {
		return nil, wrapLookup("get farm", err)
	}

	todos, err := c.prepareBulk(ctx, farm, op)
	if err != nil {
		return nil, err
	}

	err = c.withStoreRetry(ctx, "bulk "+op.Operation, func(ctx context.Context) error {
		return c.engine.ApplyBulk(ctx, op.Farm, op.Operation, todos)
	})
	if err != nil {
		return nil, err
	}
	if _, err := c.store.BumpFarmRevision(ctx, op.Farm); err != nil {
		return nil, storeErr("bump revision", err)
	}
	if op.Operation == "create" {
		c.emit(EventBulkAssigned, op.Farm, "", "")
	} else {
		c.emit(EventTodoUpdated, op.Farm, "", "")
	}
	return c.buildCoordination(ctx, op.Farm)
}

// AssignToAgents expands one todo template into a group-level copy per target
// agent and commits the batch atomically. Agents not on the farm roster are
// rejected before anything is written.
func (c *Coordinator) AssignToAgents(ctx context.Context, farm string, template models.Todo, agents []string) (*models.FarmCoordination, error) {
	if farm == "" {
		return nil, &ValidationError{Field: "farm", Reason: "must not be empty"}
	}
	if template.Title == "" {
		return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if len(agents) == 0 {
		return nil, &ValidationError{Field: "agents", Reason: "must not be empty"}
	}

	l := c.farmLock(farm)
	l.Lock()
	defer l.Unlock()

	f, err := c.store.GetFarmByName(ctx, farm)
	if err != nil {
		return nil, wrapLookup("get farm", err)
	}
	roster, err := c.rosterNames(ctx, farm)
	if err != nil {
		return nil, err
	}
	onRoster := make(map[string]bool, len(roster))
	for _, a := range roster {
		onRoster[a] = true
	}
	for _, a := range agents {
		if !onRoster[a] {
			return nil, &ValidationError{Field: "agents", Reason: "unknown agent " + a}
		}
	}

	todos := ExpandTemplate(f.FarmID, template, agents, time.Now().UTC())
	err = c.withStoreRetry(ctx, "bulk assign", func(ctx context.Context) error {
		_, err := c.engine.BulkAssign(ctx, farm, todos)
		return err
	})
	if err != nil {
		return nil, err
	}
	if _, err := c.store.BumpFarmRevision(ctx, farm); err != nil {
		return nil, storeErr("bump revision", err)
	}
	c.emit(EventBulkAssigned, farm, "", "")
	return c.buildCoordination(ctx, farm)
}

// prepareBulk converts and validates the request todos for the operation.
// Creates get fresh ids and group hierarchy; updates are checked against the
// stored record's status machine; deletes only need ids.
func (c *Coordinator) prepareBulk(ctx context.Context, farm store.Farm, op models.BulkOperation) ([]store.Todo, error) {
	now := time.Now().UTC()
	out := make([]store.Todo, 0, len(op.Todos))
	switch op.Operation {
	case "create":
		agents := make(map[string]bool)
		for i, t := range op.Todos {
			if t.Title == "" {
				return nil, &ValidationError{Field: "todos", Reason: "empty title in bulk create"}
			}
			if t.AgentID == "" {
				return nil, &ValidationError{Field: "todos", Reason: "empty agent_id in bulk create"}
			}
			agents[t.AgentID] = true
			out = append(out, store.Todo{
				TodoID:         store.NewID(),
				AgentID:        t.AgentID,
				FarmID:         farm.FarmID,
				Title:          t.Title,
				Description:    t.Description,
				Category:       defaultString(t.Category, models.CategoryTrading),
				Priority:       defaultString(t.Priority, models.PriorityMedium),
				Status:         models.StatusPending,
				HierarchyLevel: models.HierarchyGroup,
				AssignedBy:     defaultString(t.AssignedBy, models.CoordinatorActor),
				CreatedAt:      now.Add(time.Duration(i) * time.Microsecond),
				UpdatedAt:      now.Add(time.Duration(i) * time.Microsecond),
			})
		}
		if len(agents) == 0 {
			return nil, &ValidationError{Field: "todos", Reason: "bulk create targets no agents"}
		}
	case "update":
		for _, t := range op.Todos {
			if t.TodoID == "" {
				return nil, &ValidationError{Field: "todos", Reason: "missing todo_id in bulk update"}
			}
			orig, err := c.store.GetTodo(ctx, t.TodoID)
			if err != nil {
				return nil, storeErr("get", err)
			}
			if orig == nil {
				return nil, &ValidationError{Field: "todos", Reason: "unknown todo " + t.TodoID}
			}
			next := *orig
			if t.Status != "" && t.Status != orig.Status {
				if !models.CanTransition(orig.Status, t.Status) {
					return nil, &ValidationError{Field: "status", Reason: orig.Status + " -> " + t.Status + " not allowed"}
				}
				next.Status = t.Status
			}
			if t.Title != "" {
				next.Title = t.Title
			}
			if t.Description != "" {
				next.Description = t.Description
			}
			if t.Priority != "" {
				if !models.ValidPriority(t.Priority) {
					return nil, &ValidationError{Field: "priority", Reason: "unknown priority " + t.Priority}
				}
				next.Priority = t.Priority
			}
			if t.AgentID != "" {
				next.AgentID = t.AgentID
			}
			next.UpdatedAt = now
			out = append(out, next)
		}
	case "delete":
		for _, t := range op.Todos {
			if t.TodoID == "" {
				return nil, &ValidationError{Field: "todos", Reason: "missing todo_id in bulk delete"}
			}
			out = append(out, store.Todo{TodoID: t.TodoID})
		}
	}
	return out, nil
}

// UpdateStatus transitions one todo. Only the owning agent or the coordinator
// actor may transition; every transition advances updated_at.
func (c *Coordinator) UpdateStatus(ctx context.Context, farm, todoID, newStatus, actor string) (*models.FarmCoordination, error) {
	if !models.ValidStatus(newStatus) {
		return nil, &ValidationError{Field: "status", Reason: "unknown status " + newStatus}
	}

	l := c.farmLock(farm)
	l.Lock()
	defer l.Unlock()

	todo, err := c.store.GetTodo(ctx, todoID)
	if err != nil {
		return nil, storeErr("get", err)
	}
	if todo == nil {
		return nil, &ValidationError{Field: "todo_id", Reason: "unknown todo " + todoID}
	}
	if actor != todo.AgentID && actor != models.CoordinatorActor {
		return nil, &ValidationError{Field: "actor", Reason: "only the owning agent or the coordinator may transition a todo"}
	}
	if !models.CanTransition(todo.Status, newStatus) {
		return nil, &ValidationError{Field: "status", Reason: todo.Status + " -> " + newStatus + " not allowed"}
	}

	todo.Status = newStatus
	todo.UpdatedAt = time.Now().UTC()
	err = c.withStoreRetry(ctx, "put", func(ctx context.Context) error {
		return c.store.PutTodo(ctx, *todo)
	})
	if err != nil {
		return nil, err
	}
	if _, err := c.store.BumpFarmRevision(ctx, farm); err != nil {
		return nil, storeErr("bump revision", err)
	}
	if newStatus == models.StatusCompleted {
		c.emit(EventTodoCompleted, farm, todo.AgentID, todoID)
	} else {
		c.emit(EventTodoUpdated, farm, todo.AgentID, todoID)
	}
	return c.buildCoordination(ctx, farm)
}

// RebalanceWorkload proposes moves against a snapshot and applies them only
// if the farm revision has not advanced in between. On contention it
// recomputes against the fresh snapshot, a bounded number of times, before
// surfacing ConflictError.
func (c *Coordinator) RebalanceWorkload(ctx context.Context, farm string) (*models.RebalanceResult, error) {
	for attempt := 0; attempt < c.cfg.RebalanceRetries; attempt++ {
		rev, err := c.store.FarmRevision(ctx, farm)
		if err != nil {
			return nil, wrapLookup("get farm", err)
		}
		todos, err := c.store.ListByFarm(ctx, farm)
		if err != nil {
			return nil, storeErr("list", err)
		}
		roster, err := c.rosterNames(ctx, farm)
		if err != nil {
			return nil, err
		}
		progress := Aggregate(todos, roster)
		moves := ProposeMoves(todos, roster, progress.AgentPerformance, c.cfg.Balancer)
		if len(moves) == 0 {
			snap, err := c.buildCoordination(ctx, farm)
			if err != nil {
				return nil, err
			}
			return &models.RebalanceResult{Moves: []models.Move{}, Coordination: snap}, nil
		}

		applied, err := c.applyMoves(ctx, farm, rev, todos, moves)
		if err != nil {
			return nil, err
		}
		if !applied {
			c.log.Info("rebalance snapshot stale, recomputing", "farm", farm, "attempt", attempt+1)
			continue
		}
		c.emit(EventRebalanced, farm, "", "")
		snap, err := c.buildCoordination(ctx, farm)
		if err != nil {
			return nil, err
		}
		return &models.RebalanceResult{Moves: moves, Coordination: snap}, nil
	}
	return nil, &ConflictError{Farm: farm, Attempts: c.cfg.RebalanceRetries}
}

// applyMoves takes the farm lock, rechecks the revision, and commits the
// moves as one atomic bulk update. Returns false when the snapshot went
// stale and the caller must recompute.
func (c *Coordinator) applyMoves(ctx context.Context, farm string, rev int64, todos []store.Todo, moves []models.Move) (bool, error) {
	l := c.farmLock(farm)
	l.Lock()
	defer l.Unlock()

	current, err := c.store.FarmRevision(ctx, farm)
	if err != nil {
		return false, wrapLookup("get farm", err)
	}
	if current != rev {
		return false, nil
	}

	byID := make(map[string]store.Todo, len(todos))
	for _, t := range todos {
		byID[t.TodoID] = t
	}
	now := time.Now().UTC()
	updated := make([]store.Todo, 0, len(moves))
	for _, m := range moves {
		t, ok := byID[m.TodoID]
		if !ok {
			return false, nil
		}
		t.AgentID = m.ToAgent
		t.AssignedBy = models.CoordinatorActor
		t.UpdatedAt = now
		updated = append(updated, t)
	}

	err = c.withStoreRetry(ctx, "rebalance", func(ctx context.Context) error {
		return c.engine.ApplyBulk(ctx, farm, "update", updated)
	})
	if err != nil {
		return false, err
	}
	if _, err := c.store.BumpFarmRevision(ctx, farm); err != nil {
		return false, storeErr("bump revision", err)
	}
	return true, nil
}

// UpdatePriorities re-runs the classifier over all active todos and returns
// the farm snapshot with the rebuilt bucket partition.
func (c *Coordinator) UpdatePriorities(ctx context.Context, farm string) (*models.FarmCoordination, error) {
	snap, err := c.buildCoordination(ctx, farm)
	if err != nil {
		return nil, err
	}
	c.emit(EventReprioritized, farm, "", "")
	return snap, nil
}

func (c *Coordinator) rosterNames(ctx context.Context, farm string) ([]string, error) {
	agents, err := c.store.ListAgents(ctx, farm)
	if err != nil {
		return nil, wrapLookup("list agents", err)
	}
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, a.Name)
	}
	return names, nil
}

// buildCoordination rebuilds the full farm aggregate from the store: shared
// todos, per-agent lists with summaries, the priority partition, and the
// progress figures.
func (c *Coordinator) buildCoordination(ctx context.Context, farm string) (*models.FarmCoordination, error) {
	f, err := c.store.GetFarmByName(ctx, farm)
	if err != nil {
		return nil, wrapLookup("get farm", err)
	}
	todos, err := c.store.ListByFarm(ctx, farm)
	if err != nil {
		return nil, storeErr("list", err)
	}
	roster, err := c.rosterNames(ctx, farm)
	if err != nil {
		return nil, err
	}

	snap := &models.FarmCoordination{
		Farm:           farm,
		Revision:       f.Revision,
		SharedTodos:    []models.Todo{},
		AgentTodoLists: make(map[string]models.AgentTodoList, len(roster)),
	}

	byAgent := make(map[string][]store.Todo)
	for _, t := range todos {
		if t.HierarchyLevel == models.HierarchyFarm {
			snap.SharedTodos = append(snap.SharedTodos, toModel(t))
		}
		byAgent[t.AgentID] = append(byAgent[t.AgentID], t)
	}

	// Every roster agent gets a list, idle or not; assignees that left the
	// roster keep their list visible until the balancer drains them.
	listed := make(map[string]bool, len(roster))
	for _, a := range roster {
		listed[a] = true
	}
	var extra []string
	for a := range byAgent {
		if !listed[a] {
			extra = append(extra, a)
		}
	}
	sort.Strings(extra)
	for _, a := range append(append([]string{}, roster...), extra...) {
		snap.AgentTodoLists[a] = buildAgentList(a, byAgent[a])
	}

	now := time.Now().UTC()
	buckets := Partition(todos, now, c.cfg.DueSoonHorizon)
	snap.Priorities = models.Priorities{
		Immediate: toModels(buckets[models.BucketImmediate]),
		Planned:   toModels(buckets[models.BucketPlanned]),
		LongTerm:  toModels(buckets[models.BucketLongTerm]),
	}
	snap.FarmProgress = Aggregate(todos, roster)
	return snap, nil
}

func buildAgentList(agent string, todos []store.Todo) models.AgentTodoList {
	list := models.AgentTodoList{AgentID: agent, Todos: toModels(todos)}
	for _, t := range todos {
		switch t.Status {
		case models.StatusPending:
			list.Summary.Pending++
		case models.StatusInProgress:
			list.Summary.InProgress++
		case models.StatusCompleted:
			list.Summary.Completed++
		}
	}
	list.Summary.Total = len(todos)
	return list
}

func toModel(t store.Todo) models.Todo {
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

func toModels(ts []store.Todo) []models.Todo {
	out := make([]models.Todo, 0, len(ts))
	for _, t := range ts {
		out = append(out, toModel(t))
	}
	return out
}

// wrapLookup keeps not-found lookups as validation errors so callers map
// them to 400s, while real store failures surface as StoreError.
func wrapLookup(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &ValidationError{Field: "farm", Reason: err.Error()}
	}
	return storeErr(op, err)
}
