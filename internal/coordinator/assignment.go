package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/civalops/farmcoord/internal/store"
	"github.com/civalops/farmcoord/pkg/models"
)

// AssignmentEngine expands bulk requests into todo records and commits them
// with all-or-nothing semantics. A failure partway through a bulk write
// triggers compensating operations so no partial state stays visible.
type AssignmentEngine struct {
	store store.Store
	log   *slog.Logger
}

// NewAssignmentEngine returns an engine writing through st.
func NewAssignmentEngine(st store.Store, log *slog.Logger) *AssignmentEngine {
	if log == nil {
		log = slog.Default()
	}
	return &AssignmentEngine{store: st, log: log}
}

// ExpandTemplate produces one group-level todo per target agent from a single
// template. Each record gets a distinct id; title, description, category and
// priority are shared.
func ExpandTemplate(farmID string, template models.Todo, agents []string, now time.Time) []store.Todo {
	out := make([]store.Todo, 0, len(agents))
	for _, agent := range agents {
		out = append(out, store.Todo{
			TodoID:         store.NewID(),
			AgentID:        agent,
			FarmID:         farmID,
			Title:          template.Title,
			Description:    template.Description,
			Category:       defaultString(template.Category, models.CategoryTrading),
			Priority:       defaultString(template.Priority, models.PriorityMedium),
			Status:         models.StatusPending,
			HierarchyLevel: models.HierarchyGroup,
			AssignedBy:     defaultString(template.AssignedBy, models.CoordinatorActor),
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return out
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// BulkAssign writes a batch of new todos atomically: either every record is
// persisted, or compensating deletes remove the ones already written before
// the error surfaces. The records must already be validated and carry ids.
func (e *AssignmentEngine) BulkAssign(ctx context.Context, farmName string, todos []store.Todo) ([]store.Todo, error) {
	if len(todos) == 0 {
		return nil, &ValidationError{Field: "todos", Reason: "empty bulk assignment"}
	}
	var written []string
	for _, t := range todos {
		if err := e.store.PutTodo(ctx, t); err != nil {
			return nil, e.rollbackCreates(ctx, farmName, written, "put", err)
		}
		written = append(written, t.TodoID)
	}
	return todos, nil
}

// rollbackCreates deletes already-written records after a failed bulk create.
// If any delete fails the result is the fatal PartialRollbackFailure.
func (e *AssignmentEngine) rollbackCreates(ctx context.Context, farmName string, written []string, op string, cause error) error {
	var orphaned []string
	for _, id := range written {
		if err := e.store.DeleteTodo(ctx, id); err != nil {
			orphaned = append(orphaned, id)
			e.log.Error("rollback delete failed", "farm", farmName, "todo", id, "error", err)
		}
	}
	if len(orphaned) > 0 {
		return &PartialRollbackFailure{Farm: farmName, Orphaned: orphaned, Err: cause}
	}
	e.log.Warn("bulk create rolled back", "farm", farmName, "rolled_back", len(written), "error", cause)
	return storeErr(op, cause)
}

// ApplyBulk applies a bulk create, update, or delete. Updates and deletes
// snapshot the original records first and restore them if a later write
// fails, giving the same all-or-nothing contract as creates.
func (e *AssignmentEngine) ApplyBulk(ctx context.Context, farmName string, op string, todos []store.Todo) error {
	switch op {
	case "create":
		_, err := e.BulkAssign(ctx, farmName, todos)
		return err
	case "update":
		return e.applyWithRestore(ctx, farmName, todos, false)
	case "delete":
		return e.applyWithRestore(ctx, farmName, todos, true)
	default:
		return &ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown bulk operation %q", op)}
	}
}

func (e *AssignmentEngine) applyWithRestore(ctx context.Context, farmName string, todos []store.Todo, del bool) error {
	originals := make([]store.Todo, 0, len(todos))
	for _, t := range todos {
		orig, err := e.store.GetTodo(ctx, t.TodoID)
		if err != nil {
			return storeErr("get", err)
		}
		if orig == nil {
			return &ValidationError{Field: "todos", Reason: fmt.Sprintf("todo %q not found", t.TodoID)}
		}
		originals = append(originals, *orig)
	}

	applied := 0
	var cause error
	for i, t := range todos {
		if del {
			cause = e.store.DeleteTodo(ctx, t.TodoID)
		} else {
			cause = e.store.PutTodo(ctx, t)
		}
		if cause != nil {
			applied = i
			break
		}
	}
	if cause == nil {
		return nil
	}

	var orphaned []string
	for i := 0; i < applied; i++ {
		if err := e.store.PutTodo(ctx, originals[i]); err != nil {
			orphaned = append(orphaned, originals[i].TodoID)
			e.log.Error("rollback restore failed", "farm", farmName, "todo", originals[i].TodoID, "error", err)
		}
	}
	if len(orphaned) > 0 {
		return &PartialRollbackFailure{Farm: farmName, Orphaned: orphaned, Err: cause}
	}
	e.log.Warn("bulk operation rolled back", "farm", farmName, "rolled_back", applied, "error", cause)
	return storeErr("put", cause)
}

func storeErr(op string, err error) error {
	return &StoreError{
		Op:      op,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}
