package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is wrapped by lookups for farms, agents, and todos that do not exist.
var ErrNotFound = errors.New("not found")

// NewID returns a fresh unique identifier for farms and todos.
func NewID() string { return uuid.NewString() }

func (s *sqliteStore) ListFarms(ctx context.Context) ([]Farm, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT
  f.farm_id, f.name, f.revision, f.created_at,
  (SELECT COUNT(*) FROM agents a WHERE a.farm_id = f.farm_id) AS agent_count,
  (SELECT COUNT(*) FROM todos t WHERE t.farm_id = f.farm_id) AS todo_count
FROM farms f
ORDER BY f.created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Farm
	for rows.Next() {
		var (
			f         Farm
			createdAt int64
		)
		if err := rows.Scan(&f.FarmID, &f.Name, &f.Revision, &createdAt, &f.AgentCount, &f.TodoCount); err != nil {
			return nil, err
		}
		f.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetFarmByName(ctx context.Context, name string) (Farm, error) {
	var f Farm
	var createdAt int64
	err := s.stmtGetFarmByName.QueryRowContext(ctx, name).Scan(&f.FarmID, &f.Name, &f.Revision, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Farm{}, fmt.Errorf("farm %q: %w", name, ErrNotFound)
		}
		return Farm{}, err
	}
	f.CreatedAt = time.UnixMilli(createdAt).UTC()
	return f, nil
}

func (s *sqliteStore) CreateFarm(ctx context.Context, name string) (Farm, error) {
	if name == "" {
		return Farm{}, errors.New("farm name required")
	}
	id := NewID()
	now := time.Now().UTC()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO farms(farm_id, name, revision, created_at) VALUES(?, ?, 0, ?)`, id, name, now.UnixMilli())
	if err != nil {
		return Farm{}, err
	}
	return Farm{FarmID: id, Name: name, CreatedAt: now.Truncate(time.Millisecond)}, nil
}

func (s *sqliteStore) DeleteFarm(ctx context.Context, name string) error {
	farm, err := s.GetFarmByName(ctx, name)
	if err != nil {
		return err
	}
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM todos WHERE farm_id = ?`, farm.FarmID); err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `DELETE FROM farms WHERE farm_id = ?`, farm.FarmID)
	return err
}

func (s *sqliteStore) FarmRevision(ctx context.Context, name string) (int64, error) {
	farm, err := s.GetFarmByName(ctx, name)
	if err != nil {
		return 0, err
	}
	return farm.Revision, nil
}

func (s *sqliteStore) BumpFarmRevision(ctx context.Context, name string) (int64, error) {
	farm, err := s.GetFarmByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if _, err := s.stmtBumpRevision.ExecContext(ctx, farm.FarmID); err != nil {
		return 0, err
	}
	return farm.Revision + 1, nil
}

func (s *sqliteStore) ListAgents(ctx context.Context, farmName string) ([]Agent, error) {
	farm, err := s.GetFarmByName(ctx, farmName)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT name, farm_id, created_at FROM agents WHERE farm_id = ? ORDER BY created_at ASC, name ASC`, farm.FarmID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Agent
	for rows.Next() {
		var (
			a         Agent
			createdAt int64
		)
		if err := rows.Scan(&a.Name, &a.FarmID, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddAgent(ctx context.Context, farmName, agentName string) (Agent, error) {
	if agentName == "" {
		return Agent{}, errors.New("agent name required")
	}
	farm, err := s.GetFarmByName(ctx, farmName)
	if err != nil {
		return Agent{}, err
	}
	now := time.Now().UTC()
	_, err = s.DB.ExecContext(ctx, `INSERT INTO agents(farm_id, name, created_at) VALUES(?, ?, ?)`, farm.FarmID, agentName, now.UnixMilli())
	if err != nil {
		return Agent{}, err
	}
	// Roster changes bump the revision so in-flight rebalance proposals
	// computed against the old roster fail their recheck.
	if _, err := s.stmtBumpRevision.ExecContext(ctx, farm.FarmID); err != nil {
		return Agent{}, err
	}
	return Agent{Name: agentName, FarmID: farm.FarmID, CreatedAt: now.Truncate(time.Millisecond)}, nil
}

func (s *sqliteStore) RemoveAgent(ctx context.Context, farmName, agentName string) error {
	farm, err := s.GetFarmByName(ctx, farmName)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM agents WHERE farm_id = ? AND name = ?`, farm.FarmID, agentName)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %q in farm %q: %w", agentName, farmName, ErrNotFound)
	}
	// The agent's todos are kept; the next rebalance pass drains them. The
	// revision bump invalidates proposals that still target this agent.
	_, err = s.stmtBumpRevision.ExecContext(ctx, farm.FarmID)
	return err
}

func (s *sqliteStore) PutTodo(ctx context.Context, todo Todo) error {
	if todo.TodoID == "" {
		return errors.New("todo id required")
	}
	if todo.AgentID == "" {
		return errors.New("todo agent id required")
	}
	if todo.Title == "" {
		return errors.New("todo title required")
	}
	var farmID any
	if todo.FarmID != "" {
		farmID = todo.FarmID
	}
	_, err := s.stmtPutTodo.ExecContext(ctx,
		todo.TodoID, todo.AgentID, farmID, todo.Title, todo.Description,
		todo.Category, todo.Priority, todo.Status, todo.HierarchyLevel,
		todo.AssignedBy, todo.CreatedAt.UnixMilli(), todo.UpdatedAt.UnixMilli())
	return err
}

func (s *sqliteStore) GetTodo(ctx context.Context, todoID string) (*Todo, error) {
	row := s.stmtGetTodo.QueryRowContext(ctx, todoID)
	todo, err := scanTodoRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return todo, err
}

func (s *sqliteStore) DeleteTodo(ctx context.Context, todoID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM todos WHERE todo_id = ?`, todoID)
	return err
}

func (s *sqliteStore) ListByFarm(ctx context.Context, farmName string) ([]Todo, error) {
	farm, err := s.GetFarmByName(ctx, farmName)
	if err != nil {
		return nil, err
	}
	rows, err := s.stmtListByFarm.QueryContext(ctx, farm.FarmID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanTodoRows(rows)
}

func (s *sqliteStore) ListByAgent(ctx context.Context, farmName, agentName string) ([]Todo, error) {
	farm, err := s.GetFarmByName(ctx, farmName)
	if err != nil {
		return nil, err
	}
	rows, err := s.stmtListByAgent.QueryContext(ctx, farm.FarmID, agentName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanTodoRows(rows)
}

// scanTodoRow scans one row with columns in todoColumns order.
func scanTodoRow(row interface{ Scan(dest ...any) error }) (*Todo, error) {
	var (
		t         Todo
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&t.TodoID, &t.AgentID, &t.FarmID, &t.Title, &t.Description,
		&t.Category, &t.Priority, &t.Status, &t.HierarchyLevel, &t.AssignedBy,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	t.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &t, nil
}

func scanTodoRows(rows *sql.Rows) ([]Todo, error) {
	var out []Todo
	for rows.Next() {
		t, err := scanTodoRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// SeedDemo creates a demo farm with three agents and a handful of todos.
// Idempotent: does nothing if the farm already exists.
func (s *sqliteStore) SeedDemo(ctx context.Context) error {
	if _, err := s.GetFarmByName(ctx, "alpha-farm"); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	farm, err := s.CreateFarm(ctx, "alpha-farm")
	if err != nil {
		return err
	}
	agents := []string{"momentum-1", "arbitrage-1", "scalper-1"}
	for _, a := range agents {
		if _, err := s.AddAgent(ctx, farm.Name, a); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	seed := []struct {
		agent, title, category, priority string
	}{
		{"momentum-1", "Review BTC momentum signals", "analysis", "high"},
		{"momentum-1", "Adjust position sizing", "trading", "medium"},
		{"arbitrage-1", "Scan cross-exchange spreads", "trading", "critical"},
		{"scalper-1", "Backtest tick strategy", "analysis", "low"},
	}
	for i, sd := range seed {
		todo := Todo{
			TodoID:         NewID(),
			AgentID:        sd.agent,
			FarmID:         farm.FarmID,
			Title:          sd.title,
			Category:       sd.category,
			Priority:       sd.priority,
			Status:         "pending",
			HierarchyLevel: "individual",
			AssignedBy:     "seed",
			CreatedAt:      now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt:      now.Add(time.Duration(i) * time.Millisecond),
		}
		if err := s.PutTodo(ctx, todo); err != nil {
			return err
		}
	}
	return nil
}
