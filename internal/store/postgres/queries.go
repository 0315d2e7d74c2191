package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/civalops/farmcoord/internal/store"
)

const todoColumns = `todo_id, agent_id, COALESCE(farm_id, ''), title, description, category, priority, status, hierarchy_level, assigned_by, created_at, updated_at`

func (s *Store) ListFarms(ctx context.Context) ([]store.Farm, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT
  f.farm_id, f.name, f.revision, f.created_at,
  (SELECT COUNT(*) FROM agents a WHERE a.farm_id = f.farm_id) AS agent_count,
  (SELECT COUNT(*) FROM todos t WHERE t.farm_id = f.farm_id) AS todo_count
FROM farms f
ORDER BY f.created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Farm
	for rows.Next() {
		var (
			f         store.Farm
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

func (s *Store) GetFarmByName(ctx context.Context, name string) (store.Farm, error) {
	var f store.Farm
	var createdAt int64
	err := s.Pool.QueryRow(ctx, `SELECT farm_id, name, revision, created_at FROM farms WHERE name = $1`, name).
		Scan(&f.FarmID, &f.Name, &f.Revision, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Farm{}, fmt.Errorf("farm %q: %w", name, store.ErrNotFound)
		}
		return store.Farm{}, err
	}
	f.CreatedAt = time.UnixMilli(createdAt).UTC()
	return f, nil
}

func (s *Store) CreateFarm(ctx context.Context, name string) (store.Farm, error) {
	if name == "" {
		return store.Farm{}, errors.New("farm name required")
	}
	id := store.NewID()
	now := time.Now().UTC()
	_, err := s.Pool.Exec(ctx, `INSERT INTO farms(farm_id, name, revision, created_at) VALUES($1, $2, 0, $3)`, id, name, now.UnixMilli())
	if err != nil {
		return store.Farm{}, err
	}
	return store.Farm{FarmID: id, Name: name, CreatedAt: now.Truncate(time.Millisecond)}, nil
}

func (s *Store) DeleteFarm(ctx context.Context, name string) error {
	farm, err := s.GetFarmByName(ctx, name)
	if err != nil {
		return err
	}
	if _, err := s.Pool.Exec(ctx, `DELETE FROM todos WHERE farm_id = $1`, farm.FarmID); err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `DELETE FROM farms WHERE farm_id = $1`, farm.FarmID)
	return err
}

func (s *Store) FarmRevision(ctx context.Context, name string) (int64, error) {
	farm, err := s.GetFarmByName(ctx, name)
	if err != nil {
		return 0, err
	}
	return farm.Revision, nil
}

func (s *Store) BumpFarmRevision(ctx context.Context, name string) (int64, error) {
	farm, err := s.GetFarmByName(ctx, name)
	if err != nil {
		return 0, err
	}
	var rev int64
	err = s.Pool.QueryRow(ctx, `UPDATE farms SET revision = revision + 1 WHERE farm_id = $1 RETURNING revision`, farm.FarmID).Scan(&rev)
	return rev, err
}

func (s *Store) ListAgents(ctx context.Context, farmName string) ([]store.Agent, error) {
	farm, err := s.GetFarmByName(ctx, farmName)
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, `SELECT name, farm_id, created_at FROM agents WHERE farm_id = $1 ORDER BY created_at ASC, name ASC`, farm.FarmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Agent
	for rows.Next() {
		var (
			a         store.Agent
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

func (s *Store) AddAgent(ctx context.Context, farmName, agentName string) (store.Agent, error) {
	if agentName == "" {
		return store.Agent{}, errors.New("agent name required")
	}
	farm, err := s.GetFarmByName(ctx, farmName)
	if err != nil {
		return store.Agent{}, err
	}
	now := time.Now().UTC()
	_, err = s.Pool.Exec(ctx, `INSERT INTO agents(farm_id, name, created_at) VALUES($1, $2, $3)`, farm.FarmID, agentName, now.UnixMilli())
	if err != nil {
		return store.Agent{}, err
	}
	// Roster changes bump the revision so in-flight rebalance proposals
	// computed against the old roster fail their recheck.
	if _, err := s.Pool.Exec(ctx, `UPDATE farms SET revision = revision + 1 WHERE farm_id = $1`, farm.FarmID); err != nil {
		return store.Agent{}, err
	}
	return store.Agent{Name: agentName, FarmID: farm.FarmID, CreatedAt: now.Truncate(time.Millisecond)}, nil
}

func (s *Store) RemoveAgent(ctx context.Context, farmName, agentName string) error {
	farm, err := s.GetFarmByName(ctx, farmName)
	if err != nil {
		return err
	}
	res, err := s.Pool.Exec(ctx, `DELETE FROM agents WHERE farm_id = $1 AND name = $2`, farm.FarmID, agentName)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("agent %q in farm %q: %w", agentName, farmName, store.ErrNotFound)
	}
	// The agent's todos are kept; the next rebalance pass drains them. The
	// revision bump invalidates proposals that still target this agent.
	_, err = s.Pool.Exec(ctx, `UPDATE farms SET revision = revision + 1 WHERE farm_id = $1`, farm.FarmID)
	return err
}

func (s *Store) PutTodo(ctx context.Context, todo store.Todo) error {
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
	_, err := s.Pool.Exec(ctx, `
INSERT INTO todos(todo_id, agent_id, farm_id, title, description, category, priority, status, hierarchy_level, assigned_by, created_at, updated_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (todo_id) DO UPDATE SET
  agent_id=EXCLUDED.agent_id, farm_id=EXCLUDED.farm_id, title=EXCLUDED.title,
  description=EXCLUDED.description, category=EXCLUDED.category, priority=EXCLUDED.priority,
  status=EXCLUDED.status, hierarchy_level=EXCLUDED.hierarchy_level,
  assigned_by=EXCLUDED.assigned_by, updated_at=EXCLUDED.updated_at`,
		todo.TodoID, todo.AgentID, farmID, todo.Title, todo.Description,
		todo.Category, todo.Priority, todo.Status, todo.HierarchyLevel,
		todo.AssignedBy, todo.CreatedAt.UnixMilli(), todo.UpdatedAt.UnixMilli())
	return err
}

func (s *Store) GetTodo(ctx context.Context, todoID string) (*store.Todo, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+todoColumns+` FROM todos WHERE todo_id = $1`, todoID)
	todo, err := scanTodoRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return todo, err
}

func (s *Store) DeleteTodo(ctx context.Context, todoID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM todos WHERE todo_id = $1`, todoID)
	return err
}

func (s *Store) ListByFarm(ctx context.Context, farmName string) ([]store.Todo, error) {
	farm, err := s.GetFarmByName(ctx, farmName)
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+todoColumns+` FROM todos WHERE farm_id = $1 ORDER BY created_at ASC, todo_id ASC`, farm.FarmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTodoRows(rows)
}

func (s *Store) ListByAgent(ctx context.Context, farmName, agentName string) ([]store.Todo, error) {
	farm, err := s.GetFarmByName(ctx, farmName)
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+todoColumns+` FROM todos WHERE farm_id = $1 AND agent_id = $2 ORDER BY created_at ASC, todo_id ASC`, farm.FarmID, agentName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTodoRows(rows)
}

func scanTodoRow(row interface{ Scan(dest ...any) error }) (*store.Todo, error) {
	var (
		t         store.Todo
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

func scanTodoRows(rows pgx.Rows) ([]store.Todo, error) {
	var out []store.Todo
	for rows.Next() {
		t, err := scanTodoRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) SeedDemo(ctx context.Context) error {
	if _, err := s.GetFarmByName(ctx, "alpha-farm"); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	farm, err := s.CreateFarm(ctx, "alpha-farm")
	if err != nil {
		return err
	}
	for _, a := range []string{"momentum-1", "arbitrage-1", "scalper-1"} {
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
		todo := store.Todo{
			TodoID:         store.NewID(),
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
