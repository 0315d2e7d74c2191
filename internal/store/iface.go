package store

import "context"

// Store is the persistence interface for farms, agents, and todos.
// Implementations: the SQLite store in this package and *postgres.Store.
// All operations are strongly consistent within a farm: a write is visible
// to the next read.
type Store interface {
	// Farms
	ListFarms(ctx context.Context) ([]Farm, error)
	GetFarmByName(ctx context.Context, name string) (Farm, error)
	CreateFarm(ctx context.Context, name string) (Farm, error)
	DeleteFarm(ctx context.Context, name string) error
	// FarmRevision returns the farm's current revision counter.
	FarmRevision(ctx context.Context, name string) (int64, error)
	// BumpFarmRevision increments and returns the farm's revision counter.
	BumpFarmRevision(ctx context.Context, name string) (int64, error)

	// Agents
	ListAgents(ctx context.Context, farmName string) ([]Agent, error)
	AddAgent(ctx context.Context, farmName, agentName string) (Agent, error)
	RemoveAgent(ctx context.Context, farmName, agentName string) error

	// Todos
	PutTodo(ctx context.Context, todo Todo) error // insert or full replace by TodoID
	GetTodo(ctx context.Context, todoID string) (*Todo, error)
	DeleteTodo(ctx context.Context, todoID string) error
	ListByAgent(ctx context.Context, farmName, agentName string) ([]Todo, error)
	ListByFarm(ctx context.Context, farmName string) ([]Todo, error)

	// Lifecycle
	SeedDemo(ctx context.Context) error
	Close() error
}
