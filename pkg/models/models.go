// Package models provides shared types for the farmcoord HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import "time"

// Farm is a named group of trading agents coordinated together.
type Farm struct {
	FarmID     string    `json:"farm_id,omitempty"`
	Name       string    `json:"name"`
	Revision   int64     `json:"revision,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	AgentCount int       `json:"agent_count,omitempty"`
	TodoCount  int       `json:"todo_count,omitempty"`
}

// Agent is a farm member that can be assigned todos.
type Agent struct {
	Name      string    `json:"name"`
	FarmID    string    `json:"farm_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Todo is a unit of work assigned to one agent.
type Todo struct {
	TodoID         string    `json:"todo_id"`
	AgentID        string    `json:"agent_id"`
	FarmID         string    `json:"farm_id,omitempty"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Category       string    `json:"category"`
	Priority       string    `json:"priority"`
	Status         string    `json:"status"`
	HierarchyLevel string    `json:"hierarchy_level"`
	AssignedBy     string    `json:"assigned_by,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// TodoSummary holds per-agent todo counts.
type TodoSummary struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Total      int `json:"total"`
}

// AgentTodoList is one agent's todos in creation order, with counts.
// It is derived on read and never independently mutated.
type AgentTodoList struct {
	AgentID string      `json:"agent_id"`
	Todos   []Todo      `json:"todos"`
	Summary TodoSummary `json:"summary"`
}

// Priorities partitions the non-terminal todos of a farm into three
// scheduling tiers. Every pending or in-progress todo appears in exactly
// one bucket.
type Priorities struct {
	Immediate []Todo `json:"immediate"`
	Planned   []Todo `json:"planned"`
	LongTerm  []Todo `json:"long_term"`
}

// FarmProgress holds completion percentages derived from the current todo set.
type FarmProgress struct {
	OverallCompletion float64            `json:"overall_completion"`
	AgentPerformance  map[string]float64 `json:"agent_performance"`
}

// FarmCoordination is the farm-wide aggregate snapshot, rebuilt after every
// mutating operation on the farm.
type FarmCoordination struct {
	Farm           string                   `json:"farm"`
	Revision       int64                    `json:"revision"`
	SharedTodos    []Todo                   `json:"shared_todos"`
	AgentTodoLists map[string]AgentTodoList `json:"agent_todo_lists"`
	Priorities     Priorities               `json:"priorities"`
	FarmProgress   FarmProgress             `json:"farm_progress"`
}

// Move reassigns one todo from one agent to another.
type Move struct {
	TodoID    string `json:"todo_id"`
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
}

// RebalanceResult is the outcome of a rebalance: the applied moves and the
// fresh coordination snapshot. Moves is empty when all loads are in band.
type RebalanceResult struct {
	Moves        []Move            `json:"moves"`
	Coordination *FarmCoordination `json:"coordination"`
}

// CreateTodoRequest creates a single todo in a farm.
type CreateTodoRequest struct {
	Farm           string `json:"farm"`
	AgentID        string `json:"agent_id"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Category       string `json:"category,omitempty"`
	Priority       string `json:"priority,omitempty"`
	HierarchyLevel string `json:"hierarchy_level,omitempty"`
	AssignedBy     string `json:"assigned_by,omitempty"`
}

// BulkOperation is the unit of atomicity for bulk requests: either every
// todo in the operation is applied, or none are.
type BulkOperation struct {
	Operation string `json:"operation"` // create, update, or delete
	Farm      string `json:"farm"`
	Todos     []Todo `json:"todos"`
}

// Event is published on the SSE stream and to notification sinks for todo
// creation, bulk assignment, rebalancing, and completion.
type Event struct {
	Type      string    `json:"type"`
	Farm      string    `json:"farm"`
	Agent     string    `json:"agent,omitempty"`
	TodoID    string    `json:"todo_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Config is the /config API response.
type Config struct {
	HumanName   string `json:"human_name,omitempty"`
	FcHome      string `json:"fc_home,omitempty"`
	BootstrapID string `json:"bootstrap_id,omitempty"`
}

// Bootstrap is the /bootstrap API response.
type Bootstrap struct {
	Config      Config  `json:"config"`
	Farms       []Farm  `json:"farms"`
	InitialFarm *string `json:"initial_farm,omitempty"`
	Todos       []Todo  `json:"todos,omitempty"`
	Agents      []Agent `json:"agents,omitempty"`
}
