// Package store defines the persistence interface and shared models for farms,
// agents, and todos.
package store

import "time"

// Farm is a named group of trading agents coordinated together. Revision is a
// monotonic counter bumped on every committed mutation of the farm's todo set;
// the coordinator uses it for optimistic concurrency during rebalancing.
type Farm struct {
	FarmID     string
	Name       string
	Revision   int64
	CreatedAt  time.Time
	AgentCount int
	TodoCount  int
}

// Agent is a farm member that can be assigned todos. Agents are identified by
// name, unique within their farm.
type Agent struct {
	Name      string
	FarmID    string
	CreatedAt time.Time
}

// Todo is a unit of work assigned to one agent. FarmID is empty only for
// individual-level todos outside any coordinated farm.
type Todo struct {
	TodoID         string
	AgentID        string
	FarmID         string
	Title          string
	Description    string
	Category       string // trading, analysis, coordination, goal
	Priority       string // low, medium, high, critical
	Status         string // pending, in_progress, completed, cancelled
	HierarchyLevel string // individual, group, farm
	AssignedBy     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
