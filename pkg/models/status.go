package models

// Todo statuses used throughout the codebase.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Todo categories.
const (
	CategoryTrading      = "trading"
	CategoryAnalysis     = "analysis"
	CategoryCoordination = "coordination"
	CategoryGoal         = "goal"
)

// Todo priorities, lowest to highest.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Hierarchy levels. A todo at group or farm level must carry a farm id.
const (
	HierarchyIndividual = "individual"
	HierarchyGroup      = "group"
	HierarchyFarm       = "farm"
)

// Priority buckets for farm coordination.
const (
	BucketImmediate = "immediate"
	BucketPlanned   = "planned"
	BucketLongTerm  = "long_term"
)

// CoordinatorActor is recorded as assigned_by when the coordinator itself
// creates or moves a todo (e.g. during rebalancing).
const CoordinatorActor = "farm_coordinator"

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultTodoListLimit       = 1000
	DefaultSSEChannelBuffer    = 256
	DefaultMaintenanceChanSize = 16
)

// ValidStatus reports whether s is a known todo status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ValidCategory reports whether c is a known todo category.
func ValidCategory(c string) bool {
	switch c {
	case CategoryTrading, CategoryAnalysis, CategoryCoordination, CategoryGoal:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known todo priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ValidHierarchy reports whether h is a known hierarchy level.
func ValidHierarchy(h string) bool {
	switch h {
	case HierarchyIndividual, HierarchyGroup, HierarchyFarm:
		return true
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// CanTransition reports whether a todo may move from one status to another.
// pending -> in_progress -> completed; pending or in_progress -> cancelled.
// Terminal statuses never transition, and no status transitions to itself.
func CanTransition(from, to string) bool {
	if IsTerminal(from) || from == to {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusInProgress || to == StatusCancelled
	case StatusInProgress:
		return to == StatusCompleted || to == StatusCancelled
	}
	return false
}

// PriorityRank orders priorities for tie-breaking: critical > high > medium > low.
func PriorityRank(p string) int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}
