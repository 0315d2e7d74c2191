package coordinator

import (
	"time"

	"github.com/civalops/farmcoord/pkg/models"
)

// Event types emitted on mutations. Delivery is best-effort and outside the
// coordinator's consistency boundary.
const (
	EventTodoCreated   = "todo_created"
	EventBulkAssigned  = "bulk_assigned"
	EventTodoUpdated   = "todo_updated"
	EventTodoCompleted = "todo_completed"
	EventRebalanced    = "rebalanced"
	EventReprioritized = "reprioritized"
)

// EventSink receives coordination events, fire-and-forget. Implementations
// must not block; a slow sink drops events rather than stalling a mutation.
type EventSink interface {
	Publish(ev models.Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(models.Event) {}

func (c *Coordinator) emit(eventType, farm, agent, todoID string) {
	if c.sink == nil {
		return
	}
	c.sink.Publish(models.Event{
		Type:      eventType,
		Farm:      farm,
		Agent:     agent,
		TodoID:    todoID,
		Timestamp: time.Now().UTC(),
	})
}
