package coordinator

import (
	"sort"
	"time"

	"github.com/civalops/farmcoord/internal/store"
	"github.com/civalops/farmcoord/pkg/models"
)

// DefaultDueSoonHorizon is how old a pending todo may grow before it is
// treated as due soon and escalated to the immediate bucket.
const DefaultDueSoonHorizon = 24 * time.Hour

// Classify maps one todo to a priority bucket. Critical todos, and any todo
// whose age exceeds the due-soon horizon, go to immediate. High and medium
// priority go to planned, low to long_term. Pure and deterministic: the same
// todo and clock always yield the same bucket.
func Classify(todo store.Todo, now time.Time, dueSoonHorizon time.Duration) string {
	if dueSoonHorizon <= 0 {
		dueSoonHorizon = DefaultDueSoonHorizon
	}
	if todo.Priority == models.PriorityCritical {
		return models.BucketImmediate
	}
	if todo.Status == models.StatusPending && now.Sub(todo.CreatedAt) >= dueSoonHorizon {
		return models.BucketImmediate
	}
	switch todo.Priority {
	case models.PriorityHigh, models.PriorityMedium:
		return models.BucketPlanned
	}
	return models.BucketLongTerm
}

// Partition splits the non-terminal todos among the three buckets. Completed
// and cancelled todos are excluded entirely; every pending or in_progress
// todo lands in exactly one bucket. Within a bucket, todos are ordered by
// priority rank descending, then created_at ascending, then id, so repeated
// runs over the same set produce identical output.
func Partition(todos []store.Todo, now time.Time, dueSoonHorizon time.Duration) map[string][]store.Todo {
	buckets := map[string][]store.Todo{
		models.BucketImmediate: nil,
		models.BucketPlanned:   nil,
		models.BucketLongTerm:  nil,
	}
	for _, t := range todos {
		if models.IsTerminal(t.Status) {
			continue
		}
		b := Classify(t, now, dueSoonHorizon)
		buckets[b] = append(buckets[b], t)
	}
	for b := range buckets {
		sortBucket(buckets[b])
	}
	return buckets
}

func sortBucket(todos []store.Todo) {
	sort.SliceStable(todos, func(i, j int) bool {
		ri, rj := models.PriorityRank(todos[i].Priority), models.PriorityRank(todos[j].Priority)
		if ri != rj {
			return ri > rj
		}
		if !todos[i].CreatedAt.Equal(todos[j].CreatedAt) {
			return todos[i].CreatedAt.Before(todos[j].CreatedAt)
		}
		return todos[i].TodoID < todos[j].TodoID
	})
}
