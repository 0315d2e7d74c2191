package models

import "testing"

func TestCanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCancelled, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusInProgress, false},
		{StatusCancelled, StatusCompleted, false},
		{StatusInProgress, StatusPending, false},
		{StatusPending, StatusPending, false},
		{StatusCompleted, StatusCompleted, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()
	if !IsTerminal(StatusCompleted) || !IsTerminal(StatusCancelled) {
		t.Error("completed and cancelled must be terminal")
	}
	if IsTerminal(StatusPending) || IsTerminal(StatusInProgress) {
		t.Error("pending and in_progress must not be terminal")
	}
}

func TestPriorityRank(t *testing.T) {
	t.Parallel()
	if !(PriorityRank(PriorityCritical) > PriorityRank(PriorityHigh) &&
		PriorityRank(PriorityHigh) > PriorityRank(PriorityMedium) &&
		PriorityRank(PriorityMedium) > PriorityRank(PriorityLow)) {
		t.Error("priority ranks must be strictly ordered critical > high > medium > low")
	}
	if PriorityRank("bogus") != PriorityRank(PriorityLow) {
		t.Error("unknown priority should rank as low")
	}
}

func TestValidators(t *testing.T) {
	t.Parallel()
	for _, s := range []string{StatusPending, StatusInProgress, StatusCompleted, StatusCancelled} {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%q) = false", s)
		}
	}
	if ValidStatus("done") {
		t.Error("done is not a valid status")
	}
	if !ValidCategory(CategoryTrading) || ValidCategory("misc") {
		t.Error("ValidCategory mismatch")
	}
	if !ValidPriority(PriorityCritical) || ValidPriority("urgent") {
		t.Error("ValidPriority mismatch")
	}
	if !ValidHierarchy(HierarchyFarm) || ValidHierarchy("global") {
		t.Error("ValidHierarchy mismatch")
	}
}
