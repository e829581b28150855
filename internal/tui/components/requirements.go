package components

import (
	"github.com/alexisbeaulieu97/kapsel/internal/model"
)

// RequirementEntry is one requirement line prepared for rendering.
type RequirementEntry struct {
	Key      string
	Title    string
	State    model.State
	Provider string
	Detail   string
	Optional bool
}

// RequirementList keeps requirement entries in declared order.
type RequirementList struct {
	entries []RequirementEntry
}

// NewRequirementList builds entries from the reports of a prepare run. The
// detail is the reason for unmet requirements and the value otherwise;
// reports of sensitive requirements are already redacted.
func NewRequirementList(reports []model.RequirementReport) RequirementList {
	entries := make([]RequirementEntry, 0, len(reports))
	for _, r := range reports {
		entry := RequirementEntry{
			Key:      r.Key,
			Title:    r.Title,
			State:    r.State,
			Provider: r.Provider,
			Optional: r.Optional,
		}
		switch {
		case r.Met():
			entry.Detail = r.Status.Value()
		case r.Status.WantsInput():
			prompt, _ := r.Status.Prompt()
			entry.Detail = "needs input: " + prompt.Title
		case r.Status.IsFailed():
			entry.Detail = r.Status.Reason()
		case r.State == model.StatePending:
			entry.Detail = "not attempted"
		}
		entries = append(entries, entry)
	}
	return RequirementList{entries: entries}
}

// Entries returns the ordered entries.
func (l RequirementList) Entries() []RequirementEntry {
	clone := make([]RequirementEntry, len(l.entries))
	copy(clone, l.entries)
	return clone
}

// Met counts the entries whose requirement holds.
func (l RequirementList) Met() int {
	n := 0
	for _, e := range l.entries {
		if e.State.Met() {
			n++
		}
	}
	return n
}
