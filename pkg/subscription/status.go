package subscription

import (
	"slices"
	"strings"

	"github.com/muzero-hyperloop/oelive/pkg/bridge"
	"github.com/muzero-hyperloop/oelive/pkg/model"
)

// EntryStatus describes one key for introspection.
type EntryStatus struct {
	Key             Key
	State           SetupState
	RefCount        int
	StreamID        bridge.StreamID
	Last            *model.Sample
	TeardownPending bool
}

// Snapshot returns the status of every known key, ordered by key.
func (r *Registry) Snapshot() []EntryStatus {
	r.mu.Lock()
	out := make([]EntryStatus, 0, len(r.entries))
	for _, e := range r.entries {
		st := EntryStatus{
			Key:             e.key,
			State:           e.state,
			RefCount:        len(e.consumers),
			StreamID:        e.stream,
			TeardownPending: e.teardownPending,
		}
		if e.last != nil {
			last := *e.last
			st.Last = &last
		}
		out = append(out, st)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b EntryStatus) int {
		return strings.Compare(a.Key.String(), b.Key.String())
	})
	return out
}
