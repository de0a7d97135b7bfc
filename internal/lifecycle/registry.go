package lifecycle

import (
	"cmp"
	"slices"

	"github.com/aalhour/rockyardhost/internal/logging"
)

// Registry maps ids to the live dependent handles of one owner.
//
// Ids are allocated by NextID, strictly increasing per registry and never
// reused. Attach and Detach keep the owner's Tracker in step: every attached
// handle counts as one unit of the owner's pending work until it detaches.
type Registry[H any] struct {
	name    string
	logger  logging.Logger
	tracker *Tracker
	nextID  uint64
	entries map[uint64]H
}

// NewRegistry creates an empty registry whose attachments are charged to
// tracker. A nil tracker disables the accounting.
func NewRegistry[H any](name string, tracker *Tracker, logger logging.Logger) *Registry[H] {
	return &Registry[H]{
		name:    name,
		logger:  logging.OrDefault(logger),
		tracker: tracker,
		entries: make(map[uint64]H),
	}
}

// NextID allocates a fresh id.
func (r *Registry[H]) NextID() uint64 {
	r.nextID++
	return r.nextID
}

// Attach records h under id. Attaching an id twice is a violation.
func (r *Registry[H]) Attach(id uint64, h H) {
	_, dup := r.entries[id]
	Assertf(r.logger, !dup, "%s: id %d attached twice", r.name, id)
	r.entries[id] = h
	if r.tracker != nil {
		r.tracker.Increment()
	}
}

// Detach removes id. Detaching an absent id is a no-op and reports false.
func (r *Registry[H]) Detach(id uint64) bool {
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	if r.tracker != nil {
		r.tracker.Decrement()
	}
	return true
}

// Get returns the handle registered under id.
func (r *Registry[H]) Get(id uint64) (H, bool) {
	h, ok := r.entries[id]
	return h, ok
}

// Len returns the number of live handles.
func (r *Registry[H]) Len() int {
	return len(r.entries)
}

// Snapshot returns the live handles in ascending id order. The slice is a
// copy, so callers may Detach while ranging over it.
func (r *Registry[H]) Snapshot() []H {
	ids := make([]uint64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, cmp.Compare[uint64])
	out := make([]H, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.entries[id])
	}
	return out
}
