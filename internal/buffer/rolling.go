package buffer

import (
	"sync"

	"clubdash/internal/domain"
)

// DefaultSize is the authoritative cap on buffered messages.
const DefaultSize = 50

// Rolling is a bounded message store ordered newest-first. Entries past
// the cap are dropped from the tail.
type Rolling struct {
	mu    sync.RWMutex
	items []domain.Message
	max   int
}

func NewRolling(max int) *Rolling {
	if max <= 0 {
		max = DefaultSize
	}
	return &Rolling{max: max}
}

// Upsert replaces every entry carrying tag with batch. The batch must be
// ordered oldest-first; it is inserted reversed so its newest message
// sits at the front. It returns the batch entries whose IDs were not
// already buffered under the same tag.
func (r *Rolling) Upsert(tag string, batch []domain.Message) []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := make(map[string]struct{})
	kept := make([]domain.Message, 0, len(r.items))
	for _, m := range r.items {
		if m.SourceTag == tag {
			previous[m.ID] = struct{}{}
			continue
		}
		kept = append(kept, m)
	}

	merged := make([]domain.Message, 0, len(batch)+len(kept))
	var added []domain.Message
	for i := len(batch) - 1; i >= 0; i-- {
		m := batch[i]
		m.SourceTag = tag
		merged = append(merged, m)
		if _, ok := previous[m.ID]; !ok {
			added = append(added, m)
		}
	}
	merged = append(merged, kept...)

	r.items = truncate(merged, r.max)
	return added
}

// Prepend puts msg at the front and trims the buffer to limit, or to
// the buffer cap when limit is zero or larger than the cap.
func (r *Rolling) Prepend(msg domain.Message, limit int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > r.max {
		limit = r.max
	}

	items := make([]domain.Message, 0, len(r.items)+1)
	items = append(items, msg)
	items = append(items, r.items...)
	r.items = truncate(items, limit)
}

// Snapshot returns a copy of the buffer, never nil.
func (r *Rolling) Snapshot() []domain.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Message, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Rolling) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Rolling) Cap() int { return r.max }

func truncate(items []domain.Message, n int) []domain.Message {
	if len(items) > n {
		return items[:n:n]
	}
	return items
}
