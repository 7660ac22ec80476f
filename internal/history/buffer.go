// internal/history/buffer.go
package history

import "github.com/xkilldash9x/moodlens/api/schemas"

// DefaultCapacity is the number of records kept when no capacity is
// configured. It is also the upper bound: larger capacities are clamped.
const DefaultCapacity = 50

// Buffer is a bounded, newest-first sequence of results. Eviction is purely by
// insertion order: pushing onto a full buffer drops the oldest record. It is
// not safe for concurrent use; the pipeline controller guards it.
type Buffer struct {
	items    []schemas.ExpressionResult
	capacity int
}

// New creates an empty buffer. A non-positive capacity, or one above
// DefaultCapacity, selects DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 || capacity > DefaultCapacity {
		capacity = DefaultCapacity
	}
	return &Buffer{
		items:    make([]schemas.ExpressionResult, 0, capacity),
		capacity: capacity,
	}
}

// Push prepends r and returns the evicted record, if any.
func (b *Buffer) Push(r schemas.ExpressionResult) (evicted *schemas.ExpressionResult) {
	if len(b.items) == b.capacity {
		last := b.items[len(b.items)-1]
		evicted = &last
		b.items = b.items[:len(b.items)-1]
	}
	b.items = append(b.items, schemas.ExpressionResult{})
	copy(b.items[1:], b.items[:len(b.items)-1])
	b.items[0] = *r.Clone()
	return evicted
}

// Len returns the number of records held.
func (b *Buffer) Len() int { return len(b.items) }

// Cap returns the retention limit.
func (b *Buffer) Cap() int { return b.capacity }

// Newest returns the most recent record, or nil when empty.
func (b *Buffer) Newest() *schemas.ExpressionResult {
	if len(b.items) == 0 {
		return nil
	}
	return b.items[0].Clone()
}

// Snapshot returns a deep copy of the records, newest first. It never returns nil.
func (b *Buffer) Snapshot() []schemas.ExpressionResult {
	out := make([]schemas.ExpressionResult, len(b.items))
	for i := range b.items {
		out[i] = *b.items[i].Clone()
	}
	return out
}

// Reset replaces the contents with records, which must already be newest
// first. Records beyond the capacity are dropped.
func (b *Buffer) Reset(records []schemas.ExpressionResult) {
	if len(records) > b.capacity {
		records = records[:b.capacity]
	}
	b.items = b.items[:0]
	for i := range records {
		b.items = append(b.items, *records[i].Clone())
	}
}
