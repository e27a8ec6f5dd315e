// Package msglog provides an ordered, optionally bounded, in-memory log.
//
// A Log keeps entries in insertion order. When a limit is set, appending past
// the limit evicts the oldest entries first (FIFO). A Log is not safe for
// concurrent use; callers serialize access.
package msglog

// Unbounded disables the length limit of a Log.
const Unbounded = 0

// Log is an insertion-ordered sequence with FIFO eviction.
type Log[T any] struct {
	items []T
	limit int
}

// New creates a Log that holds at most limit entries. A limit of Unbounded
// (or any non-positive value) keeps every entry until it is removed.
func New[T any](limit int) *Log[T] {
	if limit < 0 {
		limit = Unbounded
	}
	return &Log[T]{limit: limit}
}

// Limit returns the configured bound, or Unbounded.
func (l *Log[T]) Limit() int {
	return l.limit
}

// Len returns the number of entries currently held.
func (l *Log[T]) Len() int {
	return len(l.items)
}

// Append adds item at the tail and returns the entries evicted to respect
// the limit, oldest first.
func (l *Log[T]) Append(item T) []T {
	l.items = append(l.items, item)
	if l.limit == Unbounded || len(l.items) <= l.limit {
		return nil
	}

	overflow := len(l.items) - l.limit
	evicted := make([]T, overflow)
	copy(evicted, l.items[:overflow])

	// Shift into a fresh backing array so evicted entries can be collected.
	kept := make([]T, l.limit, l.limit+1)
	copy(kept, l.items[overflow:])
	l.items = kept
	return evicted
}

// Tail returns a copy of the last n entries in insertion order. A
// non-positive n returns every entry.
func (l *Log[T]) Tail(n int) []T {
	return tail(l.items, n)
}

// TailFunc returns a copy of the last n entries for which keep returns true.
func (l *Log[T]) TailFunc(n int, keep func(T) bool) []T {
	filtered := make([]T, 0, len(l.items))
	for _, item := range l.items {
		if keep(item) {
			filtered = append(filtered, item)
		}
	}
	return tail(filtered, n)
}

// Any reports whether at least one entry satisfies match.
func (l *Log[T]) Any(match func(T) bool) bool {
	for _, item := range l.items {
		if match(item) {
			return true
		}
	}
	return false
}

// RemoveFunc deletes every entry for which drop returns true and reports how
// many were removed. Relative order of the remaining entries is preserved.
func (l *Log[T]) RemoveFunc(drop func(T) bool) int {
	kept := l.items[:0]
	removed := 0
	for _, item := range l.items {
		if drop(item) {
			removed++
			continue
		}
		kept = append(kept, item)
	}

	var zero T
	for i := len(kept); i < len(l.items); i++ {
		l.items[i] = zero
	}
	l.items = kept
	return removed
}

// Reset drops every entry.
func (l *Log[T]) Reset() {
	l.items = nil
}

func tail[T any](items []T, n int) []T {
	start := 0
	if n > 0 && len(items) > n {
		start = len(items) - n
	}
	out := make([]T, len(items)-start)
	copy(out, items[start:])
	return out
}
