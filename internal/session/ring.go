package session

import "encoding/json"

// Ring is a bounded, insertion-ordered buffer. Pushing past capacity silently
// drops the oldest element. It is not safe for concurrent use on its own;
// callers serialize access through the Store.
type Ring[T any] struct {
	items []T
	size  int
}

// NewRing creates a new ring with the specified capacity
func NewRing[T any](size int) *Ring[T] {
	if size < 1 {
		size = 1
	}
	return &Ring[T]{
		items: make([]T, 0, size),
		size:  size,
	}
}

// Push appends v, evicting the oldest element when the ring is full
func (r *Ring[T]) Push(v T) {
	if len(r.items) == r.size {
		copy(r.items, r.items[1:])
		r.items[len(r.items)-1] = v
		return
	}
	r.items = append(r.items, v)
}

// Items returns a copy of the elements, oldest first
func (r *Ring[T]) Items() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Tail returns a copy of at most n newest elements, oldest first
func (r *Ring[T]) Tail(n int) []T {
	if n <= 0 {
		return nil
	}
	if n > len(r.items) {
		n = len(r.items)
	}
	out := make([]T, n)
	copy(out, r.items[len(r.items)-n:])
	return out
}

// Last returns the newest element
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if len(r.items) == 0 {
		return zero, false
	}
	return r.items[len(r.items)-1], true
}

// Len returns the number of stored elements
func (r *Ring[T]) Len() int {
	return len(r.items)
}

// Cap returns the ring capacity
func (r *Ring[T]) Cap() int {
	return r.size
}

// Clear empties the ring
func (r *Ring[T]) Clear() {
	r.items = r.items[:0]
}

// MarshalJSON encodes the ring as a plain array
func (r *Ring[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.items)
}

// UnmarshalJSON decodes a plain array, keeping only the newest elements when
// the array is longer than the ring's capacity.
func (r *Ring[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	if r.size < 1 {
		r.size = len(items)
		if r.size < 1 {
			r.size = 1
		}
	}
	r.items = make([]T, 0, r.size)
	for _, v := range items {
		r.Push(v)
	}
	return nil
}
