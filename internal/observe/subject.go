// Package observe provides a minimal subject/observer for whole-value state.
package observe

import "sync"

// Subject holds the latest value of T and fans it out to subscribers.
// Values are replaced wholesale; subscribers never see partial updates.
type Subject[T any] struct {
	mu     sync.Mutex
	value  T
	nextID int
	subs   map[int]func(T)

	// deliver serializes notifications so subscribers observe publish order.
	deliver sync.Mutex
}

// NewSubject constructs a subject holding initial.
func NewSubject[T any](initial T) *Subject[T] {
	return &Subject[T]{value: initial, subs: map[int]func(T){}}
}

// Get returns the latest published value.
func (s *Subject[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Publish replaces the value and notifies subscribers synchronously.
func (s *Subject[T]) Publish(v T) {
	s.Update(func(T) T { return v })
}

// Update applies fn to the current value under the subject's lock and
// publishes the result. fn must not call back into the subject.
func (s *Subject[T]) Update(fn func(T) T) T {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	v := fn(s.value)
	s.value = v
	fns := make([]func(T), 0, len(s.subs))
	for id := 0; id < s.nextID; id++ {
		if sub, ok := s.subs[id]; ok {
			fns = append(fns, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range fns {
		sub(v)
	}
	return v
}

// Subscribe registers fn for future values and returns a cancel func.
// fn is not called with the current value; use Get for that.
func (s *Subject[T]) Subscribe(fn func(T)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}
