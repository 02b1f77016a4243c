// Package observable contains a value that notifies subscribers when it changes.
package observable

import (
	"slices"
	"sync"
)

// Value is a value that notifies subscribers when it is set.
type Value[T any] struct {
	mutex       sync.Mutex
	v           T
	nextID      int
	subscribers map[int]func(T)
}

// Get returns the current value.
func (o *Value[T]) Get() T {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.v
}

// Set sets the value and calls subscribers.
// Subscribers are called outside of the lock, in subscription order.
func (o *Value[T]) Set(v T) {
	o.mutex.Lock()
	o.v = v

	ids := make([]int, 0, len(o.subscribers))
	for id := range o.subscribers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	cbs := make([]func(T), len(ids))
	for i, id := range ids {
		cbs[i] = o.subscribers[id]
	}
	o.mutex.Unlock()

	for _, cb := range cbs {
		cb(v)
	}
}

// Subscribe registers a callback and returns a function that removes it.
func (o *Value[T]) Subscribe(cb func(T)) func() {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.subscribers == nil {
		o.subscribers = make(map[int]func(T))
	}

	id := o.nextID
	o.nextID++
	o.subscribers[id] = cb

	return func() {
		o.mutex.Lock()
		defer o.mutex.Unlock()
		delete(o.subscribers, id)
	}
}
