// Package events provides synchronous publish/subscribe feeds.
package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Feed delivers each published value to every listener, in subscription
// order, on the publisher's goroutine. A panicking listener is logged and
// skipped; the remaining listeners still run.
type Feed[T any] struct {
	name string

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(T)
	order     []int
}

func NewFeed[T any](name string) *Feed[T] {
	return &Feed[T]{name: name, listeners: make(map[int]func(T))}
}

// Subscribe registers fn and returns the function that removes it. The
// returned function is safe to call more than once.
func (f *Feed[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.order = append(f.order, id)
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { f.remove(id) })
	}
}

func (f *Feed[T]) remove(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listeners, id)
	for i, v := range f.order {
		if v == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// Publish calls every listener registered at the time of the call.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	fns := make([]func(T), 0, len(f.order))
	for _, id := range f.order {
		fns = append(fns, f.listeners[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		f.deliver(fn, v)
	}
}

func (f *Feed[T]) deliver(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("feed", f.name).Interface("panic", r).Msg("Listener panicked")
		}
	}()
	fn(v)
}
