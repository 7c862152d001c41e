// Package event provides the observer lists components use to publish
// notifications.
package event

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// PanicError is returned by Raise when a handler panics
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("event handler panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

type subscription[T any] struct {
	id int
	fn func(T)
}

// Hook is a list of handlers for one kind of notification. The zero value is
// ready to use.
type Hook[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscription[T]
}

// Subscribe adds fn to the end of the list and returns a function that
// removes it again
func (h *Hook[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, subscription[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hook[T]) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range h.subs {
		if s.id == id {
			// copy so a Raise iterating the old slice is unaffected
			subs := make([]subscription[T], 0, len(h.subs)-1)
			subs = append(subs, h.subs[:i]...)
			h.subs = append(subs, h.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscribed handlers
func (h *Hook[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Raise calls every handler in subscription order. A panicking handler stops
// delivery and is reported as a *PanicError.
func (h *Hook[T]) Raise(v T) error {
	h.mu.Lock()
	subs := h.subs
	h.mu.Unlock()

	for _, s := range subs {
		if err := call(s.fn, v); err != nil {
			return err
		}
	}
	return nil
}

func call[T any](fn func(T), v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	fn(v)
	return nil
}
