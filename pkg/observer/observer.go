package observer

import "sync"

// Listener is called on every Notify.
type Listener func()

type registration struct {
	id       uint64
	listener Listener
}

// Observer fans a payload-free notification out to its listeners.
// The zero value is ready to use.
type Observer struct {
	mu        sync.Mutex
	listeners []registration
	nextID    uint64
}

// Subscribe registers a listener and returns a function that removes it.
// Calling the returned function more than once is a no-op.
func (o *Observer) Subscribe(listener Listener) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners = append(o.listeners, registration{id: id, listener: listener})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { o.unsubscribe(id) })
	}
}

// Notify invokes every listener subscribed at the time of the call, in
// subscription order. Listeners added or removed while the pass is running
// take effect from the next Notify.
func (o *Observer) Notify() {
	o.mu.Lock()
	if len(o.listeners) == 0 {
		o.mu.Unlock()
		return
	}
	snapshot := make([]registration, len(o.listeners))
	copy(snapshot, o.listeners)
	o.mu.Unlock()

	// Call listeners outside the lock
	for _, reg := range snapshot {
		reg.listener()
	}
}

// Len returns the number of live subscriptions.
func (o *Observer) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.listeners)
}

// unsubscribe removes a registration by ID, keeping the order of the rest.
func (o *Observer) unsubscribe(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, reg := range o.listeners {
		if reg.id == id {
			o.listeners = append(o.listeners[:i], o.listeners[i+1:]...)
			return
		}
	}
}
