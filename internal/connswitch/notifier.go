// Package connswitch raises the signal that retargets downstream
// connection-resolution machinery to a specific tenant before schema
// operations run against it.
package connswitch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SwitchEvent identifies the tenant that all ORM operations within the
// current logical operation must resolve against.
type SwitchEvent struct {
	TenantID uuid.UUID
	DBName   string
	DSN      string
}

// SubscriberFunc reacts to a switch event. It runs synchronously; returning
// an error aborts the operation that raised the event.
type SubscriberFunc func(ctx context.Context, ev SwitchEvent) error

// Notifier fans a switch event out to its subscribers in registration order.
// Subscribers run on the caller's goroutine, before any schema diff or apply
// proceeds. Raising concurrently from multiple goroutines is safe; the
// subscriber list itself is the only shared state.
type Notifier struct {
	mu   sync.RWMutex
	subs []SubscriberFunc
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers fn. Subscribers cannot be removed.
func (n *Notifier) Subscribe(fn SubscriberFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}

// Raise invokes every subscriber in registration order. The first error
// stops the fan-out and is returned to the caller.
func (n *Notifier) Raise(ctx context.Context, ev SwitchEvent) error {
	n.mu.RLock()
	subs := make([]SubscriberFunc, len(n.subs))
	copy(subs, n.subs)
	n.mu.RUnlock()

	for _, fn := range subs {
		if err := fn(ctx, ev); err != nil {
			return fmt.Errorf("connection switch to %q rejected: %w", ev.DBName, err)
		}
	}
	return nil
}
