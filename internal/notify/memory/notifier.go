// Package memory contains an in-memory notifier implementation for tests.
package memory

import (
	"context"
	"sync"

	"github.com/openlegis/lexarc/internal/notify"
)

// Notifier records notifications for inspection.
type Notifier struct {
	mu       sync.RWMutex
	messages []notify.Message
	failWith error
}

// New returns a memory Notifier.
func New() *Notifier {
	return &Notifier{}
}

// FailWith makes every subsequent Notify return err.
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failWith = err
}

// Notify records the message.
func (n *Notifier) Notify(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWith != nil {
		return n.failWith
	}
	n.messages = append(n.messages, msg)
	return nil
}

// Messages returns the recorded notifications.
func (n *Notifier) Messages() []notify.Message {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]notify.Message, len(n.messages))
	copy(out, n.messages)
	return out
}

// Close implements the Notifier interface; it performs no action.
func (n *Notifier) Close() error { return nil }
