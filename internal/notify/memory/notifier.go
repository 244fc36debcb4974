// Package memory keeps notifications in memory for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/link-publisher/internal/notify"
	"github.com/JakeFAU/link-publisher/internal/pipeline"
)

// Notifier stores events for inspection.
type Notifier struct {
	mu       sync.RWMutex
	messages []notify.Event
}

// New returns an empty Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Notify records the event for res.
func (n *Notifier) Notify(_ context.Context, res pipeline.ItemResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, notify.NewEvent(res))
	return nil
}

// Messages returns the recorded events.
func (n *Notifier) Messages() []notify.Event {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]notify.Event, len(n.messages))
	copy(out, n.messages)
	return out
}
