package services

import (
	"sync"

	"github.com/apexlabs/apex-keys/internal/models"
)

// Feed fans new log entries out to live dashboard subscribers. Slow
// subscribers lose entries instead of slowing the publisher down.
type Feed struct {
	mu   sync.RWMutex
	subs map[chan models.LogEntry]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[chan models.LogEntry]struct{})}
}

// Subscribe returns a buffered channel of log entries and a cancel func.
func (f *Feed) Subscribe() (<-chan models.LogEntry, func()) {
	ch := make(chan models.LogEntry, 32)

	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		delete(f.subs, ch)
		f.mu.Unlock()
	}
}

// Publish sends an entry to every subscriber without blocking.
func (f *Feed) Publish(entry models.LogEntry) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for ch := range f.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}
