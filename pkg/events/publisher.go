// Package events provides live pipeline event delivery. Each pipeline keeps
// its own bounded history ring on the Pipeline aggregate; this package only
// handles fan-out to live subscribers. There are no replay guarantees;
// callers needing history read pipeline.Events.
package events

import (
	"sync"

	"github.com/fabriq/fabriq/pkg/models"
	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind loses events rather than blocking workers.
const subscriberBuffer = 64

// Subscription is one live event stream. Close it when done.
type Subscription struct {
	id         string
	pipelineID string // empty = all pipelines
	ch         chan models.PipelineEvent
	pub        *Publisher
	closeOnce  sync.Once
}

// Events returns the receive channel. It is closed when the subscription
// is closed.
func (s *Subscription) Events() <-chan models.PipelineEvent { return s.ch }

// Close deregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.pub.remove(s.id)
		close(s.ch)
	})
}

// Publisher fans pipeline events out to registered subscribers.
type Publisher struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewPublisher creates an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{subs: map[string]*Subscription{}}
}

// Subscribe registers a live subscriber. pipelineID filters to a single
// pipeline; empty subscribes to all.
func (p *Publisher) Subscribe(pipelineID string) *Subscription {
	sub := &Subscription{
		id:         uuid.New().String(),
		pipelineID: pipelineID,
		ch:         make(chan models.PipelineEvent, subscriberBuffer),
		pub:        p,
	}
	p.mu.Lock()
	p.subs[sub.id] = sub
	p.mu.Unlock()
	return sub
}

// Publish delivers the event to matching subscribers. Delivery is
// non-blocking: a full subscriber drops the event.
func (p *Publisher) Publish(ev models.PipelineEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, sub := range p.subs {
		if sub.pipelineID != "" && sub.pipelineID != ev.PipelineID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

func (p *Publisher) remove(id string) {
	p.mu.Lock()
	delete(p.subs, id)
	p.mu.Unlock()
}
