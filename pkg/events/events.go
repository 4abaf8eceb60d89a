// Package events is the control plane's internal pub/sub broker:
// NodeRegistry (join, drain, expiry to OFFLINE), MatchRegistry (match
// and roster changes), ModuleCatalog (distribution) and the Autoscaler
// (decisions) publish Events here so the HTTP layer can expose a dashboard feed
// without coupling the core to any particular transport. Node and match
// lifecycle events are high priority — a dashboard that misses a
// node.down or match.deleted shows a cluster that looks healthier than
// it is — so they get a short blocking send instead of the default
// drop-on-full-buffer behavior, and survive in a small replay buffer for
// subscribers that connect after the fact.
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventNodeJoined  EventType = "node.joined"
	EventNodeDrained EventType = "node.drained"
	EventNodeDown    EventType = "node.down"

	EventMatchCreated  EventType = "match.created"
	EventMatchFinished EventType = "match.finished"
	EventMatchDeleted  EventType = "match.deleted"

	EventPlayerJoined EventType = "player.joined"
	EventPlayerLeft   EventType = "player.left"

	EventModuleDistributed EventType = "module.distributed"

	EventAutoscaleDecision EventType = "autoscale.decision"
)

// highPriority reports whether evt represents a state change an
// operator dashboard must not silently miss.
func highPriority(evt EventType) bool {
	switch evt {
	case EventNodeDown, EventMatchDeleted, EventMatchFinished:
		return true
	default:
		return false
	}
}

// highPrioritySendTimeout bounds how long broadcast blocks a slow
// subscriber for a high priority event before giving up on it.
const highPrioritySendTimeout = 50 * time.Millisecond

// replayBufferSize is how many recent events a newly-created
// subscription replays before live events start arriving.
const replayBufferSize = 20

// Event represents a cluster event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}

	recentMu sync.Mutex
	recent   []*Event // ring buffer, most recent last
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel. The
// subscriber's buffer is pre-loaded with the broker's replay buffer so a
// client that connects just after a burst of transitions still sees
// them.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true

	b.recentMu.Lock()
	for _, evt := range b.recent {
		select {
		case sub <- evt:
		default:
		}
	}
	b.recentMu.Unlock()

	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.remember(event)
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) remember(event *Event) {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()

	b.recent = append(b.recent, event)
	if len(b.recent) > replayBufferSize {
		b.recent = b.recent[len(b.recent)-replayBufferSize:]
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if highPriority(event.Type) {
			select {
			case sub <- event:
			case <-time.After(highPrioritySendTimeout):
				// Subscriber still didn't drain in time; drop rather than
				// stall every other subscriber's delivery.
			}
			continue
		}

		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
