// Package bus is the in-process subscription bus: a bounded multi-producer,
// multi-consumer broadcast of typed change events, plus (for the networked
// storage backend) a bridge that turns Postgres LISTEN/NOTIFY payloads into
// the same event types.
package bus

import "sync"

// EventType discriminates the Event variants from spec.md §4.8.
type EventType string

const (
	SessionUpdated       EventType = "SessionUpdated"
	SessionMessageAdded  EventType = "SessionMessageAdded"
	SessionAdded         EventType = "SessionAdded"
	RepoAdded            EventType = "RepoAdded"
	ProjectAdded         EventType = "ProjectAdded"
	ToolResultAdded      EventType = "ToolResultAdded"
	HookResultAdded      EventType = "HookResultAdded"
	SessionTodosChanged  EventType = "SessionTodosChanged"
	SessionFilesChanged  EventType = "SessionFilesChanged"
	SessionHooksChanged  EventType = "SessionHooksChanged"
	NodeUpdated          EventType = "NodeUpdated"
)

// Event is a single bus message. Fields are populated according to Type;
// unused fields are left zero.
type Event struct {
	Type         EventType
	SessionID    string
	MessageIndex int // SessionMessageAdded: the session's new total line count, not the index of the last added message
	NodeID       string
	NodeTypename string
	Parent       *string
}

// capacity is the fixed channel size per subscriber. A slow subscriber
// drops events once its channel is full, per spec.md §4.8.
const capacity = 1024

// Bus fans out published events to every current subscriber.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscription is a live subscriber handle.
type Subscription struct {
	id   int
	bus  *Bus
	C    <-chan Event
}

// Subscribe registers a new subscriber and returns its channel. Call
// Unsubscribe when done to release it.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, capacity)
	id := b.next
	b.next++
	b.subs[id] = ch
	return &Subscription{id: id, bus: b, C: ch}
}

// Unsubscribe removes and closes the subscription's channel.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if ch, ok := s.bus.subs[s.id]; ok {
		delete(s.bus.subs, s.id)
		close(ch)
	}
}

// Publish broadcasts ev to every current subscriber. A subscriber whose
// buffer is full observes lag: the event is dropped for that subscriber
// only, per spec.md §4.8.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
