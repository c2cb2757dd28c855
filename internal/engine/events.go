package engine

import (
	"sync"
	"time"
)

// EventType enumerates progress events the engine emits. The engine
// never holds presentation state; everything a display layer needs
// travels through these.
type EventType string

const (
	EventRunAccepted    EventType = "run.accepted"
	EventRunCompleted   EventType = "run.completed"
	EventRunFailed      EventType = "run.failed"
	EventStageStarted   EventType = "stage.started"
	EventStageCompleted EventType = "stage.completed"
	EventSceneUpdated   EventType = "scene.updated"
	EventLoopStarted    EventType = "loop.started"
	EventLoopCycle      EventType = "loop.cycle"
	EventLoopStopped    EventType = "loop.stopped"
)

// Event is one progress observation.
type Event struct {
	Type    EventType `json:"type"`
	RunID   string    `json:"run_id,omitempty"`
	SceneID string    `json:"scene_id,omitempty"`
	Stage   string    `json:"stage,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Cycle   int       `json:"cycle,omitempty"`
	Balance int64     `json:"balance,omitempty"`
	At      time.Time `json:"at"`
}

// Broadcaster fans events out to any number of subscribers. Slow
// subscribers lose events rather than stall the pipeline: sends are
// non-blocking against each subscriber's buffer.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

const subscriberBuffer = 64

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe returns a receive channel and a cancel func. Cancel is
// idempotent and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish stamps and delivers the event to every live subscriber.
func (b *Broadcaster) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close ends the stream; all subscriber channels are closed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
