package store

import "sync"

// Broadcaster fans assistant change events out to subscribers.
// Slow subscribers miss events rather than block writers.
type Broadcaster struct {
	eventChan chan int64
	mu        sync.RWMutex
	subs      []chan int64
}

// NewBroadcaster starts the fan-out loop.
func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{eventChan: make(chan int64, 100)}
	go b.loop()
	return b
}

func (b *Broadcaster) loop() {
	for id := range b.eventChan {
		b.mu.RLock()
		for _, sub := range b.subs {
			// Non-blocking send
			select {
			case sub <- id:
			default:
			}
		}
		b.mu.RUnlock()
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() <-chan int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan int64, 10)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish announces that the assistant with the given ID changed.
func (b *Broadcaster) Publish(id int64) {
	select {
	case b.eventChan <- id:
	default:
	}
}

// PublishChanged announces every assistant in next that differs in update time
// from prev, plus every assistant that disappeared.
func (b *Broadcaster) PublishChanged(prev, next []Assistant) {
	seen := make(map[int64]bool, len(next))
	for _, a := range next {
		seen[a.ID] = true
		i := Index(prev, a.ID)
		if i < 0 || !prev[i].UpdatedAt.Equal(a.UpdatedAt) || len(prev[i].Messages) != len(a.Messages) {
			b.Publish(a.ID)
		}
	}
	for _, a := range prev {
		if !seen[a.ID] {
			b.Publish(a.ID)
		}
	}
}
