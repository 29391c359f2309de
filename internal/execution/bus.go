package execution

import (
	"sync"
	"sync/atomic"

	"github.com/julianstephens/wayfare/internal/geo"
	"github.com/julianstephens/wayfare/internal/logger"
	"github.com/julianstephens/wayfare/internal/models"
)

type NoticeKind string

const (
	NoticeTransition NoticeKind = "transition"
	NoticeGeofence   NoticeKind = "geofence"
	NoticeEvent      NoticeKind = "event"
	NoticeState      NoticeKind = "state"
)

// Notice is one typed message published by the engine.
type Notice struct {
	Kind       NoticeKind
	Version    uint64
	Transition *models.Transition
	Geofence   *geo.Event
	Event      *models.QueuedEvent
	Message    string
}

// Bus fans notices out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the notice.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Notice
	next    int
	closed  bool
	dropped atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Notice)}
}

// Subscribe returns a notice channel and a function that cancels the
// subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Notice, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Notice, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *Bus) Publish(n Notice) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.dropped.Add(1)
			logger.Debug("Dropped notice for slow subscriber", "kind", n.Kind, "version", n.Version)
		}
	}
}

// Dropped returns how many notices were lost to full buffers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
