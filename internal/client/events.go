package client

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/paate57/among-pale/internal/protocol"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventConnected fires when a transport opens.
	EventConnected EventKind = iota
	// EventConnectionLost fires when an open transport drops. A retry follows unless the cap is reached.
	EventConnectionLost
	// EventReconnecting fires when a retry is scheduled; Attempt and Delay are set.
	EventReconnecting
	// EventDisconnected is terminal: the retry cap was exceeded. It fires once per cap exhaustion.
	EventDisconnected
	EventRoomCreated
	EventRoomJoined
	EventPlayerJoined
	EventPlayerLeft
	EventPlayerMoved
	EventGameStarted
	// EventError carries an ERROR reply; Message is a protocol.ErrorMessage.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectionLost:
		return "connection_lost"
	case EventReconnecting:
		return "reconnecting"
	case EventDisconnected:
		return "disconnected"
	case EventRoomCreated:
		return "room_created"
	case EventRoomJoined:
		return "room_joined"
	case EventPlayerJoined:
		return "player_joined"
	case EventPlayerLeft:
		return "player_left"
	case EventPlayerMoved:
		return "player_moved"
	case EventGameStarted:
		return "game_started"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is delivered to subscribers on the manager's event loop.
type Event struct {
	Kind EventKind
	// Message is the server message behind a room event; nil for connection events.
	Message protocol.ServerMessage
	// Mirror is a copy of the mirror after the event was applied.
	Mirror Mirror
	// Attempt is the retry number for EventReconnecting and EventDisconnected.
	Attempt int
	// Delay is the wait before the retry for EventReconnecting.
	Delay time.Duration
	// Err is the transport error for connection events.
	Err error
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// bus keeps an ordered subscriber list per kind. Subscribing and unsubscribing are
// safe from any goroutine, including from inside a handler.
type bus struct {
	mu   sync.Mutex
	next uint64
	subs map[EventKind][]subscriber
}

func newBus() *bus {
	return &bus{subs: make(map[EventKind][]subscriber)}
}

func (b *bus) subscribe(kind EventKind, fn func(Event)) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[kind] = append(b.subs[kind], subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs[kind] = slices.DeleteFunc(b.subs[kind], func(s subscriber) bool { return s.id == id })
		})
	}
}

func (b *bus) publish(ev Event) {
	b.mu.Lock()
	list := slices.Clone(b.subs[ev.Kind])
	b.mu.Unlock()
	for _, s := range list {
		s.fn(ev)
	}
}
