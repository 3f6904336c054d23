// Package events carries session progress to whoever renders it.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Kind uint8

const (
	SessionStarted Kind = iota
	BlockTransferred
	SessionCompleted
	SessionFailed
)

func (k Kind) String() string {
	switch k {
	case SessionStarted:
		return "session started"
	case BlockTransferred:
		return "block transferred"
	case SessionCompleted:
		return "session completed"
	case SessionFailed:
		return "session failed"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Terminal reports whether no further events follow for the session.
func (k Kind) Terminal() bool {
	return k == SessionCompleted || k == SessionFailed
}

type Event struct {
	Time        time.Time
	Err         error
	Stats       *Stats
	SessionID   string
	Peer        string
	Filename    string
	Direction   string
	ContentType string
	Bytes       int64
	Block       uint16
	Kind        Kind
}

// Reason is the human readable text shown for a failed session.
func (e Event) Reason() string {
	if e.Err == nil {
		return ""
	}

	return e.Err.Error()
}

func (e Event) String() string {
	switch e.Kind {
	case SessionStarted:
		return fmt.Sprintf("%s %s %s with %s", e.Kind, e.Direction, e.Filename, e.Peer)
	case BlockTransferred:
		return fmt.Sprintf("%s %s block#=%d bytes=%d", e.Kind, e.Filename, e.Block, e.Bytes)
	case SessionCompleted:
		return fmt.Sprintf("%s %s %s", e.Kind, e.Filename, e.Stats)
	default:
		return fmt.Sprintf("%s %s: %s", e.Kind, e.Filename, e.Reason())
	}
}

type Emitter interface {
	Emit(e Event)
}

// Func adapts a function to an Emitter.
type Func func(e Event)

func (f Func) Emit(e Event) {
	f(e)
}

type nop struct{}

func (nop) Emit(Event) {}

// Discard drops every event.
var Discard Emitter = nop{}

// Multi emits to every non nil emitter in order.
func Multi(emitters ...Emitter) Emitter {
	var out []Emitter

	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}

	return Func(func(e Event) {
		for _, em := range out {
			em.Emit(e)
		}
	})
}

// Log writes events through l. Block events are only logged at debug level.
func Log(l *zap.SugaredLogger) Emitter {
	return Func(func(e Event) {
		fields := []any{"session", e.SessionID, "peer", e.Peer, "file", e.Filename}

		switch e.Kind {
		case SessionStarted:
			if e.ContentType != "" {
				fields = append(fields, "content-type", e.ContentType)
			}

			l.Infow(fmt.Sprintf("%s %s", e.Kind, e.Direction), fields...)
		case BlockTransferred:
			l.Debugw(e.Kind.String(), append(fields, "block", e.Block, "bytes", e.Bytes)...)
		case SessionCompleted:
			l.Infow(fmt.Sprintf("%s: %s", e.Kind, e.Stats), fields...)
		case SessionFailed:
			l.Errorw(fmt.Sprintf("%s: %s", e.Kind, e.Reason()), fields...)
		}
	})
}

// Bus fans events out to subscribers. Emit never blocks: a subscriber whose
// buffer is full misses the event.
type Bus struct {
	subs    map[int]chan Event
	mu      sync.RWMutex
	next    int
	dropped atomic.Int64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel receiving events and a function that removes
// the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events subscribers missed.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
