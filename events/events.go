// Package events fans process-lifecycle transitions out to subscribers
// and keeps a rolling backlog so late subscribers can catch up.
package events

import (
	"sync"
	"time"

	"github.com/moby/pubsub"

	"github.com/mizzen-os/mizzen/abi"
)

// Type names a lifecycle transition.
type Type string

const (
	TypeBoot Type = "boot"
	TypeFork Type = "fork"
	TypeExec Type = "exec"
	TypeExit Type = "exit"
	TypeKill Type = "kill"
	TypeReap Type = "reap"
)

// Event is one lifecycle transition.
type Event struct {
	Type   Type
	PID    int
	PPID   int
	Path   string         // image path for boot and exec
	Status abi.WaitStatus // terminal word for exit, kill, and reap
	Time   time.Time
}

const (
	backlogLimit = 64
	bufferSize   = 1024
)

// Bus is the kernel's event stream.
type Bus struct {
	mu      sync.Mutex
	backlog []Event
	pub     *pubsub.Publisher
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		backlog: make([]Event, 0, backlogLimit),
		pub:     pubsub.NewPublisher(100*time.Millisecond, bufferSize),
	}
}

// Publish appends ev to the backlog and fans it out.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if len(b.backlog) == backlogLimit {
		copy(b.backlog, b.backlog[1:])
		b.backlog[len(b.backlog)-1] = ev
	} else {
		b.backlog = append(b.backlog, ev)
	}
	b.mu.Unlock()
	b.pub.Publish(ev)
}

// Subscribe returns the current backlog, a channel of future events,
// and a cancel function. Slow subscribers are skipped, not waited on.
func (b *Bus) Subscribe() ([]Event, chan interface{}, func()) {
	b.mu.Lock()
	current := make([]Event, len(b.backlog))
	copy(current, b.backlog)
	l := b.pub.Subscribe()
	b.mu.Unlock()
	cancel := func() { b.Evict(l) }
	return current, l, cancel
}

// Evict removes a subscriber.
func (b *Bus) Evict(l chan interface{}) {
	b.pub.Evict(l)
}

// SubscribersCount returns the number of active subscribers.
func (b *Bus) SubscribersCount() int {
	return b.pub.Len()
}
