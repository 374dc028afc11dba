package offlinecache

import "sync"

// MessageType identifies one of the protocol messages exchanged between the
// foreground client and the caching agent.
type MessageType string

const (
	// MsgCheckVersion is sent by a foreground context and carries the version
	// the page believes is running.
	MsgCheckVersion MessageType = "CHECK_VERSION"
	// MsgNewVersion is broadcast by the agent when a version check reveals a
	// mismatch between the page and the agent.
	MsgNewVersion MessageType = "NEW_VERSION"
	// MsgSkipWaiting asks a waiting agent to take over immediately.
	MsgSkipWaiting MessageType = "SKIP_WAITING"
	// MsgClearCache asks the agent to delete every cache generation.
	MsgClearCache MessageType = "CLEAR_CACHE"
	// MsgForceUpdate asks the agent to clear caches and force all foreground
	// contexts to refresh.
	MsgForceUpdate MessageType = "FORCE_UPDATE"
	// MsgForceRefresh is broadcast by the agent and makes foreground contexts
	// reload unconditionally.
	MsgForceRefresh MessageType = "FORCE_REFRESH"
)

// Message is one protocol message. Only the fields relevant for the given
// type are set.
type Message struct {
	Type MessageType
	// Version is the version the sender is talking about: the page version
	// for CHECK_VERSION, the agent version for NEW_VERSION.
	Version string
	// InstalledVersion echoes the page version back in NEW_VERSION.
	InstalledVersion string
	// Reply, if set, receives the outcome of a CLEAR_CACHE request.
	// The channel should be buffered so the agent never blocks on the ack.
	Reply chan error
}

// Bus connects the caching agent to any number of foreground contexts.
// The two sides are independently scheduled and share no memory; all
// coordination happens through these channels.
type Bus struct {
	mu      sync.Mutex
	inbox   chan Message
	clients map[chan Message]struct{}
}

func NewBus() *Bus {
	return &Bus{
		inbox:   make(chan Message, 16),
		clients: make(map[chan Message]struct{}),
	}
}

// Send delivers a message from a foreground context to the agent.
func (b *Bus) Send(m Message) {
	b.inbox <- m
}

// Inbox is the agent-side receive channel.
func (b *Bus) Inbox() <-chan Message {
	return b.inbox
}

// Subscribe registers a foreground context and returns its receive channel
// together with an unsubscribe function.
func (b *Bus) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
	}
}

// Broadcast delivers a message from the agent to every subscribed foreground
// context. A context that is not draining its channel is skipped rather than
// blocking the agent.
func (b *Bus) Broadcast(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- m:
		default:
		}
	}
}
