// Package channelfabric implements named subscription groups used to
// broadcast server-originated events to subscribed client mailboxes.
package channelfabric

import (
	"sync"

	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

// Handle is a dense index identifying one channel.
type Handle int

// channel is a named subscription group. Its subscriber set holds plain
// references to client mailboxes; a reference is treated as dead once the
// connection itself reports Closed(), standing in for weak-reference
// upgrade failure, and is dropped lazily during the next broadcast pass.
type channel struct {
	mu          sync.Mutex
	subscribers map[types.PlayerIDType]types.MailboxClient
	closed      bool
}

// Fabric is the process-wide arena of channels. Constructed explicitly and
// passed to the room registry; never a package-level global.
type Fabric struct {
	mu       sync.Mutex
	channels map[Handle]*channel
	next     Handle
}

// NewFabric creates an empty channel fabric.
func NewFabric() *Fabric {
	return &Fabric{channels: make(map[Handle]*channel)}
}

// Open allocates a new channel and returns its handle.
func (f *Fabric) Open() Handle {
	f.mu.Lock()
	defer f.mu.Unlock()

	h := f.next
	f.next++
	f.channels[h] = &channel{subscribers: make(map[types.PlayerIDType]types.MailboxClient)}
	return h
}

// Subscribe adds client to handle's subscriber set, keyed by its player ID.
// Idempotent: re-subscribing the same player ID replaces the prior mailbox
// reference without producing a second delivery.
func (f *Fabric) Subscribe(handle Handle, client types.MailboxClient) {
	ch := f.lookup(handle)
	if ch == nil {
		return
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}
	ch.subscribers[client.PlayerID()] = client
}

// Unsubscribe removes playerID from handle's subscriber set.
func (f *Fabric) Unsubscribe(handle Handle, playerID types.PlayerIDType) {
	ch := f.lookup(handle)
	if ch == nil {
		return
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	delete(ch.subscribers, playerID)
}

// Broadcast serializes message once and enqueues it into every live
// subscriber's mailbox via a non-blocking send. Subscribers whose
// connection has closed are removed during this pass.
func (f *Fabric) Broadcast(handle Handle, message []byte) {
	ch := f.lookup(handle)
	if ch == nil {
		return
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}

	for playerID, client := range ch.subscribers {
		if client.Closed() {
			delete(ch.subscribers, playerID)
			continue
		}
		client.Send(message)
	}
}

// BroadcastPriority behaves like Broadcast but enqueues onto each
// subscriber's priority mailbox, for events a client must not have delayed
// behind a backlog of routine traffic.
func (f *Fabric) BroadcastPriority(handle Handle, message []byte) {
	ch := f.lookup(handle)
	if ch == nil {
		return
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}

	for playerID, client := range ch.subscribers {
		if client.Closed() {
			delete(ch.subscribers, playerID)
			continue
		}
		client.SendPriority(message)
	}
}

// Close drops handle's subscriber set. Further broadcasts and subscribes
// become no-ops.
func (f *Fabric) Close(handle Handle) {
	ch := f.lookup(handle)
	if ch == nil {
		return
	}

	ch.mu.Lock()
	ch.closed = true
	ch.subscribers = nil
	ch.mu.Unlock()

	f.mu.Lock()
	delete(f.channels, handle)
	f.mu.Unlock()
}

func (f *Fabric) lookup(handle Handle) *channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[handle]
}
