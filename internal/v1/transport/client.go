package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trackmania-bingo/bingoserver/internal/v1/logging"
	"github.com/trackmania-bingo/bingoserver/internal/v1/metrics"
	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

const (
	mailboxDepth = 32
	writeWait    = 10 * time.Second
)

// Router dispatches a decoded request frame to the game logic, is told
// about a freshly authenticated connection before its pumps start, and is
// notified when a connection's read half ends. Implemented by the dispatch
// package so transport stays ignorant of room/request semantics.
type Router interface {
	HandleConnect(ctx context.Context, client *Client, reconnect *ReconnectHint)
	HandleFrame(ctx context.Context, client *Client, payload []byte)
	HandleClose(client *Client)
}

// Client owns one authenticated TCP peer: a reader goroutine that decodes
// length-framed payloads and hands them to a Router, and a writer goroutine
// that owns the socket and drains two outbound mailboxes. Implements
// types.MailboxClient.
type Client struct {
	conn          net.Conn
	router        Router
	maxFrameBytes int

	mu          sync.RWMutex
	playerID    types.PlayerIDType
	displayName types.DisplayNameType
	closeOnce   sync.Once
	closed      bool

	send         chan []byte
	prioritySend chan []byte
}

var _ types.MailboxClient = (*Client)(nil)

// NewClient wraps an already-authenticated connection; the handshake gate
// must have resolved identity before constructing one.
func NewClient(conn net.Conn, router Router, identity types.ClientInfo, maxFrameBytes int) *Client {
	return &Client{
		conn:          conn,
		router:        router,
		maxFrameBytes: maxFrameBytes,
		playerID:      identity.PlayerID,
		displayName:   identity.DisplayName,
		send:          make(chan []byte, mailboxDepth),
		prioritySend:  make(chan []byte, mailboxDepth),
	}
}

// PlayerID reports the connection's resolved account identifier.
func (c *Client) PlayerID() types.PlayerIDType { return c.playerID }

// DisplayName reports the connection's resolved display name.
func (c *Client) DisplayName() types.DisplayNameType { return c.displayName }

// Closed reports whether the connection has already torn down.
func (c *Client) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Send enqueues payload onto the routine mailbox, dropping it on a full
// mailbox or an already-closed connection rather than blocking the sender.
func (c *Client) Send(payload []byte) {
	c.enqueue(c.send, payload, false)
}

// SendPriority enqueues payload ahead of routine traffic, for events a
// client must not have delayed behind a backlog.
func (c *Client) SendPriority(payload []byte) {
	c.enqueue(c.prioritySend, payload, true)
}

func (c *Client) enqueue(ch chan []byte, payload []byte, priority bool) {
	if c.Closed() {
		return
	}

	select {
	case ch <- payload:
	default:
		logging.Warn(context.Background(), "client mailbox full, dropping message",
			zap.String("player_id", string(c.playerID)), zap.Bool("priority", priority))
	}
}

// Disconnect closes the underlying connection, unblocking both pumps.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.conn.Close()
	})
}

// Run starts the write pump and drives the read pump on the caller's
// goroutine until the connection closes or a framing error occurs.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.Disconnect()
		metrics.DecConnection()
		c.router.HandleClose(c)
	}()

	for {
		payload, err := ReadFrame(c.conn, c.maxFrameBytes)
		if err != nil {
			if !c.Closed() {
				logging.Info(ctx, "connection read ended",
					zap.String("player_id", string(c.playerID)), zap.Error(err))
			}
			return
		}
		c.router.HandleFrame(ctx, c, payload)
	}
}

func (c *Client) writePump() {
	defer c.Disconnect()

	for {
		select {
		case message, ok := <-c.prioritySend:
			if !ok {
				return
			}
			if !c.write(message) {
				return
			}
			continue
		default:
		}

		select {
		case message, ok := <-c.prioritySend:
			if !ok {
				return
			}
			if !c.write(message) {
				return
			}
		case message, ok := <-c.send:
			if !ok {
				return
			}
			if !c.write(message) {
				return
			}
		}
	}
}

func (c *Client) write(payload []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := WriteFrame(c.conn, payload); err != nil {
		logging.Error(context.Background(), "error writing frame",
			zap.String("player_id", string(c.playerID)), zap.Error(err))
		return false
	}
	return true
}
