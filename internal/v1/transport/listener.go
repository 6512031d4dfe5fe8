// Package transport implements the Connection Fabric: a raw TCP accept loop
// speaking length-prefixed JSON frames, and the per-connection Client that
// owns a socket's reader and writer halves.
package transport

import (
	"context"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/trackmania-bingo/bingoserver/internal/v1/logging"
	"github.com/trackmania-bingo/bingoserver/internal/v1/metrics"
	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

// ReconnectHint identifies the prior room slot a handshake's CanReconnect
// outcome was issued for, so the caller can replay it into the Room
// Registry before any request frame is processed.
type ReconnectHint struct {
	RoomID    types.RoomIDType
	SlotIndex int
}

// AuthResult is the outcome of a successful handshake.
type AuthResult struct {
	Identity  types.ClientInfo
	Reconnect *ReconnectHint
}

// Authenticator performs the handshake gate's work for one freshly accepted
// connection: reading the handshake frame, validating it, and writing the
// handshake response. It returns ok=false for any outcome that should not
// proceed to a live Client (ParseError, IncompatibleVersion, AuthFailure,
// AuthRefused) — the response frame has already been written in that case.
type Authenticator interface {
	Authenticate(ctx context.Context, conn net.Conn) (AuthResult, bool)
}

// ConnectLimiter gates accepted connections before the handshake is even
// attempted, protecting the identity service from being hammered by an
// unauthenticated peer.
type ConnectLimiter interface {
	CheckConnect(ctx context.Context, ip string) error
}

// Listener runs the accept loop for the TCP game protocol: one goroutine
// per accepted connection performs the handshake, then a Client is handed
// to Router for the lifetime of the session.
type Listener struct {
	addr          string
	backlog       int
	maxFrameBytes int

	auth    Authenticator
	limiter ConnectLimiter
	router  Router

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewListener constructs a TCP listener for the game protocol. It does not
// start accepting connections until Serve is called.
func NewListener(addr string, backlog, maxFrameBytes int, auth Authenticator, limiter ConnectLimiter, router Router) *Listener {
	return &Listener{
		addr:          addr,
		backlog:       backlog,
		maxFrameBytes: maxFrameBytes,
		auth:          auth,
		limiter:       limiter,
		router:        router,
	}
}

// Serve binds the listen address and accepts connections until ctx is
// cancelled or Close is called. It blocks until the accept loop exits.
func (l *Listener) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	logging.Info(ctx, "game protocol listening", zap.String("addr", l.addr), zap.Int("backlog", l.backlog))

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.wg.Wait()
				return nil
			default:
				logging.Error(ctx, "accept failed", zap.Error(err))
				return err
			}
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(ctx, conn)
		}()
	}
}

// Close stops accepting new connections. In-flight connections are not
// forcibly torn down; Shutdown does that via the registry.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		l.listener.Close()
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remoteIP := hostOnly(conn.RemoteAddr().String())

	if l.limiter != nil {
		if err := l.limiter.CheckConnect(ctx, remoteIP); err != nil {
			logging.Warn(ctx, "connect rate limit exceeded", zap.String("remote_ip", remoteIP))
			return
		}
	}

	result, ok := l.auth.Authenticate(ctx, conn)
	if !ok {
		return
	}

	metrics.IncConnection()

	client := NewClient(conn, l.router, result.Identity, l.maxFrameBytes)
	l.router.HandleConnect(ctx, client, result.Reconnect)
	client.Run(ctx)
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.TrimSpace(addr)
	}
	return host
}
