// Package dispatch decodes wire requests, associates each connection with
// its current room, and routes requests into the room registry. It
// implements transport.Router, keeping the transport package ignorant of
// room/request semantics.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trackmania-bingo/bingoserver/internal/v1/logging"
	"github.com/trackmania-bingo/bingoserver/internal/v1/metrics"
	"github.com/trackmania-bingo/bingoserver/internal/v1/ratelimit"
	"github.com/trackmania-bingo/bingoserver/internal/v1/reconnect"
	"github.com/trackmania-bingo/bingoserver/internal/v1/room"
	"github.com/trackmania-bingo/bingoserver/internal/v1/transport"
	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

// errNotInRoom is returned by any room-scoped request sent on a connection
// that has not successfully completed CreateRoom/JoinRoom/reconnect.
var errNotInRoom = errors.New("dispatch: connection is not associated with a room")

// connState is the per-connection association the wire protocol implies but
// never names explicitly: a connection's current room, if any. A request
// other than CreateRoom/JoinRoom is implicitly scoped to it.
type connState struct {
	mu   sync.Mutex
	room *room.Room
}

// Dispatcher is the single Router implementation wiring every accepted
// connection into the room registry. Constructed explicitly in
// cmd/gameserver, never a package-level global.
type Dispatcher struct {
	registry  *room.Registry
	reconnect *reconnect.Registry
	limiter   *ratelimit.RateLimiter

	mu     sync.Mutex
	states map[*transport.Client]*connState
}

var _ transport.Router = (*Dispatcher)(nil)

// NewDispatcher constructs a dispatcher. reconnectRegistry and limiter may
// be nil to disable reconnect handling or rate limiting respectively.
func NewDispatcher(registry *room.Registry, reconnectRegistry *reconnect.Registry, limiter *ratelimit.RateLimiter) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		reconnect: reconnectRegistry,
		limiter:   limiter,
		states:    make(map[*transport.Client]*connState),
	}
}

type handlerFunc func(d *Dispatcher, ctx context.Context, client *transport.Client, state *connState, env requestEnvelope) (interface{}, error)

var handlers = map[string]handlerFunc{
	"Ping":           (*Dispatcher).handlePing,
	"CreateRoom":     (*Dispatcher).handleCreateRoom,
	"JoinRoom":       (*Dispatcher).handleJoinRoom,
	"EditRoomConfig": (*Dispatcher).handleEditRoomConfig,
	"CreateTeam":     (*Dispatcher).handleCreateTeam,
	"ChangeTeam":     (*Dispatcher).handleChangeTeam,
	"StartGame":      (*Dispatcher).handleStartGame,
	"EndGame":        (*Dispatcher).handleEndGame,
	"ClaimCell":      (*Dispatcher).handleClaimCell,
	"LeaveRoom":      (*Dispatcher).handleLeaveRoom,
	"Sync":           (*Dispatcher).handleSync,
	"Kick":           (*Dispatcher).handleKick,
}

// HandleConnect installs a fresh state for client and, when reconnect
// carries a hint, replays the room membership before any request frame is
// processed.
func (d *Dispatcher) HandleConnect(ctx context.Context, client *transport.Client, reconnectHint *transport.ReconnectHint) {
	state := &connState{}
	d.mu.Lock()
	d.states[client] = state
	d.mu.Unlock()

	if reconnectHint == nil {
		return
	}

	r, ok := d.registry.Lookup(reconnectHint.RoomID)
	if !ok {
		metrics.ReconnectsTotal.WithLabelValues("expired").Inc()
		return
	}

	if _, err := r.Reconnect(client.PlayerID(), reconnectHint.SlotIndex, client); err != nil {
		logging.Info(ctx, "reconnect hint could not be applied",
			zap.String("player_id", string(client.PlayerID())), zap.Error(err))
		metrics.ReconnectsTotal.WithLabelValues("expired").Inc()
		return
	}

	metrics.ReconnectsTotal.WithLabelValues("resumed").Inc()
	state.mu.Lock()
	state.room = r
	state.mu.Unlock()
}

// HandleFrame decodes payload into a request envelope and dispatches it to
// the matching handler, sending exactly one response. A payload that does
// not decode as a request envelope is logged and dropped without a response.
func (d *Dispatcher) HandleFrame(ctx context.Context, client *transport.Client, payload []byte) {
	var env requestEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logging.Info(ctx, "dropping malformed request frame",
			zap.String("player_id", string(client.PlayerID())), zap.Error(err))
		return
	}

	handler, ok := handlers[env.Request]
	if !ok {
		d.sendError(client, env.Seq, fmt.Errorf("dispatch: unknown request %q", env.Request))
		return
	}

	if d.limiter != nil {
		if err := d.limiter.CheckAccount(ctx, string(client.PlayerID())); err != nil {
			metrics.RequestsTotal.WithLabelValues(env.Request, "rate_limited").Inc()
			d.sendError(client, env.Seq, err)
			return
		}
	}

	state := d.stateFor(client)

	start := time.Now()
	result, err := handler(d, ctx, client, state, env)
	metrics.RequestDuration.WithLabelValues(env.Request).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.RequestsTotal.WithLabelValues(env.Request, "error").Inc()
		d.sendError(client, env.Seq, err)
		return
	}

	metrics.RequestsTotal.WithLabelValues(env.Request, "ok").Inc()
	d.sendJSON(client, result)
}

// HandleClose stashes the connection's room membership into the reconnect
// registry, unless the connection left no room behind or the room was
// destroyed as a result of the disconnect.
func (d *Dispatcher) HandleClose(client *transport.Client) {
	state := d.popState(client)
	if state == nil {
		return
	}

	state.mu.Lock()
	r := state.room
	state.mu.Unlock()
	if r == nil {
		return
	}

	slotIndex, wasMember, destroyed := r.Disconnect(client.PlayerID())
	if wasMember && !destroyed && d.reconnect != nil {
		d.reconnect.Stash(client.PlayerID(), r.JoinCode, slotIndex)
	}
}

func (d *Dispatcher) stateFor(client *transport.Client) *connState {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.states[client]
	if !ok {
		state = &connState{}
		d.states[client] = state
	}
	return state
}

func (d *Dispatcher) popState(client *transport.Client) *connState {
	d.mu.Lock()
	defer d.mu.Unlock()

	state := d.states[client]
	delete(d.states, client)
	return state
}

func (d *Dispatcher) currentRoom(state *connState) (*room.Room, error) {
	state.mu.Lock()
	r := state.room
	state.mu.Unlock()

	if r == nil {
		return nil, errNotInRoom
	}
	return r, nil
}

func (d *Dispatcher) checkRoomRate(ctx context.Context, r *room.Room) error {
	if d.limiter == nil {
		return nil
	}
	return d.limiter.CheckRoom(ctx, string(r.JoinCode))
}

func (d *Dispatcher) sendJSON(client *transport.Client, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal response", zap.Error(err))
		return
	}
	client.Send(payload)
}

func (d *Dispatcher) sendError(client *transport.Client, seq uint32, err error) {
	d.sendJSON(client, errorResponse{Seq: seq, Error: err.Error()})
}

func identityOf(client *transport.Client) types.ClientInfo {
	return types.ClientInfo{PlayerID: client.PlayerID(), DisplayName: client.DisplayName()}
}
