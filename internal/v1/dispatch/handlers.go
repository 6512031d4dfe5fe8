package dispatch

import (
	"context"

	"github.com/trackmania-bingo/bingoserver/internal/v1/room"
	"github.com/trackmania-bingo/bingoserver/internal/v1/transport"
)

func (d *Dispatcher) handlePing(ctx context.Context, client *transport.Client, state *connState, env requestEnvelope) (interface{}, error) {
	return pingResponse{Seq: env.Seq, Pong: true}, nil
}

func (d *Dispatcher) handleCreateRoom(ctx context.Context, client *transport.Client, state *connState, env requestEnvelope) (interface{}, error) {
	r, result, err := d.registry.CreateRoom(env.Name, env.config(), identityOf(client), client)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	state.room = r
	state.mu.Unlock()

	return createRoomResponse{Seq: env.Seq, CreateRoomResult: result}, nil
}

func (d *Dispatcher) handleJoinRoom(ctx context.Context, client *transport.Client, state *connState, env requestEnvelope) (interface{}, error) {
	r, ok := d.registry.Lookup(env.JoinCode)
	if !ok {
		return nil, room.ErrDoesNotExist
	}

	snapshot, err := r.JoinRoom(identityOf(client), client, env.Password)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	state.room = r
	state.mu.Unlock()

	return syncResponse{Seq: env.Seq, SyncSnapshot: snapshot}, nil
}

func (d *Dispatcher) handleEditRoomConfig(ctx context.Context, client *transport.Client, state *connState, env requestEnvelope) (interface{}, error) {
	r, err := d.currentRoom(state)
	if err != nil {
		return nil, err
	}
	if err := d.checkRoomRate(ctx, r); err != nil {
		return nil, err
	}

	if err := r.EditRoomConfig(client.PlayerID(), env.config()); err != nil {
		return nil, err
	}
	return ackResponse{Seq: env.Seq}, nil
}

func (d *Dispatcher) handleCreateTeam(ctx context.Context, client *transport.Client, state *connState, env requestEnvelope) (interface{}, error) {
	r, err := d.currentRoom(state)
	if err != nil {
		return nil, err
	}
	if err := d.checkRoomRate(ctx, r); err != nil {
		return nil, err
	}

	team, err := r.CreateTeam(client.PlayerID())
	if err != nil {
		return nil, err
	}
	return createTeamResponse{Seq: env.Seq, Team: team}, nil
}

func (d *Dispatcher) handleChangeTeam(ctx context.Context, client *transport.Client, state *connState, env requestEnvelope) (interface{}, error) {
	r, err := d.currentRoom(state)
	if err != nil {
		return nil, err
	}
	if err := d.checkRoomRate(ctx, r); err != nil {
		return nil, err
	}

	if err := r.ChangeTeam(client.PlayerID(), env.TeamIndex); err != nil {
		return nil, err
	}
	return ackResponse{Seq: env.Seq}, nil
}

func (d *Dispatcher) handleStartGame(ctx context.Context, client *transport.Client, state *connState, env requestEnvelope) (interface{}, error) {
	r, err := d.currentRoom(state)
	if err != nil {
		return nil, err
	}
	if err := d.checkRoomRate(ctx, r); err != nil {
		return nil, err
	}

	if err := r.StartGame(client.PlayerID()); err != nil {
		return nil, err
	}
	return ackResponse{Seq: env.Seq}, nil
}

func (d *Dispatcher) handleEndGame(ctx context.Context, client *transport.Client, state *connState, env requestEnvelope) (interface{}, error) {
	r, err := d.currentRoom(state)
	if err != nil {
		return nil, err
	}
	if err := d.checkRoomRate(ctx, r); err != nil {
		return nil, err
	}

	if err := r.EndGame(client.PlayerID()); err != nil {
		return nil, err
	}
	return ackResponse{Seq: env.Seq}, nil
}

func (d *Dispatcher) handleClaimCell(ctx context.Context, client *transport.Client, state *connState, env requestEnvelope) (interface{}, error) {
	r, err := d.currentRoom(state)
	if err != nil {
		return nil, err
	}
	if err := d.checkRoomRate(ctx, r); err != nil {
		return nil, err
	}

	if err := r.ClaimCell(client.PlayerID(), env.MapUID, env.TimeMs, env.Medal); err != nil {
		return nil, err
	}
	return ackResponse{Seq: env.Seq}, nil
}

func (d *Dispatcher) handleLeaveRoom(ctx context.Context, client *transport.Client, state *connState, env requestEnvelope) (interface{}, error) {
	r, err := d.currentRoom(state)
	if err != nil {
		return nil, err
	}

	if err := r.LeaveRoom(client.PlayerID()); err != nil {
		return nil, err
	}

	state.mu.Lock()
	state.room = nil
	state.mu.Unlock()

	return ackResponse{Seq: env.Seq}, nil
}

func (d *Dispatcher) handleSync(ctx context.Context, client *transport.Client, state *connState, env requestEnvelope) (interface{}, error) {
	r, err := d.currentRoom(state)
	if err != nil {
		return nil, err
	}

	snapshot, err := r.Sync(client.PlayerID())
	if err != nil {
		return nil, err
	}
	return syncResponse{Seq: env.Seq, SyncSnapshot: snapshot}, nil
}

func (d *Dispatcher) handleKick(ctx context.Context, client *transport.Client, state *connState, env requestEnvelope) (interface{}, error) {
	r, err := d.currentRoom(state)
	if err != nil {
		return nil, err
	}
	if err := d.checkRoomRate(ctx, r); err != nil {
		return nil, err
	}

	if err := r.Kick(client.PlayerID(), env.Target); err != nil {
		return nil, err
	}
	return ackResponse{Seq: env.Seq}, nil
}
