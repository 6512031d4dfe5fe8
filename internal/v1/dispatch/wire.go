package dispatch

import (
	"github.com/trackmania-bingo/bingoserver/internal/v1/room"
	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

// requestEnvelope is the flat union of every request's fields, keyed by the
// Request tag. Parsing into one struct keeps the wire decode a single pass;
// handlers read only the fields their request name defines.
type requestEnvelope struct {
	Seq     uint32 `json:"seq"`
	Request string `json:"request"`

	// CreateRoom / EditRoomConfig
	Name             string              `json:"name"`
	SizeLimit        int                 `json:"size"`
	RandomizeTeams   bool                `json:"randomize"`
	ChatEnabled      bool                `json:"chat_enabled"`
	GridSize         int                 `json:"grid_size"`
	Selection        types.SelectionMode `json:"selection"`
	Medal            types.Medal         `json:"medal"`
	TimeLimitSeconds int                 `json:"time_limit"`
	MappackID        string              `json:"mappack_id,omitempty"`
	Password         string              `json:"password,omitempty"`

	// JoinRoom
	JoinCode types.RoomIDType `json:"join_code,omitempty"`

	// CreateTeam / ChangeTeam
	TeamIndex int `json:"team,omitempty"`

	// ClaimCell
	MapUID string `json:"map_uid,omitempty"`
	TimeMs int64  `json:"time_ms,omitempty"`

	// Kick
	Target types.PlayerIDType `json:"target,omitempty"`
}

func (env requestEnvelope) config() room.Configuration {
	return room.Configuration{
		SizeLimit:        env.SizeLimit,
		RandomizeTeams:   env.RandomizeTeams,
		ChatEnabled:      env.ChatEnabled,
		GridSize:         env.GridSize,
		Selection:        env.Selection,
		RequiredMedal:    env.Medal,
		TimeLimitSeconds: env.TimeLimitSeconds,
		MappackID:        env.MappackID,
		Password:         env.Password,
	}
}

type errorResponse struct {
	Seq   uint32 `json:"seq"`
	Error string `json:"error"`
}

type ackResponse struct {
	Seq uint32 `json:"seq"`
}

type pingResponse struct {
	Seq  uint32 `json:"seq"`
	Pong bool   `json:"pong"`
}

type createRoomResponse struct {
	Seq uint32 `json:"seq"`
	room.CreateRoomResult
}

type syncResponse struct {
	Seq uint32 `json:"seq"`
	room.SyncSnapshot
}

type createTeamResponse struct {
	Seq uint32 `json:"seq"`
	room.Team
}
