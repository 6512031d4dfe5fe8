// Package room implements the room registry and per-room game logic: team
// assignment, grid state, cell-claim arbitration, bingo detection, and the
// lobby → in-game → terminated lifecycle.
package room

import (
	"time"

	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

// Configuration holds the tunable settings of a room, editable by its
// operator between games.
type Configuration struct {
	SizeLimit        int                 `json:"size"`
	Visibility       types.Visibility    `json:"-"`
	Password         string              `json:"-"`
	RandomizeTeams   bool                `json:"randomize"`
	ChatEnabled      bool                `json:"chat_enabled"`
	GridSize         int                 `json:"grid_size"`
	Selection        types.SelectionMode `json:"selection"`
	RequiredMedal    types.Medal         `json:"medal"`
	TimeLimitSeconds int                 `json:"time_limit"`
	MappackID        string              `json:"mappack_id,omitempty"`
}

// CellCount is the number of cells in the grid, grid_size squared.
func (c Configuration) CellCount() int { return c.GridSize * c.GridSize }

// Slot is one member's seat in a room.
type Slot struct {
	Identity     types.ClientInfo
	TeamIndex    int // -1 means unassigned
	Operator     bool
	Disconnected bool
	JoinedAt     time.Time
}

// Team is a dense-indexed, named, colored faction within a room.
type Team struct {
	Index int    `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Claim is a snapshot of the player who most recently won a cell.
type Claim struct {
	Player    types.ClientInfo `json:"player"`
	TeamIndex int              `json:"team"`
	TimeMs    int64            `json:"time"`
	Medal     types.Medal      `json:"medal"`
}

// Cell is one square of the grid.
type Cell struct {
	MapUID string `json:"map_uid"`
	Claim  *Claim `json:"claim,omitempty"`
}

// ActiveGame is the live-round state created by StartGame. It is torn
// down (Room.game set to nil) the moment the round ends, whether by an
// explicit EndGame, every cell being claimed, or the configured time
// limit elapsing.
type ActiveGame struct {
	StartedAt time.Time
	Cells     []Cell
	WonLines  map[lineKey]bool
}

// lineKey identifies one candidate bingo line for win-tracking.
type lineKey struct {
	Direction int
	Index     int
}

// Bingo direction encoding, per the wire protocol.
const (
	DirectionHorizontal = 1
	DirectionVertical   = 2
	DirectionDiagonal   = 3
)
