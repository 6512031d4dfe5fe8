package room

import "github.com/trackmania-bingo/bingoserver/internal/v1/types"

// memberView is the wire projection of one Slot.
type memberView struct {
	PlayerID     types.PlayerIDType    `json:"player_id"`
	DisplayName  types.DisplayNameType `json:"display_name"`
	TeamIndex    int                   `json:"team"`
	Operator     bool                  `json:"operator"`
	Disconnected bool                  `json:"disconnected"`
}

func slotView(s *Slot) memberView {
	return memberView{
		PlayerID:     s.Identity.PlayerID,
		DisplayName:  s.Identity.DisplayName,
		TeamIndex:    s.TeamIndex,
		Operator:     s.Operator,
		Disconnected: s.Disconnected,
	}
}

type roomUpdateEvent struct {
	Event   string       `json:"event"`
	Members []memberView `json:"members"`
	Teams   []Team       `json:"teams"`
}

type roomConfigUpdateEvent struct {
	Event  string        `json:"event"`
	Config Configuration `json:"config"`
}

type mapsLoadResultEvent struct {
	Event string `json:"event"`
	Error string `json:"error,omitempty"`
}

type gameStartEvent struct {
	Event string            `json:"event"`
	Maps  []types.MapRecord `json:"maps"`
}

type cellClaimEvent struct {
	Event  string `json:"event"`
	CellID int    `json:"cell_id"`
	Claim  Claim  `json:"claim"`
}

// gameEndEvent announces the InGame → Terminated transition. Reason is
// one of "explicit", "all_claimed", or "time_limit".
type gameEndEvent struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
}

type announceBingoEvent struct {
	Event     string `json:"event"`
	Direction int    `json:"direction"`
	Index     int    `json:"index"`
	Team      int    `json:"team"`
}
