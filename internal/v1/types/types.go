// Package types defines shared domain types, wire protocol structs, and the
// interfaces that let the room package interact with the transport layer
// without importing it.
package types

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// --- Identifiers ---

// PlayerIDType is the stable account identifier returned by the identity service.
type PlayerIDType string

// RoomIDType is a room's join code.
type RoomIDType string

// DisplayNameType is a human-readable player name.
type DisplayNameType string

// --- Domain enums ---

// Medal is an ordered race-time quality level. Better medals always beat
// worse ones regardless of elapsed time.
type Medal int

const (
	MedalNone Medal = iota
	MedalBronze
	MedalSilver
	MedalGold
	MedalAuthor
)

// Better reports whether m is a strictly better medal than other.
func (m Medal) Better(other Medal) bool { return m > other }

// MeetsOrBeats reports whether m is at least as good as required.
func (m Medal) MeetsOrBeats(required Medal) bool {
	if required == MedalNone {
		return false
	}
	return m >= required
}

// medalWireValue maps Medal to the wire discriminant the game client uses,
// which orders Author first (0) and None last (4) — the reverse of this
// package's own ordering, which sorts worst-to-best so Better/MeetsOrBeats
// can compare with plain integer operators.
var medalWireValue = map[Medal]int{
	MedalAuthor: 0,
	MedalGold:   1,
	MedalSilver: 2,
	MedalBronze: 3,
	MedalNone:   4,
}

var medalFromWireValue = map[int]Medal{
	0: MedalAuthor,
	1: MedalGold,
	2: MedalSilver,
	3: MedalBronze,
	4: MedalNone,
}

// MarshalJSON encodes m as the wire discriminant, not the Go iota value.
func (m Medal) MarshalJSON() ([]byte, error) {
	wire, ok := medalWireValue[m]
	if !ok {
		return nil, fmt.Errorf("types: invalid medal %d", int(m))
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the wire discriminant into m.
func (m *Medal) UnmarshalJSON(data []byte) error {
	var wire int
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	medal, ok := medalFromWireValue[wire]
	if !ok {
		return fmt.Errorf("types: invalid medal %d", wire)
	}
	*m = medal
	return nil
}

// SelectionMode controls where a room's maps come from.
type SelectionMode int

const (
	SelectionTOTD SelectionMode = iota
	SelectionRandomTMX
	SelectionMappack
)

// Visibility controls whether a room is discoverable.
type Visibility int

const (
	VisibilityPublic Visibility = iota
	VisibilityPrivate
)

// RoomPhase is the per-room state machine position.
type RoomPhase int

const (
	PhaseLobby RoomPhase = iota
	PhaseInGame
	PhaseTerminated
)

// --- Shared value types ---

// MapRecord is one race map as returned by the map catalogue.
type MapRecord struct {
	TrackID    string `json:"track_id"`
	UID        string `json:"uid"`
	Name       string `json:"name"`
	AuthorName string `json:"author_name"`
}

// ClientInfo identifies a player for snapshot/event payloads.
type ClientInfo struct {
	PlayerID    PlayerIDType    `json:"player_id"`
	DisplayName DisplayNameType `json:"display_name"`
}

// ValidateDisplayName rejects degenerate display names before they are echoed
// back into broadcast events.
func ValidateDisplayName(name DisplayNameType) error {
	if len(name) == 0 {
		return errors.New("display name cannot be empty")
	}
	if len(name) > 64 {
		return errors.New("display name too long")
	}
	return nil
}

// --- Shared interfaces ---

// IdentityValidator authenticates an opaque handshake token against the
// external identity provider.
type IdentityValidator interface {
	Validate(ctx context.Context, token string) (PlayerIDType, DisplayNameType, error)
}

// BusService is the interface for distributed pub/sub fan-out across
// process instances. Every implementation must be nil-safe: a nil *Service
// means single-instance mode and every method becomes a no-op.
type BusService interface {
	PublishRoomEvent(ctx context.Context, roomID RoomIDType, eventJSON []byte) error
	Subscribe(ctx context.Context, roomID RoomIDType, handler func(eventJSON []byte)) error
	Close() error
}

// MailboxClient is the behavior the room/channel packages need from a live
// connection, without depending on the transport package directly.
type MailboxClient interface {
	PlayerID() PlayerIDType
	DisplayName() DisplayNameType
	Send(payload []byte)
	SendPriority(payload []byte)
	Disconnect()
	// Closed reports whether the connection's mailbox has already torn
	// down, standing in for a weak reference that failed to upgrade.
	Closed() bool
}
