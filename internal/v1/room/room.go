package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trackmania-bingo/bingoserver/internal/v1/channelfabric"
	"github.com/trackmania-bingo/bingoserver/internal/v1/logging"
	"github.com/trackmania-bingo/bingoserver/internal/v1/mapqueue"
	"github.com/trackmania-bingo/bingoserver/internal/v1/metrics"
	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

// Room is the primary aggregate: membership, teams, configuration, map
// list, and grid state for one live lobby/game. All mutation is serialized
// by mu; handlers run to completion on the caller's goroutine while holding
// it, and never suspend (socket I/O, HTTP calls) while it is held.
type Room struct {
	mu sync.Mutex

	JoinCode  types.RoomIDType
	Name      string
	Config    Configuration
	CreatedAt time.Time

	slots []*Slot
	teams []Team
	maps  []types.MapRecord
	game  *ActiveGame
	phase types.RoomPhase

	gameTimer *time.Timer

	roomChannel  channelfabric.Handle
	teamChannels []channelfabric.Handle

	fabric     *channelfabric.Fabric
	prefetcher *mapqueue.Prefetcher
	bus        types.BusService
	onEmpty    func(types.RoomIDType)

	mailboxes map[types.PlayerIDType]types.MailboxClient
}

// newRoom constructs a room in Lobby phase with two default teams and
// subscribes its creator as the sole operator. Only the registry calls this.
func newRoom(joinCode types.RoomIDType, name string, cfg Configuration, creator types.ClientInfo, mailbox types.MailboxClient, fabric *channelfabric.Fabric, prefetcher *mapqueue.Prefetcher, bus types.BusService, onEmpty func(types.RoomIDType)) *Room {
	r := &Room{
		JoinCode:   joinCode,
		Name:       name,
		Config:     cfg,
		CreatedAt:  time.Now(),
		phase:      types.PhaseLobby,
		fabric:     fabric,
		prefetcher: prefetcher,
		bus:        bus,
		onEmpty:    onEmpty,
		mailboxes:  make(map[types.PlayerIDType]types.MailboxClient),
	}

	r.roomChannel = fabric.Open()

	first := drawTeam()
	r.teams = append(r.teams, first, drawTeamExcluding(first))

	r.slots = append(r.slots, &Slot{
		Identity:  creator,
		TeamIndex: -1,
		Operator:  true,
		JoinedAt:  r.CreatedAt,
	})
	r.mailboxes[creator.PlayerID] = mailbox
	r.fabric.Subscribe(r.roomChannel, mailbox)

	metrics.ActiveRooms.Inc()
	metrics.RoomMembers.WithLabelValues(string(joinCode)).Set(1)

	return r
}

func drawTeam() Team {
	idx := randIndex(len(defaultPalette))
	entry := defaultPalette[idx]
	return Team{Index: 0, Name: entry.Name, Color: entry.Color}
}

func drawTeamExcluding(existing Team) Team {
	for {
		idx := randIndex(len(defaultPalette))
		entry := defaultPalette[idx]
		if entry.Name != existing.Name {
			return Team{Index: 1, Name: entry.Name, Color: entry.Color}
		}
	}
}

// Phase reports the room's current lifecycle position.
func (r *Room) Phase() types.RoomPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Room) findSlot(playerID types.PlayerIDType) (*Slot, int) {
	for i, s := range r.slots {
		if s.Identity.PlayerID == playerID {
			return s, i
		}
	}
	return nil, -1
}

// broadcast delivers event to every room-channel subscriber's routine
// mailbox: RoomUpdate, RoomConfigUpdate, GameStart, and successful
// MapsLoadResult events.
func (r *Room) broadcast(event interface{}) {
	payload := r.marshalEvent(event)
	if payload == nil {
		return
	}
	r.fabric.Broadcast(r.roomChannel, payload)
	r.publishToBus(payload)
}

// broadcastPriority delivers event ahead of a subscriber's routine backlog:
// cell claims, bingo announcements, map-load failures, and the GameEnd
// notice that precedes the room's destruction.
func (r *Room) broadcastPriority(event interface{}) {
	payload := r.marshalEvent(event)
	if payload == nil {
		return
	}
	r.fabric.BroadcastPriority(r.roomChannel, payload)
	r.publishToBus(payload)
}

func (r *Room) marshalEvent(event interface{}) []byte {
	payload, err := json.Marshal(event)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal room event", zap.Error(err))
		return nil
	}
	return payload
}

func (r *Room) publishToBus(payload []byte) {
	if r.bus != nil {
		_ = r.bus.PublishRoomEvent(context.Background(), r.JoinCode, payload)
	}
}

func (r *Room) broadcastRoomUpdateLocked() {
	members := make([]memberView, 0, len(r.slots))
	for _, s := range r.slots {
		members = append(members, slotView(s))
	}
	r.broadcast(roomUpdateEvent{Event: "RoomUpdate", Members: members, Teams: append([]Team(nil), r.teams...)})
}

// JoinRoom adds joiner as a non-operator member and subscribes their
// mailbox to the room channel. The existing members receive a RoomUpdate
// before the joiner is subscribed, so the joiner's first delivery is their
// own response rather than a duplicate of the update they caused.
func (r *Room) JoinRoom(joiner types.ClientInfo, mailbox types.MailboxClient, password string) (SyncSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != types.PhaseLobby {
		return SyncSnapshot{}, ErrHasStarted
	}
	if r.Config.Password != "" && r.Config.Password != password {
		return SyncSnapshot{}, ErrWrongPassword
	}
	if r.Config.SizeLimit > 0 && len(r.slots) >= r.Config.SizeLimit {
		return SyncSnapshot{}, ErrPlayerLimitReached
	}
	if existing, _ := r.findSlot(joiner.PlayerID); existing != nil {
		return r.syncLocked(joiner.PlayerID), nil
	}

	r.slots = append(r.slots, &Slot{
		Identity:  joiner,
		TeamIndex: -1,
		JoinedAt:  time.Now(),
	})

	r.broadcastRoomUpdateLocked()

	r.mailboxes[joiner.PlayerID] = mailbox
	r.fabric.Subscribe(r.roomChannel, mailbox)
	metrics.RoomMembers.WithLabelValues(string(r.JoinCode)).Set(float64(len(r.slots)))

	return r.syncLocked(joiner.PlayerID), nil
}

// EditRoomConfig applies a new configuration, operator-only. When the map
// selection mode or grid size changed, the current map list is reconciled
// against the new cell count with surplus returned and deficit fetched.
func (r *Room) EditRoomConfig(callerID types.PlayerIDType, newCfg Configuration) error {
	r.mu.Lock()
	slot, _ := r.findSlot(callerID)
	if slot == nil {
		r.mu.Unlock()
		return ErrNotMember
	}
	if !slot.Operator {
		r.mu.Unlock()
		return ErrNotOperator
	}

	oldCfg := r.Config
	r.Config = newCfg
	needsReconcile := oldCfg.Selection != newCfg.Selection || oldCfg.GridSize != newCfg.GridSize
	oldMaps := append([]types.MapRecord(nil), r.maps...)
	oldSelection := oldCfg.Selection
	r.broadcastRoomUpdateConfigLocked()
	r.mu.Unlock()

	if !needsReconcile || r.prefetcher == nil {
		return nil
	}

	go r.reconcileMaps(oldSelection, oldMaps, newCfg)
	return nil
}

func (r *Room) broadcastRoomUpdateConfigLocked() {
	r.broadcast(roomConfigUpdateEvent{Event: "RoomConfigUpdate", Config: r.Config})
}

func (r *Room) reconcileMaps(oldSelection types.SelectionMode, oldMaps []types.MapRecord, newCfg Configuration) {
	target := newCfg.CellCount()

	if oldSelection != newCfg.Selection {
		r.prefetcher.ExtendMaps(oldSelection, oldMaps)
		oldMaps = nil
	}

	var fetchErr error
	var fresh []types.MapRecord

	switch {
	case len(oldMaps) > target:
		surplus := oldMaps[target:]
		r.prefetcher.ExtendMaps(newCfg.Selection, surplus)
		fresh = oldMaps[:target]
	case len(oldMaps) < target:
		deficit := target - len(oldMaps)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		got, err := r.prefetcher.GetMaps(ctx, newCfg.Selection, newCfg.MappackID, deficit)
		cancel()
		if err != nil {
			fetchErr = err
		} else {
			fresh = append(append([]types.MapRecord(nil), oldMaps...), got...)
		}
	default:
		fresh = oldMaps
	}

	r.mu.Lock()
	if fetchErr == nil {
		r.maps = fresh
	}
	r.mu.Unlock()

	if fetchErr != nil {
		r.broadcastPriority(mapsLoadResultEvent{Event: "MapsLoadResult", Error: fetchErr.Error()})
	} else {
		r.broadcast(mapsLoadResultEvent{Event: "MapsLoadResult"})
	}
}

// CreateTeam draws an unused palette entry, operator-only.
func (r *Room) CreateTeam(callerID types.PlayerIDType) (Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, _ := r.findSlot(callerID)
	if slot == nil {
		return Team{}, ErrNotMember
	}
	if !slot.Operator {
		return Team{}, ErrNotOperator
	}
	if len(r.teams) >= len(defaultPalette) {
		return Team{}, nil
	}

	used := make(map[string]bool, len(r.teams))
	for _, t := range r.teams {
		used[t.Name] = true
	}

	var candidates []paletteEntry
	for _, e := range defaultPalette {
		if !used[e.Name] {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return Team{}, nil
	}

	pick := candidates[randIndex(len(candidates))]
	team := Team{Index: len(r.teams), Name: pick.Name, Color: pick.Color}
	r.teams = append(r.teams, team)

	r.broadcastRoomUpdateLocked()
	return team, nil
}

// ChangeTeam reassigns callerID to teamIndex.
func (r *Room) ChangeTeam(callerID types.PlayerIDType, teamIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, _ := r.findSlot(callerID)
	if slot == nil {
		return ErrNotMember
	}
	if teamIndex < 0 || teamIndex >= len(r.teams) {
		return ErrTeamNotFound
	}

	slot.TeamIndex = teamIndex
	r.broadcastRoomUpdateLocked()
	return nil
}

// StartGame transitions Lobby → InGame, operator-only, requiring a complete
// map list. When the configuration carries a nonzero time limit, a timer is
// armed that ends the round automatically if no earlier trigger (EndGame,
// every cell claimed) already has.
func (r *Room) StartGame(callerID types.PlayerIDType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, _ := r.findSlot(callerID)
	if slot == nil {
		return ErrNotMember
	}
	if !slot.Operator {
		return ErrNotOperator
	}
	if r.phase != types.PhaseLobby {
		return ErrHasStarted
	}
	if len(r.maps) != r.Config.CellCount() {
		return ErrIncompleteMaps
	}

	cells := make([]Cell, len(r.maps))
	for i, m := range r.maps {
		cells[i] = Cell{MapUID: m.UID}
	}

	r.game = &ActiveGame{
		StartedAt: time.Now(),
		Cells:     cells,
		WonLines:  make(map[lineKey]bool),
	}
	r.phase = types.PhaseInGame

	if r.Config.TimeLimitSeconds > 0 {
		r.gameTimer = time.AfterFunc(time.Duration(r.Config.TimeLimitSeconds)*time.Second, r.onTimeLimitExpired)
	}

	r.broadcast(gameStartEvent{Event: "GameStart", Maps: append([]types.MapRecord(nil), r.maps...)})
	return nil
}

// EndGame transitions InGame → Terminated immediately, operator-only.
func (r *Room) EndGame(callerID types.PlayerIDType) error {
	r.mu.Lock()

	slot, _ := r.findSlot(callerID)
	if slot == nil {
		r.mu.Unlock()
		return ErrNotMember
	}
	if !slot.Operator {
		r.mu.Unlock()
		return ErrNotOperator
	}
	if r.phase != types.PhaseInGame || r.game == nil {
		r.mu.Unlock()
		return ErrGameNotActive
	}

	r.endGameLocked("explicit")
	r.mu.Unlock()

	r.destroy()
	return nil
}

// onTimeLimitExpired fires from the timer armed by StartGame. It is a
// no-op if the round already ended through some other trigger.
func (r *Room) onTimeLimitExpired() {
	r.mu.Lock()
	if r.phase != types.PhaseInGame || r.game == nil {
		r.mu.Unlock()
		return
	}
	r.endGameLocked("time_limit")
	r.mu.Unlock()

	r.destroy()
}

// endGameLocked tears down the active round and broadcasts the terminating
// event. Caller holds r.mu and is responsible for calling destroy() after
// releasing it.
func (r *Room) endGameLocked(reason string) {
	r.game = nil
	r.broadcastPriority(gameEndEvent{Event: "GameEnd", Reason: reason})
}

// ClaimCell arbitrates a medal-time claim against the required medal and
// any existing claim, then runs bingo detection on acceptance. If the
// claim fills the last empty cell, the round ends automatically.
func (r *Room) ClaimCell(callerID types.PlayerIDType, mapUID string, timeMs int64, medal types.Medal) error {
	r.mu.Lock()

	slot, _ := r.findSlot(callerID)
	if slot == nil {
		r.mu.Unlock()
		return ErrNotMember
	}
	if r.phase != types.PhaseInGame || r.game == nil {
		r.mu.Unlock()
		return ErrGameNotActive
	}

	cellIdx := -1
	for i, c := range r.game.Cells {
		if c.MapUID == mapUID {
			cellIdx = i
			break
		}
	}
	if cellIdx == -1 {
		r.mu.Unlock()
		return ErrUnknownMap
	}

	if !medal.MeetsOrBeats(r.Config.RequiredMedal) {
		metrics.ClaimsTotal.WithLabelValues("rejected_medal").Inc()
		r.mu.Unlock()
		return ErrMedalTooLow
	}

	current := r.game.Cells[cellIdx].Claim
	accepted := current == nil || medal.Better(current.Medal) || (medal == current.Medal && timeMs < current.TimeMs)
	if !accepted {
		metrics.ClaimsTotal.WithLabelValues("rejected_worse").Inc()
		r.mu.Unlock()
		return ErrClaimNotBetter
	}

	claim := Claim{
		Player:    slot.Identity,
		TeamIndex: slot.TeamIndex,
		TimeMs:    timeMs,
		Medal:     medal,
	}
	r.game.Cells[cellIdx].Claim = &claim
	metrics.ClaimsTotal.WithLabelValues("accepted").Inc()

	r.broadcastPriority(cellClaimEvent{Event: "CellClaim", CellID: cellIdx, Claim: claim})

	for _, line := range checkNewBingos(r.game, r.Config.GridSize) {
		team := lineWinningTeam(r.game, line, r.Config.GridSize)
		metrics.BingosAnnounced.Inc()
		r.broadcastPriority(announceBingoEvent{Event: "AnnounceBingo", Direction: line.Direction, Index: line.Index, Team: team})
	}

	allClaimed := true
	for _, c := range r.game.Cells {
		if c.Claim == nil {
			allClaimed = false
			break
		}
	}

	roundEnded := false
	if allClaimed {
		r.endGameLocked("all_claimed")
		roundEnded = true
	}
	r.mu.Unlock()

	if roundEnded {
		r.destroy()
	}
	return nil
}

// LeaveRoom removes callerID's slot entirely (a self-initiated, permanent
// departure).
func (r *Room) LeaveRoom(callerID types.PlayerIDType) error {
	r.mu.Lock()

	_, idx := r.findSlot(callerID)
	if idx == -1 {
		r.mu.Unlock()
		return ErrNotMember
	}

	destroyed := r.departLocked(idx, true)
	if !destroyed {
		r.broadcastRoomUpdateLocked()
	}
	r.mu.Unlock()

	if destroyed {
		r.destroy()
	}
	return nil
}

// Kick removes targetID's slot, operator-only, distinct from a self-initiated
// departure.
func (r *Room) Kick(callerID, targetID types.PlayerIDType) error {
	r.mu.Lock()

	caller, _ := r.findSlot(callerID)
	if caller == nil {
		r.mu.Unlock()
		return ErrNotMember
	}
	if !caller.Operator {
		r.mu.Unlock()
		return ErrNotOperator
	}

	target, idx := r.findSlot(targetID)
	if target == nil {
		r.mu.Unlock()
		return ErrNotMember
	}

	mailbox := r.mailboxes[targetID]
	destroyed := r.departLocked(idx, true)
	if !destroyed {
		r.broadcastRoomUpdateLocked()
	}
	r.mu.Unlock()

	if mailbox != nil {
		mailbox.Disconnect()
	}
	if destroyed {
		r.destroy()
	}
	return nil
}

// Disconnect marks callerID's slot disconnected without removing it,
// applying the same operator-succession rule a permanent departure would.
// The room is destroyed immediately if the disconnecting operator leaves no
// other member behind; otherwise the slot lingers for the caller's
// reconnect window. Returns the slot index for the caller's ReconnectRecord.
func (r *Room) Disconnect(callerID types.PlayerIDType) (slotIndex int, wasMember bool, roomDestroyed bool) {
	r.mu.Lock()

	slot, idx := r.findSlot(callerID)
	if slot == nil {
		r.mu.Unlock()
		return -1, false, false
	}

	slot.Disconnected = true
	destroyed := r.departLocked(idx, false)
	if !destroyed {
		r.broadcastRoomUpdateLocked()
	}
	r.mu.Unlock()

	if destroyed {
		r.destroy()
	}
	return idx, true, destroyed
}

// departLocked applies the operator-succession rule for a member leaving
// slots[idx], either permanently (removeSlot) or via disconnect (kept for
// reconnect, operator status cleared immediately if held). Returns whether
// the room should be destroyed as a result. Caller holds r.mu.
func (r *Room) departLocked(idx int, removeSlot bool) bool {
	departing := r.slots[idx]
	wasOperator := departing.Operator

	var remaining []*Slot
	for i, s := range r.slots {
		if i != idx {
			remaining = append(remaining, s)
		}
	}

	if wasOperator && len(remaining) == 0 {
		if removeSlot {
			r.slots = nil
		}
		return true
	}

	if removeSlot {
		r.slots = remaining
		delete(r.mailboxes, departing.Identity.PlayerID)
		r.fabric.Unsubscribe(r.roomChannel, departing.Identity.PlayerID)
	} else {
		departing.Operator = false
	}

	if wasOperator {
		var longest *Slot
		for _, s := range remaining {
			if longest == nil || s.JoinedAt.Before(longest.JoinedAt) {
				longest = s
			}
		}
		if longest != nil {
			longest.Operator = true
		}
	}

	metrics.RoomMembers.WithLabelValues(string(r.JoinCode)).Set(float64(len(r.slots)))
	return false
}

func (r *Room) destroy() {
	r.mu.Lock()
	r.phase = types.PhaseTerminated
	if r.gameTimer != nil {
		r.gameTimer.Stop()
	}
	r.mu.Unlock()

	r.fabric.Close(r.roomChannel)
	metrics.ActiveRooms.Dec()
	metrics.RoomMembers.DeleteLabelValues(string(r.JoinCode))

	if r.onEmpty != nil {
		r.onEmpty(r.JoinCode)
	}
}

// Reconnect restores a previously disconnected slot for playerID at
// slotIndex, marking it connected again and installing the new mailbox.
func (r *Room) Reconnect(playerID types.PlayerIDType, slotIndex int, mailbox types.MailboxClient) (SyncSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slotIndex < 0 || slotIndex >= len(r.slots) {
		return SyncSnapshot{}, ErrSlotGone
	}
	slot := r.slots[slotIndex]
	if slot.Identity.PlayerID != playerID {
		return SyncSnapshot{}, ErrSlotGone
	}

	slot.Disconnected = false
	r.mailboxes[playerID] = mailbox
	r.fabric.Subscribe(r.roomChannel, mailbox)

	r.broadcastRoomUpdateLocked()
	return r.syncLocked(playerID), nil
}

// Sync returns the full room snapshot for a reconnected or refreshing
// client.
func (r *Room) Sync(callerID types.PlayerIDType) (SyncSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slot, _ := r.findSlot(callerID); slot == nil {
		return SyncSnapshot{}, ErrNotMember
	}
	return r.syncLocked(callerID), nil
}

func (r *Room) syncLocked(callerID types.PlayerIDType) SyncSnapshot {
	slot, _ := r.findSlot(callerID)
	host := slot != nil && slot.Operator

	members := make([]memberView, 0, len(r.slots))
	for _, s := range r.slots {
		members = append(members, slotView(s))
	}

	var gameView *ActiveGameView
	if r.game != nil {
		cells := make([]Cell, len(r.game.Cells))
		copy(cells, r.game.Cells)
		gameView = &ActiveGameView{StartedAt: r.game.StartedAt, Cells: cells}
	}

	return SyncSnapshot{
		Name:     r.Name,
		JoinCode: r.JoinCode,
		Host:     host,
		Config:   r.Config,
		Members:  members,
		Teams:    append([]Team(nil), r.teams...),
		Maps:     append([]types.MapRecord(nil), r.maps...),
		Game:     gameView,
	}
}

// SetMaps installs a freshly fetched map list, used by the registry right
// after room creation once the prefetcher has returned the grid.
func (r *Room) SetMaps(maps []types.MapRecord) {
	r.mu.Lock()
	r.maps = maps
	r.mu.Unlock()

	r.broadcast(mapsLoadResultEvent{Event: "MapsLoadResult"})
}

// SetMapsError reports a map-fetch failure for the room.
func (r *Room) SetMapsError(err error) {
	r.broadcastPriority(mapsLoadResultEvent{Event: "MapsLoadResult", Error: err.Error()})
}

// ActiveGameView is the wire-safe snapshot of an ActiveGame.
type ActiveGameView struct {
	StartedAt time.Time `json:"start_time"`
	Cells     []Cell    `json:"cells"`
}

// SyncSnapshot is the response payload for JoinRoom/Sync/Reconnect.
type SyncSnapshot struct {
	Name     string            `json:"name"`
	JoinCode types.RoomIDType  `json:"join_code"`
	Host     bool              `json:"host"`
	Config   Configuration     `json:"config"`
	Members  []memberView      `json:"members"`
	Teams    []Team            `json:"teams"`
	Maps     []types.MapRecord `json:"maps"`
	Game     *ActiveGameView   `json:"game,omitempty"`
}
