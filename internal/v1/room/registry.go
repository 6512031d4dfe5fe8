package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trackmania-bingo/bingoserver/internal/v1/channelfabric"
	"github.com/trackmania-bingo/bingoserver/internal/v1/logging"
	"github.com/trackmania-bingo/bingoserver/internal/v1/mapqueue"
	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

const maxJoinCodeAttempts = 32

// Registry owns every live Room, keyed by join code. A single registry lock
// protects insert/remove/lookup; it is always released before a room's own
// lock is acquired (registry → room → channel).
type Registry struct {
	mu    sync.Mutex
	rooms map[types.RoomIDType]*Room

	fabric     *channelfabric.Fabric
	prefetcher *mapqueue.Prefetcher
	bus        types.BusService
}

// NewRegistry constructs an empty room registry. Constructed explicitly in
// cmd/gameserver and threaded through, never a package-level global.
func NewRegistry(fabric *channelfabric.Fabric, prefetcher *mapqueue.Prefetcher, bus types.BusService) *Registry {
	return &Registry{
		rooms:      make(map[types.RoomIDType]*Room),
		fabric:     fabric,
		prefetcher: prefetcher,
		bus:        bus,
	}
}

// CreateRoomResult is the response payload for a successful CreateRoom.
type CreateRoomResult struct {
	Name     string           `json:"name"`
	JoinCode types.RoomIDType `json:"join_code"`
	MaxTeams int              `json:"max_teams"`
	Teams    []Team           `json:"teams"`
}

// CreateRoom allocates a unique join code, seeds two default teams,
// subscribes the creator as operator, and asynchronously pre-loads the
// grid's map list via the Map Prefetcher.
func (reg *Registry) CreateRoom(name string, cfg Configuration, creator types.ClientInfo, mailbox types.MailboxClient) (*Room, CreateRoomResult, error) {
	joinCode, err := reg.allocateJoinCode()
	if err != nil {
		return nil, CreateRoomResult{}, err
	}

	r := newRoom(joinCode, name, cfg, creator, mailbox, reg.fabric, reg.prefetcher, reg.bus, reg.removeRoom)

	reg.mu.Lock()
	reg.rooms[joinCode] = r
	reg.mu.Unlock()

	if reg.prefetcher != nil && cfg.CellCount() > 0 {
		go reg.loadInitialMaps(r, cfg)
	}

	return r, CreateRoomResult{
		Name:     name,
		JoinCode: joinCode,
		MaxTeams: MaxTeams(),
		Teams:    append([]Team(nil), r.teams...),
	}, nil
}

func (reg *Registry) loadInitialMaps(r *Room, cfg Configuration) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	maps, err := reg.prefetcher.GetMaps(ctx, cfg.Selection, cfg.MappackID, cfg.CellCount())
	if err != nil {
		logging.Error(ctx, "initial map load failed", zap.String("room_id", string(r.JoinCode)), zap.Error(err))
		r.SetMapsError(err)
		return
	}

	r.SetMaps(maps)
}

func (reg *Registry) allocateJoinCode() (types.RoomIDType, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for i := 0; i < maxJoinCodeAttempts; i++ {
		code, err := generateJoinCode()
		if err != nil {
			return "", err
		}
		if _, exists := reg.rooms[code]; !exists {
			return code, nil
		}
	}

	return "", fmt.Errorf("room: exhausted %d attempts generating a unique join code", maxJoinCodeAttempts)
}

// Lookup finds a room by join code.
func (reg *Registry) Lookup(joinCode types.RoomIDType) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[joinCode]
	return r, ok
}

// JoinRoom resolves joinCode and delegates to the room's JoinRoom.
func (reg *Registry) JoinRoom(joinCode types.RoomIDType, password string, joiner types.ClientInfo, mailbox types.MailboxClient) (SyncSnapshot, error) {
	r, ok := reg.Lookup(joinCode)
	if !ok {
		return SyncSnapshot{}, ErrDoesNotExist
	}
	return r.JoinRoom(joiner, mailbox, password)
}

// removeRoom drops a terminated room from the registry. Called by a room's
// onEmpty callback, never invoked while holding the room's own lock.
func (reg *Registry) removeRoom(joinCode types.RoomIDType) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, joinCode)
}

// Count returns the number of currently live rooms, used in tests and
// diagnostics.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
