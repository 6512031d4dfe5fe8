// Package reconnect preserves a disconnected player's room membership for a
// bounded linger window so a reconnecting client resumes its prior slot.
package reconnect

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trackmania-bingo/bingoserver/internal/v1/logging"
	"github.com/trackmania-bingo/bingoserver/internal/v1/metrics"
	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

// Record captures enough context to restore a disconnected player's room
// membership. RoomID is a join code; the registry never holds a strong
// reference to the room itself.
type Record struct {
	RoomID    types.RoomIDType
	SlotIndex int
	ExpiresAt time.Time
}

// EvictFunc is invoked when a record's linger window expires without a
// reconnect, so the owning room can remove the stale slot.
type EvictFunc func(roomID types.RoomIDType, playerID types.PlayerIDType, slotIndex int)

// Registry is a single process-wide instance, constructed explicitly and
// passed to the handshake gate; never a package-level global.
type Registry struct {
	mu      sync.Mutex
	records map[types.PlayerIDType]Record

	linger  time.Duration
	onEvict EvictFunc
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewRegistry creates a reconnect registry and starts its background sweep.
// sweepInterval must be at least one second. Callers must call Close on
// shutdown.
func NewRegistry(linger, sweepInterval time.Duration, onEvict EvictFunc) *Registry {
	if sweepInterval < time.Second {
		sweepInterval = time.Second
	}

	r := &Registry{
		records: make(map[types.PlayerIDType]Record),
		linger:  linger,
		onEvict: onEvict,
		stop:    make(chan struct{}),
	}

	r.wg.Add(1)
	go r.sweepLoop(sweepInterval)

	return r
}

// Close stops the background sweep.
func (r *Registry) Close() {
	close(r.stop)
	r.wg.Wait()
}

// Stash records that playerID's connection dropped while a member of
// roomID's slot slotIndex, giving them until the linger window elapses to
// reclaim the slot.
func (r *Registry) Stash(playerID types.PlayerIDType, roomID types.RoomIDType, slotIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[playerID] = Record{
		RoomID:    roomID,
		SlotIndex: slotIndex,
		ExpiresAt: time.Now().Add(r.linger),
	}
}

// Reclaim moves a pending record out of the registry for playerID, if one
// exists and has not yet expired. The second return value reports whether a
// live record was found.
func (r *Registry) Reclaim(playerID types.PlayerIDType) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[playerID]
	if !ok {
		return Record{}, false
	}

	delete(r.records, playerID)

	if time.Now().After(rec.ExpiresAt) {
		return Record{}, false
	}

	return rec, true
}

// Drop removes a pending record without evicting the slot, so the linger
// window never fires for it.
func (r *Registry) Drop(playerID types.PlayerIDType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, playerID)
}

func (r *Registry) sweepLoop(interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	now := time.Now()

	type expired struct {
		playerID types.PlayerIDType
		rec      Record
	}
	var toEvict []expired

	r.mu.Lock()
	for playerID, rec := range r.records {
		if now.After(rec.ExpiresAt) {
			toEvict = append(toEvict, expired{playerID, rec})
			delete(r.records, playerID)
		}
	}
	r.mu.Unlock()

	for _, e := range toEvict {
		metrics.ReconnectsTotal.WithLabelValues("expired").Inc()
		logging.Info(context.Background(), "reconnect window expired",
			zap.String("player_id", string(e.playerID)),
			zap.String("room_id", string(e.rec.RoomID)))

		if r.onEvict != nil {
			r.onEvict(e.rec.RoomID, e.playerID, e.rec.SlotIndex)
		}
	}
}
