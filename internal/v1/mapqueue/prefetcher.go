// Package mapqueue hides map-catalogue latency behind per-mode bounded
// queues, refilled by a background worker, so room creation never blocks on
// a third-party HTTP round trip.
package mapqueue

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	mathrand "math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trackmania-bingo/bingoserver/internal/v1/logging"
	"github.com/trackmania-bingo/bingoserver/internal/v1/metrics"
	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

// ErrTimedOut is returned by GetMaps when the queue cannot be satisfied
// before the fetch deadline elapses.
var ErrTimedOut = errors.New("mapqueue: timed out waiting for maps")

// Fetcher is the external collaborator the prefetcher uses to restock its
// queues and to serve on-demand mappack lookups. Satisfied by
// *mapcatalog.Client.
type Fetcher interface {
	SearchRandomByMode(ctx context.Context, mode types.SelectionMode, count int) ([]types.MapRecord, error)
	MappackTracks(ctx context.Context, mappackID string) ([]types.MapRecord, error)
}

// Config tunes queue sizing and fetch behavior.
type Config struct {
	TargetSize    int
	Capacity      int
	PollInterval  time.Duration
	FetchDeadline time.Duration
}

type restockRequest struct {
	mode  types.SelectionMode
	count int
}

// queue is a bounded, per-mode buffer of prefetched maps, its own lock so
// queues for different modes never contend.
type queue struct {
	mu       sync.Mutex
	items    []types.MapRecord
	inFlight bool
}

// Prefetcher owns the per-mode queues and the single background fetch
// worker. Constructed explicitly, never a package-level global, so tests can
// run isolated instances side by side.
type Prefetcher struct {
	cfg      Config
	fetcher  Fetcher
	queues   map[types.SelectionMode]*queue
	requests chan restockRequest
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewPrefetcher creates a prefetcher and starts its background fetch worker.
// Callers must call Close on shutdown.
func NewPrefetcher(cfg Config, fetcher Fetcher) *Prefetcher {
	p := &Prefetcher{
		cfg:     cfg,
		fetcher: fetcher,
		queues: map[types.SelectionMode]*queue{
			types.SelectionTOTD:      {},
			types.SelectionRandomTMX: {},
		},
		requests: make(chan restockRequest, 64),
		stop:     make(chan struct{}),
	}

	p.wg.Add(1)
	go p.worker()

	return p
}

// Close stops the background worker and waits for it to exit.
func (p *Prefetcher) Close() {
	close(p.stop)
	p.wg.Wait()
}

func (p *Prefetcher) worker() {
	defer p.wg.Done()

	ctx := context.Background()
	for {
		select {
		case <-p.stop:
			return
		case req := <-p.requests:
			p.restock(ctx, req.mode, req.count)
		}
	}
}

func (p *Prefetcher) restock(ctx context.Context, mode types.SelectionMode, count int) {
	q, ok := p.queues[mode]
	if !ok {
		return
	}

	q.mu.Lock()
	if len(q.items) >= p.cfg.Capacity || q.inFlight {
		q.mu.Unlock()
		return
	}
	q.inFlight = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.inFlight = false
		q.mu.Unlock()
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchDeadline)
	defer cancel()

	start := time.Now()
	fetched, err := p.fetcher.SearchRandomByMode(fetchCtx, mode, count)
	metrics.MapFetchDuration.WithLabelValues(modeLabel(mode), fetchStatus(err)).Observe(time.Since(start).Seconds())

	if err != nil {
		logging.Error(ctx, "map restock fetch failed", zap.Int("mode", int(mode)), zap.Error(err))
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]struct{}, len(q.items))
	for _, m := range q.items {
		seen[m.TrackID] = struct{}{}
	}
	for _, m := range fetched {
		if _, dup := seen[m.TrackID]; dup {
			continue
		}
		if len(q.items) >= p.cfg.Capacity {
			break
		}
		q.items = append(q.items, m)
		seen[m.TrackID] = struct{}{}
	}

	metrics.MapQueueDepth.WithLabelValues(modeLabel(mode)).Set(float64(len(q.items)))
}

// GetMaps returns count maps for mode. For queue-backed modes, it requests a
// restock hint then detaches the first count maps from the front of the
// queue (oldest first), polling with backoff if
// the queue is short, until satisfied or FetchDeadline elapses. For
// Mappack, it performs a single on-demand fetch and returns a
// CSPRNG-shuffled prefix.
func (p *Prefetcher) GetMaps(ctx context.Context, mode types.SelectionMode, mappackID string, count int) ([]types.MapRecord, error) {
	if mode == types.SelectionMappack {
		return p.getMappackMaps(ctx, mappackID, count)
	}

	q, ok := p.queues[mode]
	if !ok {
		return nil, errors.New("mapqueue: unknown mode")
	}

	p.hintRestock(mode, max(count, p.cfg.TargetSize))

	deadline := time.Now().Add(p.cfg.FetchDeadline)
	for {
		if maps, satisfied := p.detach(q, mode, count); satisfied {
			return maps, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrTimedOut
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

func (p *Prefetcher) hintRestock(mode types.SelectionMode, count int) {
	select {
	case p.requests <- restockRequest{mode: mode, count: count}:
	default:
		// Worker already has a pending restock queued; no need to pile on.
	}
}

func (p *Prefetcher) detach(q *queue, mode types.SelectionMode, count int) ([]types.MapRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) < count {
		return nil, false
	}

	detached := append([]types.MapRecord(nil), q.items[:count]...)
	q.items = q.items[count:]
	metrics.MapQueueDepth.WithLabelValues(modeLabel(mode)).Set(float64(len(q.items)))
	return detached, true
}

func (p *Prefetcher) getMappackMaps(ctx context.Context, mappackID string, count int) ([]types.MapRecord, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchDeadline)
	defer cancel()

	maps, err := p.fetcher.MappackTracks(fetchCtx, mappackID)
	if err != nil {
		return nil, err
	}

	shuffled := append([]types.MapRecord(nil), maps...)
	rng := mathrand.New(mathrand.NewPCG(cryptoSeed(), cryptoSeed()))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	if count > len(shuffled) {
		count = len(shuffled)
	}
	return shuffled[:count], nil
}

// ExtendMaps returns previously checked-out maps to their owning queue, used
// when a room shrinks its map list or switches selection modes.
func (p *Prefetcher) ExtendMaps(mode types.SelectionMode, maps []types.MapRecord) {
	q, ok := p.queues[mode]
	if !ok {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]struct{}, len(q.items))
	for _, m := range q.items {
		seen[m.TrackID] = struct{}{}
	}
	for _, m := range maps {
		if _, dup := seen[m.TrackID]; dup {
			continue
		}
		if len(q.items) >= p.cfg.Capacity {
			break
		}
		q.items = append(q.items, m)
		seen[m.TrackID] = struct{}{}
	}

	metrics.MapQueueDepth.WithLabelValues(modeLabel(mode)).Set(float64(len(q.items)))
}

func modeLabel(mode types.SelectionMode) string {
	switch mode {
	case types.SelectionTOTD:
		return "totd"
	case types.SelectionRandomTMX:
		return "random_tmx"
	case types.SelectionMappack:
		return "mappack"
	default:
		return "unknown"
	}
}

func fetchStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func cryptoSeed() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(buf[:])
}
