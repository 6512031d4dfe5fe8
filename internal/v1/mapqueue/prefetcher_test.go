package mapqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

type fakeFetcher struct {
	mu          sync.Mutex
	randomMaps  []types.MapRecord
	randomDelay time.Duration
	randomErr   error
	mappackMaps []types.MapRecord
	mappackErr  error
	calls       int
}

func (f *fakeFetcher) SearchRandomByMode(ctx context.Context, mode types.SelectionMode, count int) ([]types.MapRecord, error) {
	f.mu.Lock()
	f.calls++
	delay := f.randomDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.randomErr != nil {
		return nil, f.randomErr
	}

	if count < len(f.randomMaps) {
		return f.randomMaps[:count], nil
	}
	return f.randomMaps, nil
}

func (f *fakeFetcher) MappackTracks(ctx context.Context, mappackID string) ([]types.MapRecord, error) {
	if f.mappackErr != nil {
		return nil, f.mappackErr
	}
	return f.mappackMaps, nil
}

func testConfig() Config {
	return Config{
		TargetSize:    4,
		Capacity:      10,
		PollInterval:  10 * time.Millisecond,
		FetchDeadline: 500 * time.Millisecond,
	}
}

func TestGetMaps_SatisfiedAfterRestock(t *testing.T) {
	fetcher := &fakeFetcher{randomMaps: []types.MapRecord{
		{TrackID: "1"}, {TrackID: "2"}, {TrackID: "3"}, {TrackID: "4"},
	}}

	p := NewPrefetcher(testConfig(), fetcher)
	defer p.Close()

	maps, err := p.GetMaps(context.Background(), types.SelectionTOTD, "", 3)
	require.NoError(t, err)
	assert.Len(t, maps, 3)
}

func TestGetMaps_TimesOut(t *testing.T) {
	fetcher := &fakeFetcher{randomDelay: 10 * time.Second}

	cfg := testConfig()
	cfg.FetchDeadline = 100 * time.Millisecond

	p := NewPrefetcher(cfg, fetcher)
	defer p.Close()

	_, err := p.GetMaps(context.Background(), types.SelectionTOTD, "", 5)
	assert.ErrorIs(t, err, ErrTimedOut)
}

func TestGetMaps_DeduplicatesByTrackID(t *testing.T) {
	fetcher := &fakeFetcher{randomMaps: []types.MapRecord{
		{TrackID: "1"}, {TrackID: "1"}, {TrackID: "2"},
	}}

	p := NewPrefetcher(testConfig(), fetcher)
	defer p.Close()

	p.hintRestock(types.SelectionTOTD, 4)
	time.Sleep(50 * time.Millisecond)

	q := p.queues[types.SelectionTOTD]
	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Len(t, q.items, 2)
}

func TestGetMaps_Mappack_ShufflesAndTrims(t *testing.T) {
	fetcher := &fakeFetcher{mappackMaps: []types.MapRecord{
		{TrackID: "1"}, {TrackID: "2"}, {TrackID: "3"}, {TrackID: "4"}, {TrackID: "5"},
	}}

	p := NewPrefetcher(testConfig(), fetcher)
	defer p.Close()

	maps, err := p.GetMaps(context.Background(), types.SelectionMappack, "pack-1", 3)
	require.NoError(t, err)
	assert.Len(t, maps, 3)
}

func TestGetMaps_Mappack_PropagatesFetchError(t *testing.T) {
	fetcher := &fakeFetcher{mappackErr: assertError{"catalogue down"}}

	p := NewPrefetcher(testConfig(), fetcher)
	defer p.Close()

	_, err := p.GetMaps(context.Background(), types.SelectionMappack, "pack-1", 3)
	assert.Error(t, err)
}

func TestExtendMaps_ReturnsToQueue(t *testing.T) {
	fetcher := &fakeFetcher{}

	p := NewPrefetcher(testConfig(), fetcher)
	defer p.Close()

	p.ExtendMaps(types.SelectionTOTD, []types.MapRecord{{TrackID: "a"}, {TrackID: "b"}})

	maps, err := p.GetMaps(context.Background(), types.SelectionTOTD, "", 2)
	require.NoError(t, err)
	assert.Len(t, maps, 2)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
