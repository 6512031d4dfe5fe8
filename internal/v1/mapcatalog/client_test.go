package mapcatalog

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "bingoserver-test/1.0", 2*time.Second)
}

func TestSearchRandomByMode_Success(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "totd", r.URL.Query().Get("mode"))
		assert.Equal(t, "3", r.URL.Query().Get("count"))
		_, _ = w.Write([]byte(`{"maps":[{"track_id":"1","uid":"abc","name":"Track","author_name":"Nadeo"}]}`))
	})

	maps, err := client.SearchRandomByMode(t.Context(), types.SelectionTOTD, 3)
	require.NoError(t, err)
	require.Len(t, maps, 1)
	assert.Equal(t, "abc", maps[0].UID)
}

func TestSearchRandomByMode_InvalidMode(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not be sent for an unsupported mode")
	})

	_, err := client.SearchRandomByMode(t.Context(), types.SelectionMappack, 3)
	assert.Error(t, err)
}

func TestMappackTracks_Success(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pack-1", r.URL.Query().Get("mappack_id"))
		_, _ = w.Write([]byte(`{"maps":[{"track_id":"1","uid":"a"},{"track_id":"2","uid":"b"}]}`))
	})

	maps, err := client.MappackTracks(t.Context(), "pack-1")
	require.NoError(t, err)
	assert.Len(t, maps, 2)
}

func TestMappackTracks_NotFound(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"maps":[]}`))
	})

	_, err := client.MappackTracks(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_NonOKStatus(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.SearchRandomByMode(t.Context(), types.SelectionRandomTMX, 1)
	assert.Error(t, err)
}

func TestGet_TransportError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "ua", 200*time.Millisecond)

	_, err := client.SearchRandomByMode(t.Context(), types.SelectionTOTD, 1)
	assert.Error(t, err)
}
