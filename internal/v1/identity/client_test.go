package identity

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "server-secret", 2*time.Second)
	return server, client
}

func TestValidate_Success(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tok-123", r.FormValue("token"))
		assert.Equal(t, "server-secret", r.FormValue("secret"))

		_ = json.NewEncoder(w).Encode(identityResponse{
			AccountID:   "acct-1",
			DisplayName: "Racer",
		})
	})

	playerID, displayName, err := client.Validate(t.Context(), "tok-123")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", string(playerID))
	assert.Equal(t, "Racer", string(displayName))
}

func TestValidate_Refused(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(identityResponse{Error: "invalid token"})
	})

	_, _, err := client.Validate(t.Context(), "bad-token")
	require.Error(t, err)
	var refused *RefusedError
	assert.ErrorAs(t, err, &refused)
}

func TestValidate_TransportError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "secret", 200*time.Millisecond)

	_, _, err := client.Validate(t.Context(), "tok")
	assert.Error(t, err)
}

func TestValidate_MalformedResponse(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	_, _, err := client.Validate(t.Context(), "tok")
	assert.Error(t, err)
}
