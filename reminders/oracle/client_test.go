package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "secret", Timeout: time.Second}, zerolog.Nop())
}

func TestClient_LookupAccountByAddress(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/farcaster/user/bulk-by-address", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "0xabc", r.URL.Query().Get("addresses"))
		_, _ = w.Write([]byte(`{"0xabc":[{"fid":42,"username":"Bob","display_name":"Bob B","experimental":{"neynar_user_score":0.93}}]}`))
	})

	acc, err := c.LookupAccountByAddress(context.Background(), "0xABC")
	require.NoError(t, err)
	require.Equal(t, "42", acc.ID)
	require.Equal(t, "bob", acc.Handle)
	require.NotNil(t, acc.Score)
	require.InDelta(t, 0.93, *acc.Score, 1e-9)
}

func TestClient_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/farcaster/user/bulk" {
			_, _ = w.Write([]byte(`{"users":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.LookupAccountByAddress(context.Background(), "0xabc")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.LookupAccountByID(context.Background(), "7")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.LookupAccountByID(context.Background(), "alice")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClient_Unavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.RecentPosts(context.Background(), "42", 10)
	require.ErrorIs(t, err, ErrUnavailable)

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"bad fid"}`))
	})
	_, err = c.RecentPosts(context.Background(), "42", 10)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnavailable)
	require.Contains(t, err.Error(), "bad fid")
}

func TestClient_RecentPosts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/farcaster/feed/user/casts", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("fid"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"casts": []any{
				map[string]any{
					"hash":      "0x01",
					"text":      "hey @alice deadline approaching",
					"timestamp": "2024-05-01T10:00:00Z",
					"author":    map[string]any{"fid": 42, "username": "bob"},
					"mentioned_profiles": []any{
						map[string]any{"fid": 1, "username": "Alice"},
					},
				},
				map[string]any{"hash": "0x02", "timestamp": "not a time"},
			},
		})
	})

	posts, err := c.RecentPosts(context.Background(), "42", 5)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, "0x01", posts[0].ID)
	require.Equal(t, "42", posts[0].AuthorID)
	require.Equal(t, []string{"alice"}, posts[0].MentionedHandles)
	require.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), posts[0].Timestamp)
}

func TestClient_ReputationScore(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("fids") {
		case "1":
			_, _ = w.Write([]byte(`{"users":[{"fid":1,"username":"a"}]}`))
		case "2":
			_, _ = w.Write([]byte(`{"users":[{"fid":2,"username":"b","score":1.7}]}`))
		default:
			_, _ = w.Write([]byte(`{"users":[{"fid":1,"username":"a","score":0.2},{"fid":2,"username":"b"}]}`))
		}
	})

	score, err := c.ReputationScore(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, DefaultScore, score)

	score, err = c.ReputationScore(context.Background(), "2")
	require.NoError(t, err)
	require.Equal(t, 1.0, score)

	scores, err := c.ReputationScores(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"1": 0.2, "2": DefaultScore}, scores)

	scores, err = c.ReputationScores(context.Background(), []string{"1", "bob", "2"})
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"1": 0.2, "2": DefaultScore}, scores)

	_, err = c.ReputationScore(context.Background(), "not-a-fid")
	require.ErrorIs(t, err, ErrNotFound)
}
