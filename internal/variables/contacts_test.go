package variables

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPContactStore_Variables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/contacts/c%2F1/variables", r.URL.EscapedPath())
		assert.Equal(t, "tenant-a", r.Header.Get("X-Tenant-ID"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"variables": {"nome": "Ana", "idade": 31, "vip": true}}`))
	}))
	defer srv.Close()

	store, err := NewHTTPContactStore(srv.URL+"/", "secret", time.Second)
	require.NoError(t, err)

	vars, err := store.Variables(context.Background(), "tenant-a", "c/1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", vars["nome"])
	assert.Equal(t, "31", vars["idade"])
	assert.Equal(t, "true", vars["vip"])
}

func TestHTTPContactStore_NotFoundIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	store, err := NewHTTPContactStore(srv.URL, "", time.Second)
	require.NoError(t, err)

	vars, err := store.Variables(context.Background(), "t", "c")
	require.NoError(t, err)
	assert.Empty(t, vars)
}

func TestHTTPContactStore_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store, err := NewHTTPContactStore(srv.URL, "", time.Second)
	require.NoError(t, err)

	_, err = store.Variables(context.Background(), "t", "c")
	assert.Error(t, err)
}

func TestHTTPContactStore_SetVariable(t *testing.T) {
	var gotPath, gotValue string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotValue = body["value"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store, err := NewHTTPContactStore(srv.URL, "", time.Second)
	require.NoError(t, err)

	require.NoError(t, store.SetVariable(context.Background(), "t", "c1", "cpf", "123"))
	assert.Equal(t, "/contacts/c1/variables/cpf", gotPath)
	assert.Equal(t, "123", gotValue)
}

func TestNewHTTPContactStore_InvalidURL(t *testing.T) {
	_, err := NewHTTPContactStore("not a url", "", 0)
	assert.Error(t, err)
}

func newTestRedisStore(t *testing.T) (*RedisContactStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisContactStoreWithClient(client, "test:vars:"), mr
}

func TestRedisContactStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	require.NoError(t, store.SetVariable(ctx, "t1", "c1", "cpf", "123"))
	require.NoError(t, store.SetVariable(ctx, "t1", "c1", "nome", "Ana"))

	assert.Equal(t, "123", mr.HGet("test:vars:t1:c1", "cpf"))

	vars, err := store.Variables(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "123", vars["cpf"])
	assert.Equal(t, "Ana", vars["nome"])

	empty, err := store.Variables(ctx, "t1", "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRedisContactStore_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	store := NewRedisContactStoreWithClient(client, "")

	_, err := store.Variables(context.Background(), "t1", "c1")
	assert.Error(t, err)
}

func TestNewRedisContactStore_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisContactStore(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, "redis", store.Name())
}
