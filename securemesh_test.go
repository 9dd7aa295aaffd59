package securemesh

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/securemesh/breaker"
	"github.com/hupe1980/securemesh/core"
	"github.com/hupe1980/securemesh/internal/testutil"
	"github.com/hupe1980/securemesh/vault"
)

func newTestStore() *vault.InMemoryStore {
	store := vault.NewInMemoryStore()
	store.Put(DefaultSigningSecretName, []byte("signing-secret"))
	store.Put(DefaultEncryptionKeyName, []byte("encryption-key"))
	return store
}

func TestNewRequiresSigningSecret(t *testing.T) {
	_, err := New(context.Background(), vault.NewInMemoryStore())
	assert.ErrorIs(t, err, core.ErrSecretNotFound)
}

func TestNewWithoutEncryptionKey(t *testing.T) {
	store := vault.NewInMemoryStore()
	store.Put(DefaultSigningSecretName, []byte("signing-secret"))

	mesh, err := New(context.Background(), store)
	require.NoError(t, err)
	defer mesh.Close()

	// Signing works, encryption does not.
	_, err = mesh.Sealer().Seal(map[string]any{"k": "v"}, false)
	assert.NoError(t, err)
	_, err = mesh.Sealer().Seal(map[string]any{"k": "v"}, true)
	assert.Error(t, err)
}

func TestSendRoundTrip(t *testing.T) {
	srv, log := testutil.NewScriptedPeer(t, testutil.PeerResponse{
		Status: http.StatusOK,
		Body:   map[string]any{"status": "accepted"},
	})

	mesh, err := New(context.Background(), newTestStore())
	require.NoError(t, err)
	defer mesh.Close()

	resp, err := mesh.Send(context.Background(), srv.URL, map[string]any{"action": "ping"})
	require.NoError(t, err)
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, 1, log.Count())
	assert.Equal(t, breaker.StateClosed, mesh.BreakerState(srv.URL))
}

func TestSendTripsBreakerPerTarget(t *testing.T) {
	srv, log := testutil.NewScriptedPeer(t, testutil.PeerResponse{Status: http.StatusInternalServerError})
	healthy, _ := testutil.NewScriptedPeer(t, testutil.PeerResponse{Status: http.StatusOK, Body: map[string]any{}})

	mesh, err := New(context.Background(), newTestStore(), func(o *Options) {
		o.MaxRetries = 1 // fail a Send on the first bad attempt
		o.FailureThreshold = 2
		o.RecoveryTimeout = time.Hour
	})
	require.NoError(t, err)
	defer mesh.Close()

	ctx := context.Background()
	_, err = mesh.Send(ctx, srv.URL, map[string]any{})
	require.Error(t, err)
	_, err = mesh.Send(ctx, srv.URL, map[string]any{})
	require.Error(t, err)
	require.Equal(t, breaker.StateOpen, mesh.BreakerState(srv.URL))

	// Further sends fail fast without hitting the peer.
	before := log.Count()
	_, err = mesh.Send(ctx, srv.URL, map[string]any{})
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.Equal(t, before, log.Count())

	// Breakers are per target: the healthy peer is unaffected.
	_, err = mesh.Send(ctx, healthy.URL, map[string]any{})
	assert.NoError(t, err)
}

func TestPublishSubscribe(t *testing.T) {
	mesh, err := New(context.Background(), newTestStore())
	require.NoError(t, err)
	defer mesh.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := mesh.Subscribe(ctx, "events")
	require.NoError(t, err)

	env, err := mesh.PublishPayload("events", map[string]any{"action": "ping"}, false)
	require.NoError(t, err)
	require.NotEmpty(t, env.Signature)

	select {
	case got := <-ch:
		assert.Equal(t, env.ID, got.ID)
		assert.Equal(t, "ping", got.Payload["action"])
		assert.True(t, mesh.Sealer().Open(&got))
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the published envelope")
	}
}

func TestAllowDelegatesToLimiter(t *testing.T) {
	mesh, err := New(context.Background(), newTestStore(), func(o *Options) {
		o.Limits.PerMinute = 1
	})
	require.NoError(t, err)
	defer mesh.Close()

	allowed, counts := mesh.Allow("client-1")
	require.True(t, allowed)
	assert.Equal(t, 1, counts.Minute)

	allowed, _ = mesh.Allow("client-1")
	assert.False(t, allowed)

	allowed, _ = mesh.Allow("client-2")
	assert.True(t, allowed)
}
