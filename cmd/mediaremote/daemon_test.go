package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaremote/internal/device/redisstate"
	"mediaremote/internal/mediaplayer"
)

// mockController is a test double for playerController.
type mockController struct {
	id      string
	panicOn mediaplayer.Action
	failOn  mediaplayer.Action
	block   chan struct{} // when set, Do waits on it

	mu      sync.Mutex
	actions []mediaplayer.Action
	closed  atomic.Bool
}

func (m *mockController) EntityID() string { return m.id }

func (m *mockController) Do(_ context.Context, action mediaplayer.Action) error {
	m.mu.Lock()
	m.actions = append(m.actions, action)
	m.mu.Unlock()

	if m.block != nil {
		<-m.block
	}
	if action == m.panicOn {
		panic("controller exploded")
	}
	if action == m.failOn {
		return errors.New("device offline")
	}
	return nil
}

func (m *mockController) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *mockController) seen() []mediaplayer.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mediaplayer.Action(nil), m.actions...)
}

func startRouter(t *testing.T, queueSize int, ctrls ...playerController) *Router {
	t.Helper()
	r := NewRouter(ctrls, queueSize, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("router did not stop")
		}
	})
	return r
}

func TestRouter_RejectsUnknownRequests(t *testing.T) {
	r := NewRouter([]playerController{&mockController{id: livingRoom}}, 1, discardLogger())

	err := r.Offer(ActionRequest{Player: "media_player.attic", Action: mediaplayer.PlayPause})
	assert.True(t, errors.Is(err, ErrUnknownPlayer))

	err = r.Submit(context.Background(), ActionRequest{Player: livingRoom, Action: "volume_mute"})
	assert.True(t, errors.Is(err, mediaplayer.ErrUnknownAction))
}

func TestRouter_PreservesOrderPerPlayer(t *testing.T) {
	ctrl := &mockController{id: livingRoom}
	r := startRouter(t, 8, ctrl)

	want := []mediaplayer.Action{
		mediaplayer.HoldVolumeUp,
		mediaplayer.Release,
		mediaplayer.NextSource,
		mediaplayer.PlayPause,
	}
	for _, a := range want {
		require.NoError(t, r.Submit(context.Background(), req(a)))
	}

	require.Eventually(t, func() bool { return len(ctrl.seen()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, ctrl.seen())
}

func TestRouter_IsolatesFailures(t *testing.T) {
	bad := &mockController{id: "media_player.bad", panicOn: mediaplayer.PlayPause, failOn: mediaplayer.NextTrack}
	good := &mockController{id: "media_player.good"}
	r := startRouter(t, 8, bad, good)

	ctx := context.Background()
	require.NoError(t, r.Submit(ctx, ActionRequest{Player: bad.id, Action: mediaplayer.PlayPause}))
	require.NoError(t, r.Submit(ctx, ActionRequest{Player: bad.id, Action: mediaplayer.NextTrack}))
	require.NoError(t, r.Submit(ctx, ActionRequest{Player: bad.id, Action: mediaplayer.NextSource}))
	require.NoError(t, r.Submit(ctx, ActionRequest{Player: good.id, Action: mediaplayer.PlayPause}))

	// The failing player keeps processing and the other is unaffected.
	require.Eventually(t, func() bool { return len(bad.seen()) == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(good.seen()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRouter_BlockedPlayerDoesNotStallOthers(t *testing.T) {
	slow := &mockController{id: "media_player.slow", block: make(chan struct{})}
	fast := &mockController{id: "media_player.fast"}
	r := startRouter(t, 1, slow, fast)
	defer close(slow.block)

	require.NoError(t, r.Offer(ActionRequest{Player: slow.id, Action: mediaplayer.PlayPause}))
	require.Eventually(t, func() bool { return len(slow.seen()) == 1 }, time.Second, 5*time.Millisecond)

	// Worker is busy: one request fits in the queue, the next is refused.
	require.NoError(t, r.Offer(ActionRequest{Player: slow.id, Action: mediaplayer.NextTrack}))
	assert.ErrorIs(t, r.Offer(ActionRequest{Player: slow.id, Action: mediaplayer.NextTrack}), errQueueFull)

	require.NoError(t, r.Offer(ActionRequest{Player: fast.id, Action: mediaplayer.PlayPause}))
	require.Eventually(t, func() bool { return len(fast.seen()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRouter_ClosesControllersOnShutdown(t *testing.T) {
	ctrl := &mockController{id: livingRoom}
	r := NewRouter([]playerController{ctrl}, 1, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
	assert.True(t, ctrl.closed.Load())
}

// TestRunDaemon_IPCToRedis drives a real controller through the IPC socket
// and observes the command published by the redis transport.
func TestRunDaemon_IPCToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	cfg := loadValid(t, minimalConfig)
	cfg.Input.Devices = nil
	cfg.Transport.Redis.Addr = mr.Addr()
	cfg.IPC.SocketPath = shortSocketPath(t)

	seed, err := newRedisTransport(ctx, cfg.Transport.Redis)
	require.NoError(t, err)
	store := seed.(*redisstate.Store)
	defer store.Close()

	require.NoError(t, store.SetAttributes(ctx, livingRoom, map[string]any{
		"volume_level": 0.4,
		"source":       "TV",
		"source_list":  []string{"TV", "Radio"},
	}))

	sub := store.Subscribe(ctx)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- runDaemon(runCtx, cfg, discardLogger()) }()

	require.Eventually(t, func() bool {
		return SendIPCRequest(ctx, cfg.IPC.SocketPath, req(mediaplayer.NextSource)) == nil
	}, 2*time.Second, 20*time.Millisecond)

	recvCtx, recvCancel := context.WithTimeout(ctx, 2*time.Second)
	defer recvCancel()
	msg, err := sub.ReceiveMessage(recvCtx)
	require.NoError(t, err)

	var cmd redisstate.Command
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &cmd))
	assert.Equal(t, mediaplayer.ServiceSelectSource, cmd.Service)
	assert.Equal(t, livingRoom, cmd.EntityID)
	assert.Equal(t, "Radio", cmd.Data["source"])

	err = SendIPCRequest(ctx, cfg.IPC.SocketPath, ActionRequest{Player: "media_player.attic", Action: mediaplayer.PlayPause})
	assert.Error(t, err)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestRunDaemon_TransportUnavailable(t *testing.T) {
	cfg := loadValid(t, minimalConfig)
	cfg.Transport.Redis.Addr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.Error(t, runDaemon(ctx, cfg, discardLogger()))
}
