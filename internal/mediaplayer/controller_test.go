package mediaplayer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaremote/internal/device"
	"mediaremote/internal/holdrepeat"
	"mediaremote/internal/metrics"
	"mediaremote/internal/stepper"
)

type serviceCall struct {
	Service  string
	EntityID string
	Data     map[string]any
}

// fakeTransport is a test double for device.Transport.
type fakeTransport struct {
	mu      sync.Mutex
	attrs   map[string]map[string]any
	calls   []serviceCall
	callErr error
	panics  bool

	// panicOnCall makes the nth CallService panic (0 = never).
	panicOnCall int
	callCount   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{attrs: make(map[string]map[string]any)}
}

func (f *fakeTransport) set(entityID string, attrs map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attrs[entityID] = attrs
}

func (f *fakeTransport) Attribute(_ context.Context, entityID, name string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attrs, ok := f.attrs[entityID]
	if !ok {
		return nil, device.Unavailable(entityID, "")
	}
	v, ok := attrs[name]
	if !ok {
		return nil, device.Unavailable(entityID, name)
	}
	return v, nil
}

func (f *fakeTransport) Attributes(_ context.Context, entityID string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("transport exploded")
	}
	attrs, ok := f.attrs[entityID]
	if !ok {
		return nil, device.Unavailable(entityID, "")
	}
	return attrs, nil
}

func (f *fakeTransport) CallService(_ context.Context, service, entityID string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	if f.panicOnCall > 0 && f.callCount == f.panicOnCall {
		panic("transport exploded mid-hold")
	}
	if f.callErr != nil {
		return f.callErr
	}
	f.calls = append(f.calls, serviceCall{Service: service, EntityID: entityID, Data: data})
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) serviceCalls() []serviceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]serviceCall(nil), f.calls...)
}

const player = "media_player.living_room"

func newTestController(t *testing.T, tr *fakeTransport, cfg Config) (*Controller, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if cfg.EntityID == "" {
		cfg.EntityID = player
	}
	c, err := New(cfg, tr, metrics.New(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, &logs
}

func TestNew_InvalidVolumeSteps(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := New(Config{EntityID: player, VolumeSteps: -1}, newFakeTransport(), nil, logger)
	require.Error(t, err)

	var cfgErr *stepper.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = New(Config{}, newFakeTransport(), nil, logger)
	assert.Error(t, err)
}

func TestActionTableCoversEveryAction(t *testing.T) {
	c, _ := newTestController(t, newFakeTransport(), Config{})
	for _, a := range Actions() {
		assert.True(t, a.Valid())
		assert.Contains(t, c.handlers, a)
	}
	assert.Len(t, c.handlers, len(Actions()))
	assert.False(t, Action("volume_mute").Valid())
}

func TestDo_UnknownAction(t *testing.T) {
	c, _ := newTestController(t, newFakeTransport(), Config{})
	err := c.Do(context.Background(), Action("self_destruct"))
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestClickVolume_SnapsAndSends(t *testing.T) {
	tr := newFakeTransport()
	tr.set(player, map[string]any{"volume_level": 0.37})
	c, _ := newTestController(t, tr, Config{})

	require.NoError(t, c.Do(context.Background(), ClickVolumeUp))

	calls := tr.serviceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, ServiceVolumeSet, calls[0].Service)
	assert.Equal(t, player, calls[0].EntityID)
	assert.InDelta(t, 0.5, calls[0].Data["volume_level"], 1e-9)
	assert.InDelta(t, 0.5, c.VolumeLevel(), 1e-9)
	assert.Equal(t, holdrepeat.Idle, c.HoldState())
}

func TestClickVolume_UnavailableKeepsLastKnownValue(t *testing.T) {
	tr := newFakeTransport()
	tr.set(player, map[string]any{"volume_level": 0.6})
	c, _ := newTestController(t, tr, Config{})

	require.NoError(t, c.Do(context.Background(), ClickVolumeDown))
	assert.InDelta(t, 0.5, c.VolumeLevel(), 1e-9)

	// Device drops off; the next click steps from the cached 0.5.
	tr.mu.Lock()
	delete(tr.attrs, player)
	tr.mu.Unlock()

	require.NoError(t, c.Do(context.Background(), ClickVolumeDown))
	calls := tr.serviceCalls()
	require.Len(t, calls, 2)
	assert.InDelta(t, 0.4, calls[1].Data["volume_level"], 1e-9)
}

func TestVolumeStep_CommandFailureKeepsLevel(t *testing.T) {
	tr := newFakeTransport()
	tr.set(player, map[string]any{"volume_level": 0.3})
	c, _ := newTestController(t, tr, Config{})
	require.NoError(t, c.Refresh(context.Background()))

	tr.callErr = errors.New("network down")
	exceeded, err := c.ApplyStep(context.Background(), stepper.Up)
	assert.Error(t, err)
	assert.False(t, exceeded)
	assert.InDelta(t, 0.3, c.VolumeLevel(), 1e-9)
}

func TestHoldVolume_AtTopBound(t *testing.T) {
	tr := newFakeTransport()
	tr.set(player, map[string]any{"volume_level": 1.0})
	c, _ := newTestController(t, tr, Config{Delay: 10 * time.Millisecond})

	require.NoError(t, c.Do(context.Background(), HoldVolumeUp))
	assert.Equal(t, holdrepeat.Idle, c.HoldState())

	time.Sleep(50 * time.Millisecond)
	calls := tr.serviceCalls()
	require.Len(t, calls, 1)
	assert.InDelta(t, 1.0, calls[0].Data["volume_level"], 1e-9)
}

func TestHoldVolume_RampsUntilTop(t *testing.T) {
	tr := newFakeTransport()
	tr.set(player, map[string]any{"volume_level": 0.7})
	c, _ := newTestController(t, tr, Config{Delay: 2 * time.Millisecond})

	require.NoError(t, c.Do(context.Background(), HoldVolumeUp))
	require.Eventually(t, func() bool { return c.HoldState() == holdrepeat.Idle }, time.Second, time.Millisecond)

	var levels []float64
	for _, call := range tr.serviceCalls() {
		levels = append(levels, call.Data["volume_level"].(float64))
	}
	require.Len(t, levels, 3)
	assert.InDelta(t, 0.8, levels[0], 1e-9)
	assert.InDelta(t, 0.9, levels[1], 1e-9)
	assert.InDelta(t, 1.0, levels[2], 1e-9)
}

func TestHoldVolume_PanicMidHoldIsContained(t *testing.T) {
	tr := newFakeTransport()
	tr.set(player, map[string]any{"volume_level": 0.5})
	tr.panicOnCall = 2
	c, logs := newTestController(t, tr, Config{Delay: 5 * time.Millisecond})

	require.NoError(t, c.Do(context.Background(), HoldVolumeUp))
	require.Eventually(t, func() bool { return c.HoldState() == holdrepeat.Idle }, time.Second, time.Millisecond)

	require.NoError(t, c.Do(context.Background(), Release))
	assert.Len(t, tr.serviceCalls(), 1)
	assert.Contains(t, logs.String(), "step panicked")

	// The controller keeps serving actions.
	require.NoError(t, c.Do(context.Background(), ClickVolumeUp))
	assert.Len(t, tr.serviceCalls(), 2)
}

func TestHoldThenRelease(t *testing.T) {
	tr := newFakeTransport()
	tr.set(player, map[string]any{"volume_level": 0.5})
	c, _ := newTestController(t, tr, Config{Delay: 200 * time.Millisecond})

	ctx := context.Background()
	require.NoError(t, c.Do(ctx, HoldVolumeDown))
	assert.Equal(t, holdrepeat.Holding, c.HoldState())
	require.NoError(t, c.Do(ctx, Release))
	assert.Equal(t, holdrepeat.Idle, c.HoldState())

	time.Sleep(250 * time.Millisecond)
	assert.Len(t, tr.serviceCalls(), 1)
}

func TestChangeSource(t *testing.T) {
	list := []any{"TV", "Radio", "Spotify"}
	tests := []struct {
		name   string
		source any
		action Action
		want   string
	}{
		{"next wraps to first", "Spotify", NextSource, "TV"},
		{"previous wraps to last", "TV", PreviousSource, "Spotify"},
		{"next interior", "TV", NextSource, "Radio"},
		{"previous interior", "Spotify", PreviousSource, "Radio"},
		{"no current source seeds first", nil, PreviousSource, "TV"},
		{"unknown current source seeds first", "Bluetooth", NextSource, "TV"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport()
			attrs := map[string]any{"source_list": list}
			if tt.source != nil {
				attrs["source"] = tt.source
			}
			tr.set(player, attrs)
			c, _ := newTestController(t, tr, Config{})

			require.NoError(t, c.Do(context.Background(), tt.action))

			calls := tr.serviceCalls()
			require.Len(t, calls, 1)
			assert.Equal(t, ServiceSelectSource, calls[0].Service)
			assert.Equal(t, tt.want, calls[0].Data["source"])
		})
	}
}

func TestChangeSource_SingleEntry(t *testing.T) {
	tr := newFakeTransport()
	tr.set(player, map[string]any{"source": "TV", "source_list": []any{"TV"}})
	c, _ := newTestController(t, tr, Config{})

	require.NoError(t, c.Do(context.Background(), NextSource))
	calls := tr.serviceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "TV", calls[0].Data["source"])
}

func TestChangeSource_EmptyOptionSet(t *testing.T) {
	for name, attrs := range map[string]map[string]any{
		"absent": {"source": "TV"},
		"empty":  {"source": "TV", "source_list": []any{}},
	} {
		t.Run(name, func(t *testing.T) {
			tr := newFakeTransport()
			tr.set(player, attrs)
			c, logs := newTestController(t, tr, Config{})

			require.NoError(t, c.Do(context.Background(), NextSource))

			assert.Empty(t, tr.serviceCalls())
			assert.Equal(t, 1, strings.Count(logs.String(), "level=WARN"))
			assert.Contains(t, logs.String(), ErrEmptyOptionSet.Error())
			assert.Equal(t, holdrepeat.Idle, c.HoldState())
		})
	}
}

func TestChangeSource_DeviceUnavailable(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newTestController(t, tr, Config{})

	err := c.Do(context.Background(), NextSource)
	assert.True(t, errors.Is(err, device.ErrUnavailable))
	assert.Empty(t, tr.serviceCalls())
}

func TestTransportActions(t *testing.T) {
	tests := map[Action]string{
		PlayPause:     ServicePlayPause,
		NextTrack:     ServiceNextTrack,
		PreviousTrack: ServicePreviousTrack,
	}
	for action, service := range tests {
		t.Run(string(action), func(t *testing.T) {
			tr := newFakeTransport()
			c, _ := newTestController(t, tr, Config{})

			require.NoError(t, c.Do(context.Background(), action))
			calls := tr.serviceCalls()
			require.Len(t, calls, 1)
			assert.Equal(t, service, calls[0].Service)
			assert.Equal(t, player, calls[0].EntityID)
		})
	}
}

func TestDo_RecoversPanics(t *testing.T) {
	tr := newFakeTransport()
	tr.panics = true
	c, logs := newTestController(t, tr, Config{})

	var err error
	assert.NotPanics(t, func() {
		err = c.Do(context.Background(), NextSource)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Contains(t, logs.String(), "action panicked")
}
