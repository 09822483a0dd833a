package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaremote/internal/device"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	s := NewFromClient(client, WithPrefix("test:"))
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestStore_Attributes(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.SetAttributes(ctx, "media_player.den", map[string]any{
		"volume_level": 0.3,
		"source":       "Radio",
		"source_list":  []string{"TV", "Radio"},
	}))

	assert.Equal(t, "0.3", mr.HGet("test:entity:media_player.den", "volume_level"))

	v, err := s.Attribute(ctx, "media_player.den", "volume_level")
	require.NoError(t, err)
	assert.InDelta(t, 0.3, v, 1e-9)

	attrs, err := s.Attributes(ctx, "media_player.den")
	require.NoError(t, err)
	assert.Equal(t, "Radio", attrs["source"])
	assert.Equal(t, []any{"TV", "Radio"}, attrs["source_list"])
}

func TestStore_Unavailable(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.Attribute(ctx, "media_player.none", "volume_level")
	assert.True(t, errors.Is(err, device.ErrUnavailable))

	_, err = s.Attributes(ctx, "media_player.none")
	assert.True(t, errors.Is(err, device.ErrUnavailable))

	mr.HSet("test:entity:media_player.den", "volume_level", "null")
	_, err = s.Attribute(ctx, "media_player.den", "volume_level")
	assert.True(t, errors.Is(err, device.ErrUnavailable))
}

func TestStore_CallServicePublishes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	sub := s.Subscribe(ctx)
	defer sub.Close()
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	require.NoError(t, s.CallService(ctx, "media_player/select_source", "media_player.den", map[string]any{"source": "TV"}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test:commands", msg.Channel)

	var cmd Command
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &cmd))
	assert.Equal(t, "media_player/select_source", cmd.Service)
	assert.Equal(t, "media_player.den", cmd.EntityID)
	assert.Equal(t, map[string]any{"source": "TV"}, cmd.Data)
	assert.True(t, cmd.At.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	assert.Error(t, s.CallService(ctx, "bogus", "media_player.den", nil))
}
