package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mediaremote/internal/device"
	"mediaremote/internal/device/hass"
	"mediaremote/internal/device/redisstate"
)

func newHASSTransport(ctx context.Context, cfg HASSConfig, logger *slog.Logger) (device.Transport, error) {
	token, err := readTokenFile(cfg.TokenFile)
	if err != nil {
		return nil, err
	}
	client, err := hass.New(ctx, hass.Config{
		URL:         cfg.WsURL,
		Token:       token,
		ReadTimeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}, logger.With("transport", TransportHASS))
	if err != nil {
		return nil, fmt.Errorf("connect to home assistant: %w", err)
	}
	return client, nil
}

func newRedisTransport(ctx context.Context, cfg RedisConfig) (device.Transport, error) {
	var opts []redisstate.Option
	if cfg.Prefix != "" {
		opts = append(opts, redisstate.WithPrefix(cfg.Prefix))
	}
	store := redisstate.New(cfg.Addr, cfg.Password, cfg.DB, opts...)
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return store, nil
}
