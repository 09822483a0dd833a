// Package mediaplayer controls one media player entity: stepped volume
// (clicks and held buttons), source list cycling and transport keys.
package mediaplayer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"mediaremote/internal/device"
	"mediaremote/internal/holdrepeat"
	"mediaremote/internal/metrics"
	"mediaremote/internal/stepper"
)

// DefaultVolumeSteps divides the 0..1 volume range.
const DefaultVolumeSteps = 10

// Service names understood by the transport.
const (
	ServiceVolumeSet     = "media_player/volume_set"
	ServicePlayPause     = "media_player/media_play_pause"
	ServiceNextTrack     = "media_player/media_next_track"
	ServicePreviousTrack = "media_player/media_previous_track"
	ServiceSelectSource  = "media_player/select_source"
)

var (
	// ErrEmptyOptionSet is logged when a stepped action has nothing to step
	// through (no source list).
	ErrEmptyOptionSet = errors.New("empty option set")

	// ErrUnknownAction is returned by Do for actions missing from the table.
	ErrUnknownAction = errors.New("unknown action")
)

// Config configures a Controller.
type Config struct {
	EntityID    string
	VolumeSteps int           // 0 selects DefaultVolumeSteps
	Delay       time.Duration // hold repeat delay; 0 selects the repeater default
	MaxLoops    int           // hold loop bound; 0 selects the repeater default
}

// attributes is the subset of media player attributes the controller reads.
type attributes struct {
	VolumeLevel *float64 `mapstructure:"volume_level"`
	Source      *string  `mapstructure:"source"`
	SourceList  []string `mapstructure:"source_list"`
}

// Controller is the feature controller for one media player. It implements
// holdrepeat.StepApplier and holdrepeat.Refresher for volume.
type Controller struct {
	entityID  string
	transport device.Transport
	volume    *stepper.Stepper
	repeater  *holdrepeat.Repeater
	metrics   *metrics.Metrics
	logger    *slog.Logger
	handlers  map[Action]handler

	mu          sync.Mutex
	volumeLevel float64
}

// New creates a controller. A step configuration that cannot form a valid
// stepper returns a *stepper.ConfigurationError.
func New(cfg Config, transport device.Transport, m *metrics.Metrics, logger *slog.Logger) (*Controller, error) {
	if cfg.EntityID == "" {
		return nil, errors.New("entity id must not be empty")
	}
	if transport == nil {
		return nil, errors.New("transport must not be nil")
	}
	steps := cfg.VolumeSteps
	if steps == 0 {
		steps = DefaultVolumeSteps
	}
	vol, err := stepper.NewMinMax(0, 1, steps)
	if err != nil {
		return nil, fmt.Errorf("volume stepper for %s: %w", cfg.EntityID, err)
	}

	logger = logger.With("player", cfg.EntityID)
	c := &Controller{
		entityID:  cfg.EntityID,
		transport: transport,
		volume:    vol,
		metrics:   m,
		logger:    logger,
	}
	c.repeater = holdrepeat.New(c, holdrepeat.Config{
		Delay:    cfg.Delay,
		MaxLoops: cfg.MaxLoops,
	}, logger, m.HoldObserver(cfg.EntityID))
	c.handlers = c.actionTable()
	return c, nil
}

// EntityID returns the controlled entity.
func (c *Controller) EntityID() string { return c.entityID }

// HoldState reports whether a volume hold is active.
func (c *Controller) HoldState() holdrepeat.State { return c.repeater.State() }

// VolumeLevel returns the last known volume level.
func (c *Controller) VolumeLevel() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volumeLevel
}

// Do runs action. Failures and panics inside the handler are logged and
// returned as errors; they never escape as panics.
func (c *Controller) Do(ctx context.Context, action Action) (err error) {
	h, ok := c.handlers[action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("action panicked", "action", action, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("action %s panicked: %v", action, r)
		}
		if err != nil {
			c.logger.Error("action failed", "action", action, "error", err)
		}
		c.metrics.ActionDone(c.entityID, string(action), err)
	}()

	c.logger.Debug("action", "action", action)
	return h(ctx)
}

// Hold starts a volume hold in dir.
func (c *Controller) Hold(ctx context.Context, dir stepper.Direction) {
	c.repeater.Hold(ctx, dir)
}

// Release stops a volume hold.
func (c *Controller) Release() {
	c.repeater.Release()
}

// Click changes the volume by exactly one step.
func (c *Controller) Click(ctx context.Context, dir stepper.Direction) {
	c.repeater.Click(ctx, dir)
}

// Close releases any active hold.
func (c *Controller) Close() error {
	return c.repeater.Close()
}

// Refresh updates the cached volume level from the device. On failure the
// last known value is kept.
func (c *Controller) Refresh(ctx context.Context) error {
	v, err := c.transport.Attribute(ctx, c.entityID, "volume_level")
	if err != nil {
		c.metrics.DeviceError(c.entityID, "refresh")
		return fmt.Errorf("read volume_level: %w", err)
	}
	var level float64
	if err := device.Decode(v, &level); err != nil {
		return fmt.Errorf("read volume_level: %w", err)
	}

	c.mu.Lock()
	c.volumeLevel = level
	c.mu.Unlock()
	return nil
}

// ApplyStep moves the volume one step in dir and sends it to the device.
// If the command fails, the cached level is left unchanged.
func (c *Controller) ApplyStep(ctx context.Context, dir stepper.Direction) (bool, error) {
	c.mu.Lock()
	current := c.volumeLevel
	c.mu.Unlock()

	next, exceeded := c.volume.Step(current, dir)
	err := c.transport.CallService(ctx, ServiceVolumeSet, c.entityID, map[string]any{
		"volume_level": next,
	})
	if err != nil {
		c.metrics.DeviceError(c.entityID, "volume_set")
		return false, err
	}

	c.mu.Lock()
	c.volumeLevel = next
	c.mu.Unlock()

	c.logger.Debug("volume stepped", "from", current, "to", next, "exceeded", exceeded)
	return exceeded, nil
}

// ChangeSource selects the next (Up) or previous (Down) entry of the
// player's source list, wrapping at the ends.
//
// A missing or empty source list is logged and ignored. Without a current
// source (or with one that is not in the list) the first entry is selected.
func (c *Controller) ChangeSource(ctx context.Context, dir stepper.Direction) error {
	raw, err := c.transport.Attributes(ctx, c.entityID)
	if err != nil {
		c.metrics.DeviceError(c.entityID, "attributes")
		return fmt.Errorf("read attributes: %w", err)
	}
	var attrs attributes
	if err := device.Decode(raw, &attrs); err != nil {
		return fmt.Errorf("read attributes: %w", err)
	}

	if len(attrs.SourceList) == 0 {
		c.logger.Warn("there is no source list for this media player", "error", ErrEmptyOptionSet)
		return nil
	}

	next := 0
	if attrs.Source != nil {
		if idx := slices.Index(attrs.SourceList, *attrs.Source); idx >= 0 {
			next = nextIndex(idx, len(attrs.SourceList), dir)
		} else {
			c.logger.Debug("current source not in source list", "source", *attrs.Source)
		}
	}

	source := attrs.SourceList[next]
	if err := c.transport.CallService(ctx, ServiceSelectSource, c.entityID, map[string]any{
		"source": source,
	}); err != nil {
		c.metrics.DeviceError(c.entityID, "select_source")
		return err
	}
	c.logger.Debug("source selected", "source", source)
	return nil
}

// nextIndex steps a circular integer grid over n entries.
func nextIndex(idx, n int, dir stepper.Direction) int {
	if n <= 1 {
		return 0
	}
	s, err := stepper.NewCircular(0, float64(n-1), n-1)
	if err != nil {
		return 0
	}
	v, _ := s.Step(float64(idx), dir)
	return s.Index(v)
}

// PlayPause toggles playback.
func (c *Controller) PlayPause(ctx context.Context) error {
	return c.call(ctx, ServicePlayPause)
}

// NextTrack skips to the next track.
func (c *Controller) NextTrack(ctx context.Context) error {
	return c.call(ctx, ServiceNextTrack)
}

// PreviousTrack goes back one track.
func (c *Controller) PreviousTrack(ctx context.Context) error {
	return c.call(ctx, ServicePreviousTrack)
}

func (c *Controller) call(ctx context.Context, service string) error {
	if err := c.transport.CallService(ctx, service, c.entityID, nil); err != nil {
		c.metrics.DeviceError(c.entityID, service)
		return err
	}
	return nil
}
