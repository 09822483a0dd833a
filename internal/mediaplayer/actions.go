package mediaplayer

import (
	"context"
	"slices"

	"mediaremote/internal/stepper"
)

// Action names an operation that can be bound to an input event.
type Action string

const (
	HoldVolumeUp    Action = "hold_volume_up"
	HoldVolumeDown  Action = "hold_volume_down"
	ClickVolumeUp   Action = "click_volume_up"
	ClickVolumeDown Action = "click_volume_down"
	Release         Action = "release"
	PlayPause       Action = "play_pause"
	NextTrack       Action = "next_track"
	PreviousTrack   Action = "previous_track"
	NextSource      Action = "next_source"
	PreviousSource  Action = "previous_source"
)

// Actions lists every supported action in a stable order.
func Actions() []Action {
	return []Action{
		HoldVolumeUp, HoldVolumeDown,
		ClickVolumeUp, ClickVolumeDown,
		Release,
		PlayPause, NextTrack, PreviousTrack,
		NextSource, PreviousSource,
	}
}

// Valid reports whether a is a supported action.
func (a Action) Valid() bool {
	return slices.Contains(Actions(), a)
}

type handler func(ctx context.Context) error

// actionTable binds every Action to its handler. Built once in New.
func (c *Controller) actionTable() map[Action]handler {
	hold := func(dir stepper.Direction) handler {
		return func(ctx context.Context) error {
			c.Hold(ctx, dir)
			return nil
		}
	}
	click := func(dir stepper.Direction) handler {
		return func(ctx context.Context) error {
			c.Click(ctx, dir)
			return nil
		}
	}
	source := func(dir stepper.Direction) handler {
		return func(ctx context.Context) error {
			return c.ChangeSource(ctx, dir)
		}
	}

	return map[Action]handler{
		HoldVolumeUp:    hold(stepper.Up),
		HoldVolumeDown:  hold(stepper.Down),
		ClickVolumeUp:   click(stepper.Up),
		ClickVolumeDown: click(stepper.Down),
		Release: func(context.Context) error {
			c.Release()
			return nil
		},
		PlayPause:      c.PlayPause,
		NextTrack:      c.NextTrack,
		PreviousTrack:  c.PreviousTrack,
		NextSource:     source(stepper.Up),
		PreviousSource: source(stepper.Down),
	}
}
