package main

import (
	"mediaremote/internal/mediaplayer"
)

// ActionRequest asks the daemon to run one action on one player. It is the
// unit passed from input readers and IPC clients to the router.
type ActionRequest struct {
	Player string             `json:"player"`
	Action mediaplayer.Action `json:"action"`
}

// maxDetents caps the clicks generated by a single relative axis event.
const maxDetents = 16

type bindingKey struct {
	typ  uint16
	code uint16
}

// Bindings translates raw input events into action requests.
type Bindings struct {
	byKey map[bindingKey][]BindingConfig
}

// newBindings indexes validated binding entries by event type and code.
func newBindings(cfgs []BindingConfig) *Bindings {
	b := &Bindings{byKey: make(map[bindingKey][]BindingConfig, len(cfgs))}
	for _, c := range cfgs {
		k := bindingKey{typ: EV_KEY, code: keyCodes[c.Key]}
		if c.isAxis() {
			k.typ = EV_REL
		}
		b.byKey[k] = append(b.byKey[k], c)
	}
	return b
}

// Translate maps one input event to zero or more requests.
//
// Key autorepeat events are dropped: held keys are repeated by the player's
// hold engine, not by the kernel's repeat rate.
func (b *Bindings) Translate(ev inputEvent) []ActionRequest {
	cfgs := b.byKey[bindingKey{typ: ev.Type, code: ev.Code}]
	if len(cfgs) == 0 {
		return nil
	}

	var out []ActionRequest
	for _, c := range cfgs {
		switch ev.Type {
		case EV_KEY:
			switch ev.Value {
			case evValuePress:
				out = append(out, ActionRequest{Player: c.Player, Action: c.Press})
			case evValueRelease:
				if c.Release != "" {
					out = append(out, ActionRequest{Player: c.Player, Action: c.Release})
				}
			}

		case EV_REL:
			action, n := c.Up, int(ev.Value)
			if n < 0 {
				action, n = c.Down, -n
			}
			for i := 0; i < min(n, maxDetents); i++ {
				out = append(out, ActionRequest{Player: c.Player, Action: action})
			}
		}
	}
	return out
}
