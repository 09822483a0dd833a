package main

// Linux input event types and codes (from <linux/input-event-codes.h>)
const (
	EV_KEY = 0x01
	EV_REL = 0x02

	KEY_MUTE         = 113
	KEY_VOLUMEDOWN   = 114
	KEY_VOLUMEUP     = 115
	KEY_NEXTSONG     = 163
	KEY_PLAYPAUSE    = 164
	KEY_PREVIOUSSONG = 165
	KEY_STOPCD       = 166
	KEY_PLAYCD       = 200
	KEY_PAUSECD      = 201
	KEY_CHANNELUP    = 402
	KEY_CHANNELDOWN  = 403

	// Rotary encoder relative axis codes
	REL_DIAL  = 0x07
	REL_WHEEL = 0x08
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Daemon defaults
const (
	defaultSocketPath    = "/tmp/mediaremote.sock"
	defaultReadTimeoutMS = 2000
	defaultRedisPrefix   = "mediaremote:"
	defaultQueueSize     = 64
)

// keyCodes maps binding key names to input codes. Key names are the
// <linux/input-event-codes.h> identifiers; REL_* names select a relative
// axis, everything else an EV_KEY code.
var keyCodes = map[string]uint16{
	"KEY_MUTE":         KEY_MUTE,
	"KEY_VOLUMEDOWN":   KEY_VOLUMEDOWN,
	"KEY_VOLUMEUP":     KEY_VOLUMEUP,
	"KEY_NEXTSONG":     KEY_NEXTSONG,
	"KEY_PLAYPAUSE":    KEY_PLAYPAUSE,
	"KEY_PREVIOUSSONG": KEY_PREVIOUSSONG,
	"KEY_STOPCD":       KEY_STOPCD,
	"KEY_PLAYCD":       KEY_PLAYCD,
	"KEY_PAUSECD":      KEY_PAUSECD,
	"KEY_CHANNELUP":    KEY_CHANNELUP,
	"KEY_CHANNELDOWN":  KEY_CHANNELDOWN,
	"REL_DIAL":         REL_DIAL,
	"REL_WHEEL":        REL_WHEEL,
}
