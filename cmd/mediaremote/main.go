// Command mediaremote bridges remote controls (Linux input devices and a
// local IPC socket) to media players: held volume keys ramp the volume in
// steps, channel keys cycle the source list and transport keys pass through.
package main

func main() {
	Execute()
}
