//go:build !linux

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"
)

// readInputEvents reads each device on its own goroutine. Devices are closed
// on cancellation to unblock pending reads.
func readInputEvents(ctx context.Context, files []*os.File, events chan<- inputEvent) error {
	if len(files) == 0 {
		return errors.New("no input devices provided")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		closeAll(files)
		return nil
	})

	for _, f := range files {
		f := f
		g.Go(func() error {
			buf := make([]byte, inputEventSize)
			for {
				if _, err := io.ReadFull(f, buf); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("read from %s: %w", f.Name(), err)
				}
				ev, err := decodeInputEvent(buf)
				if err != nil {
					continue
				}
				select {
				case events <- ev:
				case <-gctx.Done():
					return nil
				}
			}
		})
	}
	return g.Wait()
}
