package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"mediaremote/internal/device"
	"mediaremote/internal/mediaplayer"
	"mediaremote/internal/metrics"
)

// ============================================================================
// Daemon - per-player dispatch
// ============================================================================
// Requests from every source (input devices, IPC) are routed to one worker
// goroutine per player. A worker runs its player's actions in order, so a
// hold and its release stay ordered, while players never wait on each other.
// A failing or panicking action is logged and the worker moves on.
// ============================================================================

var (
	// ErrUnknownPlayer is returned for requests naming an unconfigured player.
	ErrUnknownPlayer = errors.New("unknown player")

	errQueueFull = errors.New("action queue full")
)

// playerController is the part of *mediaplayer.Controller the router uses.
type playerController interface {
	EntityID() string
	Do(ctx context.Context, action mediaplayer.Action) error
	Close() error
}

type playerWorker struct {
	ctrl  playerController
	queue chan mediaplayer.Action
}

// Router fans requests out to per-player workers.
type Router struct {
	workers map[string]*playerWorker
	logger  *slog.Logger
}

// NewRouter creates a router with one queue of queueSize per controller.
func NewRouter(ctrls []playerController, queueSize int, logger *slog.Logger) *Router {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	r := &Router{
		workers: make(map[string]*playerWorker, len(ctrls)),
		logger:  logger,
	}
	for _, c := range ctrls {
		r.workers[c.EntityID()] = &playerWorker{
			ctrl:  c,
			queue: make(chan mediaplayer.Action, queueSize),
		}
	}
	return r
}

func (r *Router) worker(req ActionRequest) (*playerWorker, error) {
	w, ok := r.workers[req.Player]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlayer, req.Player)
	}
	if !req.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", mediaplayer.ErrUnknownAction, req.Action)
	}
	return w, nil
}

// Submit queues req, waiting for queue space until ctx is done.
func (r *Router) Submit(ctx context.Context, req ActionRequest) error {
	w, err := r.worker(req)
	if err != nil {
		return err
	}
	select {
	case w.queue <- req.Action:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Offer queues req without waiting. A full queue is reported as an error.
func (r *Router) Offer(req ActionRequest) error {
	w, err := r.worker(req)
	if err != nil {
		return err
	}
	select {
	case w.queue <- req.Action:
		return nil
	default:
		return errQueueFull
	}
}

// Run starts every worker and blocks until ctx is canceled. Controllers are
// closed (releasing active holds) as their workers exit.
func (r *Router) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		w := w
		g.Go(func() error {
			r.work(gctx, w)
			return nil
		})
	}
	return g.Wait()
}

func (r *Router) work(ctx context.Context, w *playerWorker) {
	logger := r.logger.With("player", w.ctrl.EntityID())
	defer func() {
		if err := w.ctrl.Close(); err != nil {
			logger.Warn("close controller", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopping")
			return
		case action := <-w.queue:
			r.dispatch(ctx, logger, w.ctrl, action)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, logger *slog.Logger, ctrl playerController, action mediaplayer.Action) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("action panicked", "action", action, "panic", p, "stack", string(debug.Stack()))
		}
	}()
	if err := ctrl.Do(ctx, action); err != nil {
		logger.Debug("action returned error", "action", action, "error", err)
	}
}

// ============================================================================
// Daemon wiring
// ============================================================================

// runDaemon builds the transport and controllers from cfg and runs the
// router, input readers, IPC server and metrics server until ctx is canceled
// or one of them fails.
func runDaemon(ctx context.Context, cfg Config, logger *slog.Logger) error {
	transport, err := newTransport(ctx, cfg.Transport, logger)
	if err != nil {
		return err
	}
	defer transport.Close()

	m := metrics.New()

	ctrls := make([]playerController, 0, len(cfg.Players))
	for _, p := range cfg.Players {
		c, err := mediaplayer.New(p.controllerConfig(), transport, m, logger)
		if err != nil {
			return err
		}
		ctrls = append(ctrls, c)
	}

	router := NewRouter(ctrls, defaultQueueSize, logger)
	bindings := newBindings(cfg.Bindings)

	var files []*os.File
	if len(cfg.Input.Devices) > 0 {
		files, err = openInputDevices(cfg.Input.Devices)
		if err != nil {
			logger.Error("failed to open input device", "error", err, "tip", "run as root or add user to 'input' group")
			return err
		}
		defer closeAll(files)
	} else {
		logger.Info("no input devices configured; accepting IPC requests only")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return router.Run(gctx) })
	g.Go(func() error { return runIPCServer(gctx, cfg.IPC.SocketPath, router, logger) })

	if cfg.Metrics.Listen != "" {
		g.Go(func() error { return runMetricsServer(gctx, cfg.Metrics.Listen, m.Handler(), logger) })
	}
	if len(files) > 0 {
		g.Go(func() error { return pumpInput(gctx, files, bindings, router, logger) })
	}

	logger.Info("listening",
		"transport", cfg.Transport.Kind,
		"players", len(cfg.Players),
		"input_devices", cfg.Input.Devices,
		"ipc", cfg.IPC.SocketPath,
		"metrics", cfg.Metrics.Listen)

	return g.Wait()
}

// pumpInput reads input events and submits the bound requests.
func pumpInput(ctx context.Context, files []*os.File, bindings *Bindings, router *Router, logger *slog.Logger) error {
	events := make(chan inputEvent, defaultQueueSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := readInputEvents(gctx, files, events); err != nil {
			logger.Error("input reader stopped", "error", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-events:
				for _, req := range bindings.Translate(ev) {
					if err := router.Submit(gctx, req); err != nil && gctx.Err() == nil {
						logger.Warn("dropping input action", "player", req.Player, "action", req.Action, "error", err)
					}
				}
			}
		}
	})
	return g.Wait()
}

// newTransport connects the configured device transport.
func newTransport(ctx context.Context, cfg TransportConfig, logger *slog.Logger) (device.Transport, error) {
	switch cfg.Kind {
	case TransportRedis:
		return newRedisTransport(ctx, cfg.Redis)
	default:
		return newHASSTransport(ctx, cfg.HASS, logger)
	}
}
