package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/forcebridge/internal/config"
	"github.com/zeusync/forcebridge/internal/core/events/bus"
	"github.com/zeusync/forcebridge/internal/core/observability/log"
	"github.com/zeusync/forcebridge/internal/core/protocol/websocket"
	"github.com/zeusync/forcebridge/internal/core/systems/physics"
	"github.com/zeusync/forcebridge/internal/plugins/force"
)

// Server hosts a world, the force plugins attached to it and the WebSocket
// ingress feeding them.
type Server struct {
	// Core components
	events  bus.EventBus
	world   *physics.World
	ingress *websocket.Ingress
	plugins []*force.Plugin

	// Server state
	running  atomic.Bool
	closed   atomic.Bool
	stopOnce sync.Once

	// Configuration and logging
	config *config.Config
	logger log.Log
}

// NewServer builds the world and loads every plugin. A plugin that fails to
// load stays inert and does not fail the server; a body that cannot be added does.
func NewServer(cfg *config.Config, logger log.Log) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}

	s := &Server{
		events: bus.New(),
		world:  physics.NewWorld(cfg.PhysicsConfig(), logger),
		config: cfg,
		logger: logger.With(log.String("component", "server")),
	}

	for _, spec := range cfg.BodySpecs() {
		if _, err := s.world.AddBody(spec); err != nil {
			_ = s.world.Close()
			_ = s.events.Close()
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	active := 0
	for _, pc := range cfg.Plugins {
		p := force.New(pc.Name, logger)
		// the plugin logs its own failure; an inert plugin is kept for Stats
		if err := p.Load(s.world, s.events, pc); err == nil {
			active++
		}
		s.plugins = append(s.plugins, p)
	}

	ws := cfg.Transport.WebSocket
	s.ingress = websocket.NewIngress(websocket.Config{
		Listen:    ws.Listen,
		Path:      ws.Path,
		ReadLimit: ws.ReadLimit,
	}, s.events, logger)

	s.logger.Info("server configured",
		log.Int("bodies", len(cfg.World.Bodies)),
		log.Int("plugins", len(s.plugins)),
		log.Int("active_plugins", active),
	)
	return s, nil
}

func (s *Server) World() *physics.World       { return s.world }
func (s *Server) Bus() bus.EventBus           { return s.events }
func (s *Server) Ingress() *websocket.Ingress { return s.ingress }

// Plugins returns the plugins in configuration order.
func (s *Server) Plugins() []*force.Plugin {
	out := make([]*force.Plugin, len(s.plugins))
	copy(out, s.plugins)
	return out
}

// Run steps the world and serves the ingress until ctx is cancelled or one of
// them fails, then stops the server.
func (s *Server) Run(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}
	defer s.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.world.Run(gctx) })
	g.Go(func() error { return s.ingress.Run(gctx) })

	err := g.Wait()
	if stopErr := s.Stop(); err == nil {
		err = stopErr
	}
	return err
}

// Stop unloads every plugin before closing the world and the bus, so no
// command or update callback outlives its plugin. It is idempotent.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		for _, p := range s.plugins {
			p.Unload()
		}
		if werr := s.world.Close(); werr != nil {
			err = werr
		}
		if berr := s.events.Close(); berr != nil && err == nil {
			err = berr
		}
		s.logger.Info("server stopped", log.Uint64("steps", s.world.Steps()))
	})
	return err
}
