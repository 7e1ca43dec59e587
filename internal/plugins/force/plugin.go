// Package force applies the latest commanded wrench to one body on every
// world step.
//
// Commands arrive on a bus channel at any rate and from any goroutine; each
// one replaces the value in a single lock-free cell. The world's update-begin
// callback reads that cell once per step and re-applies it, since the world
// clears forces after integrating. Only the latest command matters; commands
// that arrive between two steps are overwritten, not queued.
package force

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zeusync/forcebridge/internal/core/events/bus"
	"github.com/zeusync/forcebridge/internal/core/observability/log"
	"github.com/zeusync/forcebridge/internal/core/syncv2/vars"
	"github.com/zeusync/forcebridge/internal/core/systems/physics"
	"github.com/zeusync/forcebridge/internal/core/wrench"
)

// State is the lifecycle state of a Plugin.
type State uint32

const (
	StateUnconfigured State = iota
	StateResolving
	StateInert
	StateActive
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateResolving:
		return "resolving"
	case StateInert:
		return "inert"
	case StateActive:
		return "active"
	case StateUnloaded:
		return "unloaded"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Subscriber is the transport capability the plugin needs. bus.EventBus satisfies it.
type Subscriber interface {
	Subscribe(channel string, handler bus.EventHandler) (bus.Subscription, error)
}

// Stats are monotonically increasing counters.
type Stats struct {
	// Received counts commands written to the cell.
	Received uint64
	// Dropped counts events whose payload was not a wrench.
	Dropped uint64
	// Rejected counts commands that arrived after the cell was closed.
	Rejected uint64
	// Applied counts steps on which the command was applied.
	Applied uint64
}

// Plugin bridges a wrench channel to a body.
type Plugin struct {
	name   string
	logger log.Log

	// mu serializes Load and Unload; the hot paths never take it.
	mu    sync.Mutex
	state atomic.Uint32

	command *vars.AtomicValue[wrench.Wrench]
	body    physics.Body
	channel string
	sub     bus.Subscription
	conn    physics.Connection

	received atomic.Uint64
	dropped  atomic.Uint64
	rejected atomic.Uint64
	applied  atomic.Uint64
}

// New creates an unconfigured plugin holding the zero wrench.
func New(name string, logger log.Log) *Plugin {
	if name == "" {
		name = DefaultTopicName
	}
	return &Plugin{
		name:    name,
		logger:  logger.With(log.String("plugin", name)),
		command: vars.NewAtomicValue(wrench.Zero()),
	}
}

func (p *Plugin) Name() string { return p.name }

func (p *Plugin) State() State { return State(p.state.Load()) }

// Channel returns the resolved channel, or "" if the plugin never got that far.
func (p *Plugin) Channel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

// Command returns the wrench currently being applied.
func (p *Plugin) Command() wrench.Wrench { return p.command.Get() }

func (p *Plugin) Stats() Stats {
	return Stats{
		Received: p.received.Load(),
		Dropped:  p.dropped.Load(),
		Rejected: p.rejected.Load(),
		Applied:  p.applied.Load(),
	}
}

// Load resolves the target body, subscribes to the wrench channel and hooks
// the world update. Any failure is logged once and leaves the plugin inert;
// the error is returned for callers that want it but is never fatal. Load
// only succeeds once per plugin.
func (p *Plugin) Load(engine physics.Engine, transport Subscriber, cfg Config) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() != StateUnconfigured {
		return fmt.Errorf("%w: state is %s", ErrAlreadyLoaded, p.State())
	}
	p.setState(StateResolving)

	defer func() {
		if r := recover(); r != nil {
			err = p.inert(fmt.Errorf("%w: panic during load: %v", ErrEngineFailed, r))
		}
	}()

	if cfg.LinkName == "" {
		return p.inert(ErrMissingLinkName)
	}
	channel, err := cfg.Channel()
	if err != nil {
		return p.inert(err)
	}
	p.channel = channel

	body, ok := engine.Body(cfg.LinkName)
	if !ok {
		return p.inert(fmt.Errorf("%w: %s", ErrLinkNotFound, cfg.LinkName))
	}
	p.body = body

	sub, err := transport.Subscribe(channel, p.onWrench)
	if err != nil {
		return p.inert(fmt.Errorf("%w: %w", ErrTransportFailed, err))
	}
	p.sub = sub

	conn, err := engine.ConnectUpdateBegin(p.onUpdate)
	if err != nil {
		return p.inert(fmt.Errorf("%w: %w", ErrEngineFailed, err))
	}

	p.conn = conn
	p.setState(StateActive)
	p.logger.Info("force plugin active",
		log.String("link", cfg.LinkName),
		log.String("channel", channel),
	)
	return nil
}

// Unload stops delivery of new commands, disconnects the update callback and
// only then closes the command cell. It must not be called from inside a
// wrench handler or update callback of the same plugin.
func (p *Plugin) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.State() {
	case StateActive:
		_ = p.sub.Cancel()
		p.conn.Disconnect()
		p.command.Close()
		p.setState(StateUnloaded)
		stats := p.Stats()
		p.logger.Info("force plugin unloaded",
			log.Uint64("received", stats.Received),
			log.Uint64("applied", stats.Applied),
		)
	case StateUnconfigured:
		p.command.Close()
		p.setState(StateUnloaded)
	default:
		// inert stays inert; nothing was ever connected
		p.command.Close()
	}
}

// inert cancels any subscription made before the failure, so an inert plugin
// never receives commands.
func (p *Plugin) inert(err error) error {
	if p.sub != nil {
		_ = p.sub.Cancel()
		p.sub = nil
	}
	p.setState(StateInert)
	p.logger.Error("force plugin inert", log.Error(err))
	return err
}

func (p *Plugin) setState(s State) { p.state.Store(uint32(s)) }

// onWrench is the command receiver. It runs on the publisher's goroutine.
func (p *Plugin) onWrench(event bus.Event) error {
	var w wrench.Wrench
	switch m := event.Data().(type) {
	case wrench.Wrench:
		w = m
	case wrench.Message:
		w = m.Wrench()
	case *wrench.Message:
		if m == nil {
			p.dropped.Add(1)
			return fmt.Errorf("%w: nil message", ErrUnexpectedPayload)
		}
		w = m.Wrench()
	default:
		p.dropped.Add(1)
		return fmt.Errorf("%w: %T", ErrUnexpectedPayload, event.Data())
	}

	if err := p.command.Set(w); err != nil {
		p.rejected.Add(1)
		return err
	}
	p.received.Add(1)
	return nil
}

// onUpdate is the tick applier. It runs on the stepping goroutine.
func (p *Plugin) onUpdate(physics.UpdateInfo) {
	w := p.command.Get()
	p.body.AddForce(w.Force)
	p.body.AddTorque(w.Torque)
	p.applied.Add(1)
}
