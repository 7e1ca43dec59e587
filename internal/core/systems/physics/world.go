package physics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/forcebridge/internal/core/events/bus"
	"github.com/zeusync/forcebridge/internal/core/observability/log"
)

var _ Engine = (*World)(nil)

const (
	updateBeginChannel = "world.update_begin"
	// DefaultStepRate is used when a world is configured without a rate.
	DefaultStepRate = 1000
)

// WorldConfig holds the fixed parameters of a world.
type WorldConfig struct {
	// StepRate is the number of steps per simulated second.
	StepRate int
	Gravity  mgl64.Vec3
}

// World is a fixed-step rigid body world. Step is sequential: callbacks
// connected with ConnectUpdateBegin run on the goroutine calling Step, one
// step at a time.
type World struct {
	mu     sync.RWMutex
	bodies map[string]*RigidBody

	stepMu  sync.Mutex
	step    uint64
	simTime time.Duration

	config WorldConfig
	dt     time.Duration
	events bus.EventBus
	logger log.Log
}

// NewWorld creates an empty world. A non-positive step rate falls back to DefaultStepRate.
func NewWorld(config WorldConfig, logger log.Log) *World {
	if config.StepRate <= 0 {
		config.StepRate = DefaultStepRate
	}
	return &World{
		bodies: make(map[string]*RigidBody),
		config: config,
		dt:     time.Second / time.Duration(config.StepRate),
		events: bus.New(),
		logger: logger.With(log.String("component", "world")),
	}
}

// AddBody validates spec and adds a new body.
func (w *World) AddBody(spec BodySpec) (*RigidBody, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.bodies[spec.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateBody, spec.Name)
	}
	b := newRigidBody(spec)
	w.bodies[spec.Name] = b
	w.logger.Debug("body added", log.String("body", spec.Name), log.Float64("mass", spec.Mass))
	return b, nil
}

// Body implements Engine.
func (w *World) Body(name string) (Body, bool) {
	b, ok := w.RigidBody(name)
	if !ok {
		return nil, false
	}
	return b, true
}

// RigidBody returns the concrete body, for callers that need its state.
func (w *World) RigidBody(name string) (*RigidBody, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	b, ok := w.bodies[name]
	return b, ok
}

// BodyNames returns the names of all bodies, sorted.
func (w *World) BodyNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.bodies))
	for name := range w.bodies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type connection struct {
	sub bus.Subscription
}

func (c connection) Disconnect() { _ = c.sub.Cancel() }

// ConnectUpdateBegin implements Engine.
func (w *World) ConnectUpdateBegin(fn UpdateFunc) (Connection, error) {
	if fn == nil {
		return nil, errors.New("update callback is nil")
	}
	sub, err := w.events.Subscribe(updateBeginChannel, func(e bus.Event) error {
		fn(e.Data().(UpdateInfo))
		return nil
	})
	if err != nil {
		if errors.Is(err, bus.ErrBusClosed) {
			return nil, ErrWorldClosed
		}
		return nil, err
	}
	return connection{sub: sub}, nil
}

// Step fires update-begin callbacks, integrates every body by one fixed step
// and clears all accumulated forces and torques.
func (w *World) Step() UpdateInfo {
	w.stepMu.Lock()
	defer w.stepMu.Unlock()

	info := UpdateInfo{
		Step:     w.step + 1,
		SimTime:  w.simTime,
		Dt:       w.dt,
		WallTime: time.Now(),
	}
	_ = w.events.Publish(bus.NewEvent(updateBeginChannel, "world", info))

	w.mu.RLock()
	bodies := make([]*RigidBody, 0, len(w.bodies))
	for _, b := range w.bodies {
		bodies = append(bodies, b)
	}
	w.mu.RUnlock()

	dt := w.dt.Seconds()
	for _, b := range bodies {
		b.integrate(dt, w.config.Gravity)
	}

	w.step = info.Step
	w.simTime += w.dt
	return info
}

// Steps returns the number of completed steps.
func (w *World) Steps() uint64 {
	w.stepMu.Lock()
	defer w.stepMu.Unlock()
	return w.step
}

// SimTime returns the simulated time elapsed.
func (w *World) SimTime() time.Duration {
	w.stepMu.Lock()
	defer w.stepMu.Unlock()
	return w.simTime
}

// Dt returns the fixed step length.
func (w *World) Dt() time.Duration { return w.dt }

// Run steps the world in real time until ctx is cancelled. Ticks missed while
// a step overruns are dropped by the ticker rather than replayed.
func (w *World) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.dt)
	defer ticker.Stop()

	w.logger.Info("world running",
		log.Int("step_rate", w.config.StepRate),
		log.Int("bodies", len(w.BodyNames())),
	)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("world stopped", log.Uint64("steps", w.Steps()))
			return nil
		case <-ticker.C:
			w.Step()
		}
	}
}

// Close disconnects every update callback. Further ConnectUpdateBegin calls fail.
func (w *World) Close() error {
	return w.events.Close()
}
