package force

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/forcebridge/internal/core/events/bus"
	"github.com/zeusync/forcebridge/internal/core/observability/log"
	"github.com/zeusync/forcebridge/internal/core/systems/physics"
	"github.com/zeusync/forcebridge/internal/core/wrench"
)

type fakeBody struct {
	mu      sync.Mutex
	name    string
	forces  []mgl64.Vec3
	torques []mgl64.Vec3
}

func (b *fakeBody) Name() string { return b.name }

func (b *fakeBody) AddForce(f mgl64.Vec3) {
	b.mu.Lock()
	b.forces = append(b.forces, f)
	b.mu.Unlock()
}

func (b *fakeBody) AddTorque(t mgl64.Vec3) {
	b.mu.Lock()
	b.torques = append(b.torques, t)
	b.mu.Unlock()
}

func (b *fakeBody) calls() (forces, torques []mgl64.Vec3) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]mgl64.Vec3(nil), b.forces...), append([]mgl64.Vec3(nil), b.torques...)
}

type fakeConnection struct {
	engine *fakeEngine
	id     int
}

func (c fakeConnection) Disconnect() {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	delete(c.engine.callbacks, c.id)
}

type fakeEngine struct {
	mu         sync.Mutex
	bodies     map[string]*fakeBody
	callbacks  map[int]physics.UpdateFunc
	nextID     int
	connects   int
	connectErr error
	panicking  bool
	hookPanics bool
	step       uint64
}

func newFakeEngine(names ...string) *fakeEngine {
	e := &fakeEngine{
		bodies:    make(map[string]*fakeBody),
		callbacks: make(map[int]physics.UpdateFunc),
	}
	for _, n := range names {
		e.bodies[n] = &fakeBody{name: n}
	}
	return e
}

func (e *fakeEngine) Body(name string) (physics.Body, bool) {
	if e.panicking {
		panic("model not ready")
	}
	b, ok := e.bodies[name]
	if !ok {
		return nil, false
	}
	return b, true
}

func (e *fakeEngine) ConnectUpdateBegin(fn physics.UpdateFunc) (physics.Connection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connects++
	if e.hookPanics {
		panic("update hook unavailable")
	}
	if e.connectErr != nil {
		return nil, e.connectErr
	}
	e.nextID++
	e.callbacks[e.nextID] = fn
	return fakeConnection{engine: e, id: e.nextID}, nil
}

// tick runs n steps, holding the engine lock for each so Disconnect waits for
// an in-flight step like the real world does.
func (e *fakeEngine) tick(n int) {
	for i := 0; i < n; i++ {
		e.mu.Lock()
		e.step++
		info := physics.UpdateInfo{Step: e.step, Dt: time.Millisecond}
		for _, cb := range e.callbacks {
			cb(info)
		}
		e.mu.Unlock()
	}
}

type failingSubscriber struct{ calls int }

func (s *failingSubscriber) Subscribe(string, bus.EventHandler) (bus.Subscription, error) {
	s.calls++
	return nil, errors.New("transport down")
}

func newObservedLogger() (log.Log, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return log.NewFromZap(zap.New(core)), logs
}

func publish(t *testing.T, b bus.EventBus, channel string, data any) {
	t.Helper()
	require.NoError(t, b.Publish(bus.NewEvent(channel, "test", data)))
}

func TestPlugin_ZeroBeforeAnyWrite(t *testing.T) {
	engine := newFakeEngine("box")
	events := bus.New()
	p := New("box_force", log.Nop())
	require.NoError(t, p.Load(engine, events, Config{LinkName: "box"}))

	require.Equal(t, StateActive, p.State())
	require.Equal(t, DefaultTopicName, p.Channel())
	require.Equal(t, wrench.Zero(), p.Command())

	engine.tick(5)
	forces, torques := engine.bodies["box"].calls()
	require.Len(t, forces, 5)
	require.Len(t, torques, 5)
	for i := range forces {
		require.Equal(t, mgl64.Vec3{}, forces[i])
		require.Equal(t, mgl64.Vec3{}, torques[i])
	}
}

func TestPlugin_SteadyStateReassertion(t *testing.T) {
	engine := newFakeEngine("box")
	events := bus.New()
	p := New("box_force", log.Nop())
	require.NoError(t, p.Load(engine, events, Config{LinkName: "box", TopicName: "cmd"}))

	publish(t, events, "cmd", wrench.New(1, 2, 3, 4, 5, 6))

	const steps = 250
	engine.tick(steps)

	forces, torques := engine.bodies["box"].calls()
	require.Len(t, forces, steps)
	require.Len(t, torques, steps)
	for i := 0; i < steps; i++ {
		require.Equal(t, mgl64.Vec3{1, 2, 3}, forces[i])
		require.Equal(t, mgl64.Vec3{4, 5, 6}, torques[i])
	}
	require.Equal(t, Stats{Received: 1, Applied: steps}, p.Stats())
}

func TestPlugin_LastWriteWins(t *testing.T) {
	engine := newFakeEngine("box")
	events := bus.New()
	p := New("", log.Nop())
	require.NoError(t, p.Load(engine, events, Config{LinkName: "box"}))

	publish(t, events, DefaultTopicName, wrench.New(1, 1, 1, 1, 1, 1))
	publish(t, events, DefaultTopicName, wrench.Message{Force: wrench.Vector3{X: 2}})
	publish(t, events, DefaultTopicName, &wrench.Message{Torque: wrench.Vector3{Z: -3}})

	for i := 0; i < 3; i++ {
		require.Equal(t, wrench.New(0, 0, 0, 0, 0, -3), p.Command())
	}
	engine.tick(1)
	forces, torques := engine.bodies["box"].calls()
	require.Equal(t, []mgl64.Vec3{{0, 0, 0}}, forces)
	require.Equal(t, []mgl64.Vec3{{0, 0, -3}}, torques)
}

func TestPlugin_UnexpectedPayloadIsDropped(t *testing.T) {
	engine := newFakeEngine("box")
	events := bus.New()
	p := New("box_force", log.Nop())
	require.NoError(t, p.Load(engine, events, Config{LinkName: "box"}))

	publish(t, events, DefaultTopicName, wrench.New(1, 0, 0, 0, 0, 0))
	err := events.Publish(bus.NewEvent(DefaultTopicName, "test", "not a wrench"))
	require.ErrorIs(t, err, ErrUnexpectedPayload)
	err = events.Publish(bus.NewEvent(DefaultTopicName, "test", (*wrench.Message)(nil)))
	require.ErrorIs(t, err, ErrUnexpectedPayload)

	require.Equal(t, wrench.New(1, 0, 0, 0, 0, 0), p.Command())
	require.Equal(t, uint64(2), p.Stats().Dropped)
}

func TestPlugin_ResolutionFailureIsInert(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "missing link name", cfg: Config{}, wantErr: ErrMissingLinkName},
		{name: "unknown link", cfg: Config{LinkName: "ghost"}, wantErr: ErrLinkNotFound},
		{name: "bad channel", cfg: Config{LinkName: "box", TopicName: "has space"}, wantErr: ErrInvalidChannel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine("box")
			events := bus.New()
			logger, logs := newObservedLogger()
			p := New("box_force", logger)

			err := p.Load(engine, events, tt.cfg)
			require.ErrorIs(t, err, tt.wantErr)
			require.Equal(t, StateInert, p.State())
			require.Zero(t, engine.connects)
			require.Empty(t, events.GetChannels())

			engine.tick(100)
			forces, torques := engine.bodies["box"].calls()
			require.Empty(t, forces)
			require.Empty(t, torques)
			require.Zero(t, p.Stats().Applied)

			require.ErrorIs(t, p.Load(engine, events, Config{LinkName: "box"}), ErrAlreadyLoaded)
			require.Equal(t, StateInert, p.State())

			require.Equal(t, 1, logs.FilterMessage("force plugin inert").Len())
			require.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)
		})
	}
}

func TestPlugin_TransportFailureIsInert(t *testing.T) {
	engine := newFakeEngine("box")
	sub := &failingSubscriber{}
	p := New("box_force", log.Nop())

	err := p.Load(engine, sub, Config{LinkName: "box"})
	require.ErrorIs(t, err, ErrTransportFailed)
	require.Equal(t, StateInert, p.State())
	require.Equal(t, 1, sub.calls)
	require.Zero(t, engine.connects)
}

func TestPlugin_EngineFailureCancelsSubscription(t *testing.T) {
	engine := newFakeEngine("box")
	engine.connectErr = errors.New("no world")
	events := bus.New()
	p := New("box_force", log.Nop())

	err := p.Load(engine, events, Config{LinkName: "box"})
	require.ErrorIs(t, err, ErrEngineFailed)
	require.Equal(t, StateInert, p.State())
	require.Empty(t, events.GetChannels())
}

func TestPlugin_PanicDuringLoadDoesNotEscape(t *testing.T) {
	engine := newFakeEngine("box")
	engine.panicking = true
	p := New("box_force", log.Nop())

	var err error
	require.NotPanics(t, func() { err = p.Load(engine, bus.New(), Config{LinkName: "box"}) })
	require.ErrorIs(t, err, ErrEngineFailed)
	require.Equal(t, StateInert, p.State())
}

func TestPlugin_PanicAfterSubscribeCancelsSubscription(t *testing.T) {
	engine := newFakeEngine("box")
	engine.hookPanics = true
	events := bus.New()
	p := New("box_force", log.Nop())

	var err error
	require.NotPanics(t, func() { err = p.Load(engine, events, Config{LinkName: "box"}) })
	require.ErrorIs(t, err, ErrEngineFailed)
	require.Equal(t, StateInert, p.State())
	require.Zero(t, events.GetMetrics().SubscribersActive)
	require.Empty(t, events.GetChannels())

	publish(t, events, DefaultTopicName, wrench.New(1, 2, 3, 4, 5, 6))
	require.Zero(t, p.Stats().Received)
	require.Equal(t, wrench.Zero(), p.Command())

	p.Unload()
	require.Equal(t, StateInert, p.State())
}

func TestPlugin_LoadTwice(t *testing.T) {
	engine := newFakeEngine("box")
	events := bus.New()
	p := New("box_force", log.Nop())
	require.NoError(t, p.Load(engine, events, Config{LinkName: "box"}))
	require.ErrorIs(t, p.Load(engine, events, Config{LinkName: "box"}), ErrAlreadyLoaded)
	require.Equal(t, StateActive, p.State())
	require.Equal(t, 1, engine.connects)
}

func TestPlugin_UnloadStopsEverything(t *testing.T) {
	engine := newFakeEngine("box")
	events := bus.New()
	p := New("box_force", log.Nop())
	require.NoError(t, p.Load(engine, events, Config{LinkName: "box", Namespace: "/robot"}))
	require.Equal(t, "/robot/force_bridge", p.Channel())

	publish(t, events, "/robot/force_bridge", wrench.New(1, 0, 0, 0, 0, 0))
	engine.tick(3)
	p.Unload()
	p.Unload()
	require.Equal(t, StateUnloaded, p.State())

	publish(t, events, "/robot/force_bridge", wrench.New(9, 9, 9, 9, 9, 9))
	engine.tick(3)

	require.Equal(t, wrench.New(1, 0, 0, 0, 0, 0), p.Command())
	require.Equal(t, Stats{Received: 1, Applied: 3}, p.Stats())
	require.Empty(t, events.GetChannels())
}

func TestPlugin_UnloadBeforeLoad(t *testing.T) {
	p := New("box_force", log.Nop())
	p.Unload()
	require.Equal(t, StateUnloaded, p.State())
	require.ErrorIs(t, p.Load(newFakeEngine("box"), bus.New(), Config{LinkName: "box"}), ErrAlreadyLoaded)
}

func TestPlugin_ConcurrentCommandsNeverTear(t *testing.T) {
	engine := newFakeEngine("box")
	events := bus.New()
	p := New("box_force", log.Nop())
	require.NoError(t, p.Load(engine, events, Config{LinkName: "box"}))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				v := float64(base*1_000_000 + i)
				_ = events.Publish(bus.NewEvent(DefaultTopicName, "w", wrench.New(v, v, v, v, v, v)))
			}
		}(w)
	}

	engine.tick(2000)
	close(stop)
	wg.Wait()

	forces, torques := engine.bodies["box"].calls()
	require.Len(t, forces, 2000)
	for i := range forces {
		f, tq := forces[i], torques[i]
		if f[0] != f[1] || f[1] != f[2] || f[2] != tq[0] || tq[0] != tq[1] || tq[1] != tq[2] {
			t.Fatalf("tick %d applied a torn wrench: force %v torque %v", i, f, tq)
		}
	}
}

func TestPlugin_TeardownRacingCommandFlood(t *testing.T) {
	world := physics.NewWorld(physics.WorldConfig{StepRate: 1000}, log.Nop())
	defer world.Close()
	_, err := world.AddBody(physics.BodySpec{Name: "box", Mass: 1, Inertia: mgl64.Vec3{1, 1, 1}})
	require.NoError(t, err)

	events := bus.New()
	p := New("box_force", log.Nop())
	require.NoError(t, p.Load(world, events, Config{LinkName: "box"}))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var publishes atomic.Int64
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				v := float64(base + i)
				_ = events.Publish(bus.NewEvent(DefaultTopicName, "flood", wrench.New(v, 0, 0, 0, 0, v)))
				publishes.Add(1)
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				world.Step()
			}
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NotPanics(t, p.Unload)
	final := p.Command()
	statsAtUnload := p.Stats()

	time.Sleep(10 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Equal(t, StateUnloaded, p.State())
	assert.Equal(t, final, p.Command())
	assert.Equal(t, statsAtUnload, p.Stats())
	assert.Positive(t, publishes.Load())
	assert.Zero(t, p.Stats().Rejected)
	assert.Equal(t, final.Force[0], final.Torque[2])
}
