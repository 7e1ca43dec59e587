package physics

import (
	"errors"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	ErrDuplicateBody = errors.New("body with this name already exists")
	ErrInvalidBody   = errors.New("invalid body description")
	ErrWorldClosed   = errors.New("world is closed")
)

// Body is the part of a rigid body an update callback may touch. Both vectors
// are in the body frame and accumulate until the end of the current step.
type Body interface {
	Name() string
	AddForce(force mgl64.Vec3)
	AddTorque(torque mgl64.Vec3)
}

// Engine is the narrow capability plugins are given: find a body and hook the
// start of every step.
type Engine interface {
	Body(name string) (Body, bool)
	ConnectUpdateBegin(fn UpdateFunc) (Connection, error)
}

// UpdateFunc is called on the stepping goroutine at the beginning of a step,
// before integration.
type UpdateFunc func(info UpdateInfo)

// Connection keeps an update callback registered. Once Disconnect returns the
// callback is not running and will not be called again.
type Connection interface {
	Disconnect()
}

// UpdateInfo describes the step that is about to be integrated.
type UpdateInfo struct {
	Step     uint64
	SimTime  time.Duration
	Dt       time.Duration
	WallTime time.Time
}
