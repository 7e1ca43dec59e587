package physics

import (
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

var _ Body = (*RigidBody)(nil)

// BodySpec describes a body when it is added to a world. A zero mass makes
// the body static. Inertia is the diagonal of the body-frame inertia tensor;
// an axis with zero inertia does not rotate.
type BodySpec struct {
	Name     string
	Mass     float64
	Inertia  mgl64.Vec3
	Position mgl64.Vec3
}

func (s BodySpec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidBody)
	}
	if s.Mass < 0 {
		return fmt.Errorf("%w: %s has negative mass %g", ErrInvalidBody, s.Name, s.Mass)
	}
	for i := 0; i < 3; i++ {
		if s.Inertia[i] < 0 {
			return fmt.Errorf("%w: %s has negative inertia on axis %d", ErrInvalidBody, s.Name, i)
		}
	}
	return nil
}

// BodyState is a snapshot of a body's kinematics. AngularVelocity is in the
// body frame, everything else in the world frame.
type BodyState struct {
	Position        mgl64.Vec3
	Velocity        mgl64.Vec3
	Orientation     mgl64.Quat
	AngularVelocity mgl64.Vec3
}

// RigidBody is a single body in a World.
type RigidBody struct {
	mu   sync.Mutex
	spec BodySpec

	position    mgl64.Vec3
	velocity    mgl64.Vec3
	orientation mgl64.Quat
	angular     mgl64.Vec3

	// accumulated for the current step only, body frame
	force  mgl64.Vec3
	torque mgl64.Vec3
}

func newRigidBody(spec BodySpec) *RigidBody {
	return &RigidBody{
		spec:        spec,
		position:    spec.Position,
		orientation: mgl64.QuatIdent(),
	}
}

func (b *RigidBody) Name() string { return b.spec.Name }

func (b *RigidBody) IsStatic() bool { return b.spec.Mass == 0 }

func (b *RigidBody) AddForce(force mgl64.Vec3) {
	b.mu.Lock()
	b.force = b.force.Add(force)
	b.mu.Unlock()
}

func (b *RigidBody) AddTorque(torque mgl64.Vec3) {
	b.mu.Lock()
	b.torque = b.torque.Add(torque)
	b.mu.Unlock()
}

// Pending returns the force and torque accumulated so far in this step.
func (b *RigidBody) Pending() (force, torque mgl64.Vec3) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.force, b.torque
}

func (b *RigidBody) State() BodyState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BodyState{
		Position:        b.position,
		Velocity:        b.velocity,
		Orientation:     b.orientation,
		AngularVelocity: b.angular,
	}
}

// integrate advances the body by dt seconds with semi-implicit Euler and then
// clears the accumulators.
func (b *RigidBody) integrate(dt float64, gravity mgl64.Vec3) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer func() {
		b.force = mgl64.Vec3{}
		b.torque = mgl64.Vec3{}
	}()

	if b.IsStatic() {
		return
	}

	worldForce := b.orientation.Rotate(b.force)
	accel := worldForce.Mul(1 / b.spec.Mass).Add(gravity)
	b.velocity = b.velocity.Add(accel.Mul(dt))
	b.position = b.position.Add(b.velocity.Mul(dt))

	for i := 0; i < 3; i++ {
		if b.spec.Inertia[i] > 0 {
			b.angular[i] += b.torque[i] / b.spec.Inertia[i] * dt
		}
	}

	// q' = q + dt/2 * q * (0, w), with w in the body frame
	spin := b.orientation.Mul(mgl64.Quat{W: 0, V: b.angular}).Scale(0.5 * dt)
	b.orientation = b.orientation.Add(spin).Normalize()
}
