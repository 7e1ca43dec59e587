// Package wrench holds the force/torque command value and its wire shape.
package wrench

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrDecode wraps every failure to turn bytes into a Message.
var ErrDecode = errors.New("wrench: decode failed")

// Wrench is a force and a torque, both in the body frame. It is a plain value;
// a new command is always a new Wrench.
type Wrench struct {
	Force  mgl64.Vec3
	Torque mgl64.Vec3
}

// Zero is the wrench every command cell starts with.
func Zero() Wrench {
	return Wrench{}
}

// New builds a Wrench from its six components.
func New(fx, fy, fz, tx, ty, tz float64) Wrench {
	return Wrench{
		Force:  mgl64.Vec3{fx, fy, fz},
		Torque: mgl64.Vec3{tx, ty, tz},
	}
}

func (w Wrench) String() string {
	return fmt.Sprintf("force(%g, %g, %g) torque(%g, %g, %g)",
		w.Force[0], w.Force[1], w.Force[2], w.Torque[0], w.Torque[1], w.Torque[2])
}

// Vector3 is the JSON form of a 3D vector.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Message is the inbound wire record, shaped like geometry_msgs/Wrench.
type Message struct {
	Force  Vector3 `json:"force"`
	Torque Vector3 `json:"torque"`
}

// Wrench converts the wire record into a command value, verbatim.
func (m Message) Wrench() Wrench {
	return New(m.Force.X, m.Force.Y, m.Force.Z, m.Torque.X, m.Torque.Y, m.Torque.Z)
}

// ToMessage is the inverse of Message.Wrench.
func ToMessage(w Wrench) Message {
	return Message{
		Force:  Vector3{X: w.Force[0], Y: w.Force[1], Z: w.Force[2]},
		Torque: Vector3{X: w.Torque[0], Y: w.Torque[1], Z: w.Torque[2]},
	}
}

// Decode parses exactly one JSON message. Unknown fields, wrong types and
// trailing data are rejected; missing components are zero.
func Decode(data []byte) (Message, error) {
	var m Message
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Message{}, fmt.Errorf("%w: trailing data after message", ErrDecode)
	}
	return m, nil
}
