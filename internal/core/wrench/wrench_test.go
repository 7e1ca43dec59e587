package wrench

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Wrench
		wantErr bool
	}{
		{
			name:  "full message",
			input: `{"force":{"x":1,"y":2,"z":3},"torque":{"x":4,"y":5,"z":6}}`,
			want:  New(1, 2, 3, 4, 5, 6),
		},
		{
			name:  "missing components are zero",
			input: `{"force":{"z":-9.5}}`,
			want:  Wrench{Force: mgl64.Vec3{0, 0, -9.5}},
		},
		{
			name:  "large values pass through",
			input: `{"torque":{"x":1e300}}`,
			want:  Wrench{Torque: mgl64.Vec3{1e300, 0, 0}},
		},
		{name: "unknown field", input: `{"force":{"x":1},"extra":true}`, wantErr: true},
		{name: "wrong type", input: `{"force":{"x":"one"}}`, wantErr: true},
		{name: "not json", input: `force=1`, wantErr: true},
		{name: "trailing data", input: `{} {}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.input))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrDecode)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, m.Wrench())
		})
	}
}

func TestMessage_RoundTripKeepsNaN(t *testing.T) {
	w := New(math.NaN(), 0, math.Inf(1), 0, 0, -1)
	got := ToMessage(w).Wrench()

	require.True(t, math.IsNaN(got.Force[0]))
	require.True(t, math.IsInf(got.Force[2], 1))
	require.Equal(t, -1.0, got.Torque[2])
}

func TestMessage_JSONShape(t *testing.T) {
	data, err := json.Marshal(ToMessage(New(1, 2, 3, 4, 5, 6)))
	require.NoError(t, err)
	require.JSONEq(t, `{"force":{"x":1,"y":2,"z":3},"torque":{"x":4,"y":5,"z":6}}`, string(data))
}

func TestZero(t *testing.T) {
	require.Equal(t, Wrench{}, Zero())
	require.Equal(t, "force(0, 0, 0) torque(0, 0, 0)", Zero().String())
}
