// Package config loads the YAML host description: the world, its bodies, the
// force plugins attached to them and the WebSocket ingress.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/forcebridge/internal/core/observability/log"
	"github.com/zeusync/forcebridge/internal/core/systems/physics"
	"github.com/zeusync/forcebridge/internal/plugins/force"
)

const (
	DefaultListen    = ":8080"
	DefaultPath      = "/ws"
	DefaultReadLimit = 4096
	DefaultLogLevel  = "info"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Log       LogConfig       `yaml:"log"`
	World     WorldConfig     `yaml:"world"`
	Plugins   []force.Config  `yaml:"plugins"`
	Transport TransportConfig `yaml:"transport"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type WorldConfig struct {
	StepRate int          `yaml:"step_rate"`
	Gravity  Vec3         `yaml:"gravity"`
	Bodies   []BodyConfig `yaml:"bodies"`
}

type BodyConfig struct {
	Name     string  `yaml:"name"`
	Mass     float64 `yaml:"mass"`
	Inertia  Vec3    `yaml:"inertia"`
	Position Vec3    `yaml:"position"`
}

type TransportConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type WebSocketConfig struct {
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	ReadLimit int64  `yaml:"read_limit"`
}

// Vec3 reads a three element YAML sequence.
type Vec3 [3]float64

func (v *Vec3) UnmarshalYAML(node *yaml.Node) error {
	var values []float64
	if err := node.Decode(&values); err != nil {
		return err
	}
	if len(values) != 3 {
		return fmt.Errorf("line %d: expected 3 components, got %d", node.Line, len(values))
	}
	copy(v[:], values)
	return nil
}

func (v Vec3) Vec() mgl64.Vec3 { return mgl64.Vec3(v) }

// Default returns a configuration with every default applied and no bodies or plugins.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads and decodes the file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a YAML description, applies defaults and validates it. Plugin
// entries are not validated here: a bad plugin entry only makes that plugin
// inert when it is loaded.
func Decode(r io.Reader) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.World.StepRate == 0 {
		c.World.StepRate = physics.DefaultStepRate
	}
	ws := &c.Transport.WebSocket
	if ws.Listen == "" {
		ws.Listen = DefaultListen
	}
	if ws.Path == "" {
		ws.Path = DefaultPath
	}
	if ws.ReadLimit == 0 {
		ws.ReadLimit = DefaultReadLimit
	}
}

func (c *Config) validate() error {
	if _, ok := log.LookupLevel(c.Log.Level); !ok {
		return fmt.Errorf("%w: unknown log.level %q", ErrInvalidConfig, c.Log.Level)
	}
	if c.World.StepRate < 0 {
		return fmt.Errorf("%w: world.step_rate must be positive, got %d", ErrInvalidConfig, c.World.StepRate)
	}
	if c.Transport.WebSocket.ReadLimit < 0 {
		return fmt.Errorf("%w: transport.websocket.read_limit must be positive", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.World.Bodies))
	for i, b := range c.World.Bodies {
		if b.Name == "" {
			return fmt.Errorf("%w: world.bodies[%d] has no name", ErrInvalidConfig, i)
		}
		if _, dup := seen[b.Name]; dup {
			return fmt.Errorf("%w: duplicate body %q", ErrInvalidConfig, b.Name)
		}
		seen[b.Name] = struct{}{}
	}
	return nil
}

// BodySpecs converts the configured bodies for physics.World.AddBody.
func (c *Config) BodySpecs() []physics.BodySpec {
	specs := make([]physics.BodySpec, 0, len(c.World.Bodies))
	for _, b := range c.World.Bodies {
		specs = append(specs, physics.BodySpec{
			Name:     b.Name,
			Mass:     b.Mass,
			Inertia:  b.Inertia.Vec(),
			Position: b.Position.Vec(),
		})
	}
	return specs
}

// PhysicsConfig converts the world section for physics.NewWorld.
func (c *Config) PhysicsConfig() physics.WorldConfig {
	return physics.WorldConfig{
		StepRate: c.World.StepRate,
		Gravity:  c.World.Gravity.Vec(),
	}
}
