// Package config loads the host configuration from YAML or TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"linkgate.ai/internal/protocol"
	"linkgate.ai/internal/sim/link"
	"linkgate.ai/internal/sim/objstore"
)

type Config struct {
	PeerID  int64  `yaml:"peer_id" toml:"peer_id"`
	Listen  string `yaml:"listen" toml:"listen"`
	DataDir string `yaml:"data_dir" toml:"data_dir"`
	ModName string `yaml:"mod_name" toml:"mod_name"`
	Version string `yaml:"version" toml:"version"`
	TickHz  int    `yaml:"tick_hz" toml:"tick_hz"`

	Grid    GridSpec    `yaml:"grid" toml:"grid"`
	Pairing PairingSpec `yaml:"pairing" toml:"pairing"`
	Index   IndexSpec   `yaml:"index" toml:"index"`

	Admins  []string     `yaml:"admins,omitempty" toml:"admins"`
	Objects []ObjectSpec `yaml:"objects,omitempty" toml:"objects"`
}

type GridSpec struct {
	Width  int `yaml:"width" toml:"width"`
	Origin int `yaml:"origin" toml:"origin"`
}

// PairingSpec configures the link cycle. TypeName and OneWayPrefix are nil
// when the key is absent.
type PairingSpec struct {
	TypeName           *string `yaml:"type_name,omitempty" toml:"type_name"`
	OneWayPrefix       *string `yaml:"oneway_prefix,omitempty" toml:"oneway_prefix"`
	WaitSeconds        float64 `yaml:"wait_seconds" toml:"wait_seconds"`
	LogIntervalSeconds float64 `yaml:"log_interval_seconds" toml:"log_interval_seconds"`
}

type IndexSpec struct {
	Disable bool `yaml:"disable" toml:"disable"`
}

// ObjectSpec seeds one object at startup.
type ObjectSpec struct {
	Seq    uint32 `yaml:"seq" toml:"seq"`
	Type   string `yaml:"type" toml:"type"`
	X      int    `yaml:"x" toml:"x"`
	Z      int    `yaml:"z" toml:"z"`
	Label  string `yaml:"label,omitempty" toml:"label"`
	Target string `yaml:"target,omitempty" toml:"target"`
}

func Defaults() Config {
	return Config{
		PeerID:  1,
		Listen:  ":8080",
		DataDir: "./data",
		ModName: protocol.ModName,
		Version: protocol.Version,
		TickHz:  10,
		Grid:    GridSpec{Width: 64, Origin: 32},
		Pairing: PairingSpec{
			WaitSeconds:        5,
			LogIntervalSeconds: 60,
		},
	}
}

// Load reads path, picking the decoder by extension. An empty path yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(b), &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", name, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", name, err)
		}
	default:
		return cfg, fmt.Errorf("%s: unsupported config format", name)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", name, err)
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Listen = strings.TrimSpace(c.Listen)
	c.ModName = strings.TrimSpace(c.ModName)
	if c.ModName == "" {
		c.ModName = protocol.ModName
	}
	c.Version = strings.TrimSpace(c.Version)
	if c.Version == "" {
		c.Version = protocol.Version
	}
	if c.TickHz <= 0 {
		c.TickHz = 10
	}
	// Blank strings count as absent.
	if p := c.Pairing.TypeName; p != nil && strings.TrimSpace(*p) == "" {
		c.Pairing.TypeName = nil
	}
	if p := c.Pairing.OneWayPrefix; p != nil && *p == "" {
		c.Pairing.OneWayPrefix = nil
	}
	admins := c.Admins[:0]
	for _, a := range c.Admins {
		if a = strings.TrimSpace(a); a != "" {
			admins = append(admins, a)
		}
	}
	c.Admins = admins
}

func (c Config) Validate() error {
	if c.PeerID <= 0 {
		return fmt.Errorf("peer_id must be positive")
	}
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.Grid.Width < 0 {
		return fmt.Errorf("grid.width must be >= 0")
	}
	if c.Pairing.WaitSeconds < 0 {
		return fmt.Errorf("pairing.wait_seconds must be >= 0")
	}
	if c.Pairing.LogIntervalSeconds < 0 {
		return fmt.Errorf("pairing.log_interval_seconds must be >= 0")
	}
	seen := map[uint32]bool{}
	for i, o := range c.Objects {
		if o.Seq == 0 {
			return fmt.Errorf("objects[%d]: seq must be positive", i)
		}
		if seen[o.Seq] {
			return fmt.Errorf("objects[%d]: duplicate seq %d", i, o.Seq)
		}
		seen[o.Seq] = true
		if strings.TrimSpace(o.Type) == "" {
			return fmt.Errorf("objects[%d]: type is required", i)
		}
		if _, err := objstore.ParseObjectID(o.Target); err != nil {
			return fmt.Errorf("objects[%d]: %w", i, err)
		}
	}
	return nil
}

func (c Config) ObjectGrid() objstore.Grid {
	return objstore.Grid{Width: c.Grid.Width, Origin: c.Grid.Origin}
}

func (c Config) LinkConfig() link.Config {
	var lc link.Config
	if c.Pairing.TypeName != nil {
		lc.TypeName = strings.TrimSpace(*c.Pairing.TypeName)
	}
	if c.Pairing.OneWayPrefix != nil {
		lc.OneWayPrefix = *c.Pairing.OneWayPrefix
	}
	lc.Wait = seconds(c.Pairing.WaitSeconds)
	lc.LogInterval = seconds(c.Pairing.LogIntervalSeconds)
	return lc
}

// SeedObjects turns the configured objects into records owned by this host.
func (c Config) SeedObjects() ([]objstore.Object, error) {
	out := make([]objstore.Object, 0, len(c.Objects))
	self := objstore.PeerID(c.PeerID)
	for _, o := range c.Objects {
		target, err := objstore.ParseObjectID(o.Target)
		if err != nil {
			return nil, err
		}
		out = append(out, objstore.Object{
			ID:     objstore.ObjectID{Owner: self, Seq: o.Seq},
			Owner:  self,
			Type:   objstore.HashName(strings.TrimSpace(o.Type)),
			Sector: objstore.SectorKey{X: o.X, Z: o.Z},
			Valid:  true,
			Target: target,
			Label:  o.Label,
		})
	}
	return out, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
