// Package config handles coral.toml (or coral.yaml) runtime configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"gopkg.in/yaml.v3"

	"github.com/chazu/coral/object"
	"github.com/chazu/coral/pkg/fault"
	"github.com/chazu/coral/pkg/lock"
)

var log = commonlog.GetLogger("coral.config")

// File names searched for, in order.
var FileNames = []string{"coral.toml", "coral.yaml", "coral.yml"}

// Config is a coral runtime configuration.
type Config struct {
	Log     Log     `toml:"log" yaml:"log"`
	Pool    Pool    `toml:"pool" yaml:"pool"`
	Lock    Lock    `toml:"lock" yaml:"lock"`
	Debug   Debug   `toml:"debug" yaml:"debug"`
	Metrics Metrics `toml:"metrics" yaml:"metrics"`

	// Path is the file the configuration was loaded from (set at load time).
	Path string `toml:"-" yaml:"-"`
}

// Log configures the commonlog backend.
type Log struct {
	// Verbosity follows commonlog: -4 is silent, 0 is notice, 2 is debug.
	Verbosity int    `toml:"verbosity" yaml:"verbosity" validate:"gte=-4,lte=2"`
	Path      string `toml:"path" yaml:"path"`
}

// Pool configures autorelease pools.
type Pool struct {
	InitCompactThreshold int `toml:"init-compact-threshold" yaml:"init-compact-threshold" validate:"gte=0"`
}

// Lock configures the teardown backoff of lock primitives.
type Lock struct {
	InitialBackoffUs int64 `toml:"initial-backoff-us" yaml:"initial-backoff-us" validate:"gt=0"`
	MaxBackoffUs     int64 `toml:"max-backoff-us" yaml:"max-backoff-us" validate:"gtefield=InitialBackoffUs"`
}

// Debug enables allocator checks.
type Debug struct {
	PoisonFreed     bool  `toml:"poison-freed" yaml:"poison-freed"`
	AllocationLimit int64 `toml:"allocation-limit" yaml:"allocation-limit" validate:"gte=0"`
}

// Metrics configures the Prometheus endpoint of long running commands.
type Metrics struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" yaml:"listen" validate:"required_if=Enabled true,listen"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("listen", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, port, err := net.SplitHostPort(s)
		return err == nil && port != ""
	})
	return v
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Pool: Pool{InitCompactThreshold: object.DefaultInitCompactThreshold},
		Lock: Lock{
			InitialBackoffUs: lock.DefaultInitialBackoff.Microseconds(),
			MaxBackoffUs:     lock.DefaultMaxBackoff.Microseconds(),
		},
		Metrics: Metrics{Listen: ":9090"},
	}
}

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("config: %s fails %q: %w", verrs[0].Namespace(), verrs[0].Tag(), fault.ErrInvalidArgument)
		}
		return fmt.Errorf("config: %s: %w", err, fault.ErrInvalidArgument)
	}
	return nil
}

// LoadFile parses a configuration file, choosing the format by extension.
// Fields absent from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		if err := toml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("loaded %s", c.Path)
	return c, nil
}

// Load parses the first of FileNames present in dir.
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, fmt.Errorf("no %s in %s: %w", strings.Join(FileNames, " or "), dir, fault.ErrNotFound)
}

// FindAndLoad walks up from startDir to find a configuration file, then
// loads it. Returns the defaults if none is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		c, err := Load(dir)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, fault.ErrNotFound) {
			return nil, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return Default(), nil
		}
		dir = parent
	}
}

// RuntimeOptions builds object runtime options. A nil reg leaves the
// runtime's metrics unregistered.
func (c *Config) RuntimeOptions(reg prometheus.Registerer) object.Options {
	var alloc object.Allocator = object.HeapAllocator{}
	if c.Debug.PoisonFreed {
		alloc = object.NewPoisonAllocator(alloc)
	}
	if c.Debug.AllocationLimit > 0 {
		alloc = object.NewLimitAllocator(alloc, c.Debug.AllocationLimit)
	}
	return object.Options{
		Allocator:            alloc,
		Registerer:           reg,
		InitCompactThreshold: c.Pool.InitCompactThreshold,
	}
}

// LockBackoff returns a teardown backoff for lock primitives.
func (c *Config) LockBackoff() *lock.Backoff {
	return lock.NewBackoffMicros(c.Lock.InitialBackoffUs, c.Lock.MaxBackoffUs)
}

// ConfigureLogging applies the log section to the commonlog backend.
func (c *Config) ConfigureLogging() {
	if c.Log.Path == "" {
		commonlog.Configure(c.Log.Verbosity, nil)
		return
	}
	path := c.Log.Path
	commonlog.Configure(c.Log.Verbosity, &path)
}
