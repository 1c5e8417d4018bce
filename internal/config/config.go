// Package config loads the flux configuration: the shard topology and the
// dispatcher settings.
//
// The file is YAML. It is checked structurally against an embedded CUE
// schema (schema.cue) and then semantically (unique shard ids, bucket ranges
// covering every bucket exactly once, parseable durations).
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/flux/internal/dispatch"
	"github.com/roach88/flux/internal/ir"
	"github.com/roach88/flux/internal/shard"
	"github.com/roach88/flux/internal/store"
)

//go:embed schema.cue
var schemaCUE string

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root of the configuration file.
type Config struct {
	Shards   []ShardConfig  `yaml:"shards"`
	Dispatch DispatchConfig `yaml:"dispatch"`

	// dir is the directory relative shard paths resolve against.
	dir string
}

// ShardConfig places one shard.
type ShardConfig struct {
	ID      int          `yaml:"id"`
	Path    string       `yaml:"path"`
	Buckets *BucketRange `yaml:"buckets,omitempty"`
}

// BucketRange is an inclusive range of hash buckets.
type BucketRange struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// DispatchConfig configures the HTTP dispatcher.
type DispatchConfig struct {
	Timeout     Duration          `yaml:"timeout,omitempty"`
	MaxAttempts int               `yaml:"max_attempts,omitempty"`
	Backoff     Duration          `yaml:"backoff,omitempty"`
	Concurrency int               `yaml:"concurrency,omitempty"`
	Endpoints   map[string]string `yaml:"endpoints,omitempty"`
}

// Duration is a time.Duration written as "5s" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a single-shard layout under ./flux-data with the
// dispatcher defaults.
func Default() *Config {
	c := &Config{
		Shards: []ShardConfig{{ID: 0, Path: filepath.Join("flux-data", "shard-0.db")}},
		dir:    ".",
	}
	c.applyDefaults()
	return c
}

// Load reads and validates the configuration file at path.
// Relative shard paths are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	c.dir = filepath.Dir(path)
	return c, nil
}

// Parse validates and decodes configuration YAML.
func Parse(data []byte) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := checkSchema(raw); err != nil {
		return nil, err
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.dir = "."
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// checkSchema unifies the decoded document with #Config.
func checkSchema(raw any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = Duration(dispatch.DefaultTimeout)
	}
	if c.Dispatch.MaxAttempts == 0 {
		c.Dispatch.MaxAttempts = dispatch.DefaultMaxAttempts
	}
	if c.Dispatch.Backoff == 0 {
		c.Dispatch.Backoff = Duration(dispatch.DefaultBackoff)
	}
	if c.Dispatch.Concurrency == 0 {
		c.Dispatch.Concurrency = 8
	}
}

// Validate runs the semantic checks. Building the partition table verifies
// bucket coverage.
func (c *Config) Validate() error {
	if len(c.Shards) == 0 {
		return fmt.Errorf("%w: no shards", ErrInvalidConfig)
	}

	ids := make(map[int]bool)
	paths := make(map[string]bool)
	withBuckets := 0
	for _, s := range c.Shards {
		if ids[s.ID] {
			return fmt.Errorf("%w: duplicate shard id %d", ErrInvalidConfig, s.ID)
		}
		ids[s.ID] = true
		if paths[s.Path] {
			return fmt.Errorf("%w: shards %d share path %s", ErrInvalidConfig, s.ID, s.Path)
		}
		paths[s.Path] = true
		if s.Buckets != nil {
			withBuckets++
		}
	}
	if withBuckets != 0 && withBuckets != len(c.Shards) {
		return fmt.Errorf("%w: either every shard or no shard declares buckets", ErrInvalidConfig)
	}

	if _, err := c.Table(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Ranges returns the bucket range of every shard. Without explicit buckets
// the shards split the buckets evenly in ascending id order.
func (c *Config) Ranges() ([]shard.Range, error) {
	ranges := make([]shard.Range, 0, len(c.Shards))
	if len(c.Shards) > 0 && c.Shards[0].Buckets == nil {
		ids := c.shardIDs()
		for i, r := range shard.UniformRanges(len(ids)) {
			r.Shard = ids[i]
			ranges = append(ranges, r)
		}
		return ranges, nil
	}
	for _, s := range c.Shards {
		if s.Buckets == nil {
			return nil, fmt.Errorf("shard %d has no buckets", s.ID)
		}
		ranges = append(ranges, shard.Range{Shard: ir.ShardID(s.ID), From: s.Buckets.From, To: s.Buckets.To})
	}
	return ranges, nil
}

// Table builds the partition table.
func (c *Config) Table() (*shard.Table, error) {
	ranges, err := c.Ranges()
	if err != nil {
		return nil, err
	}
	return shard.NewTable(ranges)
}

func (c *Config) shardIDs() []ir.ShardID {
	ids := make([]ir.ShardID, 0, len(c.Shards))
	for _, s := range c.Shards {
		ids = append(ids, ir.ShardID(s.ID))
	}
	slices.Sort(ids)
	return ids
}

// ShardSpecs returns where every shard database lives.
func (c *Config) ShardSpecs() []store.ShardSpec {
	specs := make([]store.ShardSpec, 0, len(c.Shards))
	for _, s := range c.Shards {
		specs = append(specs, store.ShardSpec{ID: ir.ShardID(s.ID), Path: c.resolve(s.Path)})
	}
	return specs
}

func (c *Config) resolve(path string) string {
	if path == ":memory:" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// DispatcherOptions returns the HTTP dispatcher options of the config.
func (c *Config) DispatcherOptions() []dispatch.HTTPOption {
	return []dispatch.HTTPOption{
		dispatch.WithTimeout(c.Dispatch.Timeout.Std()),
		dispatch.WithMaxAttempts(c.Dispatch.MaxAttempts),
		dispatch.WithBackoff(c.Dispatch.Backoff.Std()),
		dispatch.WithEndpoints(c.Dispatch.Endpoints),
	}
}

// Marshal encodes the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
