// Package config loads the pilotforge YAML configuration, applies
// environment overrides and builds the services a command needs.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pilotforge/internal/blob"
	"github.com/roach88/pilotforge/internal/catalog"
	"github.com/roach88/pilotforge/internal/engine"
	"github.com/roach88/pilotforge/internal/graph"
	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/oracle"
	"github.com/roach88/pilotforge/internal/pilot"
	"github.com/roach88/pilotforge/internal/provider"
)

// Defaults used when the file leaves a field empty.
const (
	DefaultDB      = "pilotforge.db"
	DefaultBlobDir = "payloads"

	BlobFile = "file"
	BlobS3   = "s3"
)

// Config is the whole configuration file.
type Config struct {
	DB         string            `yaml:"db"`
	Blob       BlobConfig        `yaml:"blob"`
	Catalog    string            `yaml:"catalog,omitempty"`
	Providers  []provider.Config `yaml:"providers,omitempty"`
	Oracle     oracle.Config     `yaml:"oracle"`
	Production Production        `yaml:"production"`
	Runner     RunnerConfig      `yaml:"runner"`
}

// BlobConfig selects where task payloads are written.
type BlobConfig struct {
	Kind string   `yaml:"kind"`
	Dir  string   `yaml:"dir,omitempty"`
	S3   S3Config `yaml:"s3,omitempty"`
}

// S3Config locates an S3-compatible bucket. Credentials only come from the
// environment.
type S3Config struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// Production describes what a run produces and how pilots compete.
type Production struct {
	Budget           float64              `yaml:"budget"`
	Tiers            []string             `yaml:"tiers,omitempty"`
	Segments         []ir.Segment         `yaml:"segments"`
	MaxPilots        int                  `yaml:"max_pilots,omitempty"`
	TestTaskCount    int                  `yaml:"test_task_count,omitempty"`
	Variations       int                  `yaml:"variations,omitempty"`
	SoftFailPolicy   pilot.SoftFailPolicy `yaml:"soft_fail_policy,omitempty"`
	ChainSeedImages  bool                 `yaml:"chain_seed_images,omitempty"`
	HardFailFloor    float64              `yaml:"hard_fail_floor,omitempty"`
	OverrunAllowance float64              `yaml:"overrun_allowance,omitempty"`
}

// RunnerConfig tunes graph execution.
type RunnerConfig struct {
	MaxParallel int           `yaml:"max_parallel,omitempty"`
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	BaseDelay   time.Duration `yaml:"base_delay,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DB:     DefaultDB,
		Blob:   BlobConfig{Kind: BlobFile, Dir: DefaultBlobDir},
		Oracle: oracle.Config{Kind: oracle.KindHeuristic},
		Production: Production{
			SoftFailPolicy: pilot.FreshReservation,
		},
	}
}

// Load reads the file at path over the defaults, applies env overrides and
// validates the result. An empty path loads the defaults only.
func Load(path string, env Env) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(env); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without env overrides or validation.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	if err := decode(r, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(env Env) error {
	if v, ok := env.Get("PILOTFORGE_DB"); ok {
		c.DB = v
	}
	if v, ok := env.Get("PILOTFORGE_BLOB_DIR"); ok {
		c.Blob.Dir = v
	}
	if v, ok := env.Get("PILOTFORGE_S3_ENDPOINT"); ok {
		c.Blob.Kind = BlobS3
		c.Blob.S3.Endpoint = v
	}
	if v, ok := env.Get("PILOTFORGE_S3_REGION"); ok {
		c.Blob.S3.Region = v
	}
	if v, ok := env.Get("PILOTFORGE_S3_BUCKET"); ok {
		c.Blob.S3.Bucket = v
	}
	if v, ok := env.Get("PILOTFORGE_S3_ACCESS_KEY"); ok {
		c.Blob.S3.AccessKey = v
	}
	if v, ok := env.Get("PILOTFORGE_S3_SECRET_KEY"); ok {
		c.Blob.S3.SecretKey = v
	}
	if v, ok := env.Get("PILOTFORGE_S3_USE_SSL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PILOTFORGE_S3_USE_SSL: %w", err)
		}
		c.Blob.S3.UseSSL = b
	}
	if v, ok := env.Get("GEMINI_API_KEY"); ok {
		c.Oracle.APIKey = v
	}
	return nil
}

// Validate checks the parts every command relies on. Production settings
// are checked by RunConfig since only the run command needs them.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DB) == "" {
		errs = append(errs, fmt.Errorf("db path is required"))
	}
	switch c.Blob.Kind {
	case BlobFile, "":
		if strings.TrimSpace(c.Blob.Dir) == "" {
			errs = append(errs, fmt.Errorf("blob.dir is required for file payloads"))
		}
	case BlobS3:
		if c.Blob.S3.Endpoint == "" || c.Blob.S3.Bucket == "" {
			errs = append(errs, fmt.Errorf("blob.s3 needs endpoint and bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob kind %q", c.Blob.Kind))
	}
	switch c.Oracle.Kind {
	case oracle.KindHeuristic, "":
	case oracle.KindGemini:
		if c.Oracle.APIKey == "" {
			errs = append(errs, fmt.Errorf("gemini oracle needs GEMINI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown oracle kind %q", c.Oracle.Kind))
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("providers[%d]: %s defined twice", i, p.Name))
		}
		seen[p.Name] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// LoadCatalog returns the tier catalog: the CUE file if one is configured,
// otherwise the built-in tiers.
func (c Config) LoadCatalog() (*catalog.Catalog, error) {
	if c.Catalog == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadCUE(c.Catalog)
}

// OpenBlobStore builds the configured payload store.
func (c Config) OpenBlobStore() (blob.Store, error) {
	if c.Blob.Kind == BlobS3 {
		s3, err := blob.NewS3Store(blob.S3Config{
			Endpoint:  c.Blob.S3.Endpoint,
			Region:    c.Blob.S3.Region,
			AccessKey: c.Blob.S3.AccessKey,
			SecretKey: c.Blob.S3.SecretKey,
			Bucket:    c.Blob.S3.Bucket,
			UseSSL:    c.Blob.S3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return s3, nil
	}
	fs, err := blob.NewFileStore(c.Blob.Dir)
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// RunConfig resolves the production section against a tier catalog.
func (c Config) RunConfig(cat *catalog.Catalog) (engine.RunConfig, error) {
	p := c.Production
	if p.Budget <= 0 {
		return engine.RunConfig{}, fmt.Errorf("production.budget must be positive")
	}
	if len(p.Segments) == 0 {
		return engine.RunConfig{}, fmt.Errorf("production.segments is empty")
	}
	seen := make(map[string]bool, len(p.Segments))
	for i, seg := range p.Segments {
		switch {
		case strings.TrimSpace(seg.ID) == "":
			return engine.RunConfig{}, fmt.Errorf("production.segments[%d]: id is required", i)
		case seen[seg.ID]:
			return engine.RunConfig{}, fmt.Errorf("production.segments[%d]: duplicate id %s", i, seg.ID)
		case seg.DurationSeconds <= 0:
			return engine.RunConfig{}, fmt.Errorf("production.segments[%d]: duration_seconds must be positive", i)
		}
		seen[seg.ID] = true
	}
	if p.SoftFailPolicy != "" && !p.SoftFailPolicy.Valid() {
		return engine.RunConfig{}, fmt.Errorf("production.soft_fail_policy: unknown policy %q", p.SoftFailPolicy)
	}

	tiers, err := cat.Resolve(p.Tiers)
	if err != nil {
		return engine.RunConfig{}, fmt.Errorf("production.tiers: %w", err)
	}
	return engine.RunConfig{
		Scheduler: pilot.Config{
			Budget:           p.Budget,
			Segments:         p.Segments,
			Tiers:            tiers,
			MaxPilots:        p.MaxPilots,
			TestTaskCount:    p.TestTaskCount,
			Variations:       p.Variations,
			SoftFailPolicy:   p.SoftFailPolicy,
			ChainSeedImages:  p.ChainSeedImages,
			HardFailFloor:    p.HardFailFloor,
			OverrunAllowance: p.OverrunAllowance,
		},
		Runner: c.RunnerConfig(),
	}, nil
}

// RunnerConfig returns the graph runner settings.
func (c Config) RunnerConfig() graph.Config {
	return graph.Config{
		MaxParallel: c.Runner.MaxParallel,
		MaxAttempts: c.Runner.MaxAttempts,
		BaseDelay:   c.Runner.BaseDelay,
	}
}
