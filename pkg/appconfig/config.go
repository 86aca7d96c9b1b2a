package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	yaml "sigs.k8s.io/yaml"
)

// KindRef names a kind the way manifests do. Derived kinds use the
// "Parent#extractor" or "Parent#extractor#child" form in Kind.
type KindRef struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
}

// GroupVersionKind converts the reference into a kind id.
func (k KindRef) GroupVersionKind() schema.GroupVersionKind {
	return schema.FromAPIVersionAndKind(k.APIVersion, k.Kind)
}

// ColumnConfig configures one column. Exactly one of Builtin or Script is set.
type ColumnConfig struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
	Width int    `json:"width,omitempty"`
	// Builtin is one of namespace, name, status, age.
	Builtin string `json:"builtin,omitempty"`
	// Script is a CEL expression over object, name, namespace and kind.
	Script string `json:"script,omitempty"`
}

type KindColumns struct {
	KindRef
	Columns []ColumnConfig `json:"columns"`
}

// ExtractorConfig derives child resources. Script must return a list (child
// ids are indexes) or a map (child ids are keys).
type ExtractorConfig struct {
	Name   string `json:"name"`
	Script string `json:"script"`
}

type KindExtractors struct {
	KindRef
	Extractors []ExtractorConfig `json:"extractors"`
}

type DiscoveryConfig struct {
	Interval metav1.Duration `json:"interval"`
	// CacheDir holds the per-cluster kind list. Empty means ~/.kw/cache.
	CacheDir string `json:"cacheDir,omitempty"`
}

type DispatcherConfig struct {
	Workers     int             `json:"workers"`
	QueueSize   int             `json:"queueSize"`
	QueuePolicy string          `json:"queuePolicy"` // "block" or "dropOldest"
	AckTimeout  metav1.Duration `json:"ackTimeout"`
}

type EvaluatorConfig struct {
	Workers int `json:"workers"`
}

type Config struct {
	Discovery  DiscoveryConfig  `json:"discovery"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Evaluator  EvaluatorConfig  `json:"evaluator"`
	Columns    []KindColumns    `json:"columns,omitempty"`
	Extractors []KindExtractors `json:"extractors,omitempty"`
}

func Default() *Config {
	return &Config{
		Discovery: DiscoveryConfig{Interval: metav1.Duration{Duration: 5 * time.Minute}},
		Dispatcher: DispatcherConfig{
			Workers:     2,
			QueueSize:   1024,
			QueuePolicy: "block",
			AckTimeout:  metav1.Duration{Duration: time.Second},
		},
		Evaluator: EvaluatorConfig{Workers: 4},
	}
}

// applyDefaults fills zero values left by a partial file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Discovery.Interval.Duration <= 0 {
		c.Discovery.Interval = d.Discovery.Interval
	}
	if c.Dispatcher.Workers <= 0 {
		c.Dispatcher.Workers = d.Dispatcher.Workers
	}
	if c.Dispatcher.QueueSize <= 0 {
		c.Dispatcher.QueueSize = d.Dispatcher.QueueSize
	}
	if c.Dispatcher.QueuePolicy == "" {
		c.Dispatcher.QueuePolicy = d.Dispatcher.QueuePolicy
	}
	if c.Dispatcher.AckTimeout.Duration <= 0 {
		c.Dispatcher.AckTimeout = d.Dispatcher.AckTimeout
	}
	if c.Evaluator.Workers <= 0 {
		c.Evaluator.Workers = d.Evaluator.Workers
	}
}

// Dir returns ~/.kw.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kw"), nil
}

// Path returns ~/.kw/config.yaml.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads ~/.kw/config.yaml if present, otherwise returns defaults.
func Load() (*Config, error) {
	p, err := Path()
	if err != nil {
		return Default(), err
	}
	return LoadFile(p)
}

// LoadFile reads the config at path. A missing file yields defaults; a
// malformed one yields defaults and the parse error.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Default(), err
	}
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return Default(), fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config to ~/.kw/config.yaml, creating the directory if needed.
func Save(cfg *Config) error {
	p, err := Path()
	if err != nil {
		return err
	}
	return SaveFile(p, cfg)
}

// SaveFile writes cfg to path.
func SaveFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
