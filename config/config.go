// Package config merges defaults, a YAML file, STARCAT_* environment
// variables and command line options, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/TFMV/starcat/catalog"
	"github.com/TFMV/starcat/coords"
	"github.com/TFMV/starcat/index"
	"github.com/TFMV/starcat/query"
	"github.com/TFMV/starcat/storage"
	"github.com/docopt/docopt.go"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for configuration values that cannot be used.
var ErrInvalid = errors.New("config: invalid value")

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STARCAT_"

// Config is the resolved configuration of one CLI invocation.
type Config struct {
	HDU           int
	Columns       catalog.Columns
	Frame         coords.Frame
	MinBrightness float64
	Cone          *query.Cone
	Limit         int

	Format      storage.Format
	Compression string

	Addr      string
	Token     string
	BatchSize int64

	GCSEndpoint string
	Index       index.Settings

	JSON        bool
	Verbose     bool
	MetricsFile string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HDU:           1,
		Columns:       catalog.DefaultColumns(),
		Frame:         coords.ICRS,
		MinBrightness: 10.0,
		Compression:   "snappy",
		Addr:          "localhost:8815",
		BatchSize:     query.DefaultBatchSize,
		Index:         index.DefaultSettings(),
	}
}

// fileConfig is the YAML layout. Pointers distinguish absent keys.
type fileConfig struct {
	HDU     *int `yaml:"hdu"`
	Columns struct {
		RA         string `yaml:"ra"`
		Dec        string `yaml:"dec"`
		Brightness string `yaml:"brightness"`
		ID         string `yaml:"id"`
	} `yaml:"columns"`
	Frame         string   `yaml:"frame"`
	MinBrightness *float64 `yaml:"min_brightness"`
	Limit         *int     `yaml:"limit"`
	Export        struct {
		Format      string `yaml:"format"`
		Compression string `yaml:"compression"`
	} `yaml:"export"`
	Flight struct {
		Addr      string `yaml:"addr"`
		Token     string `yaml:"token"`
		BatchSize *int64 `yaml:"batch_size"`
	} `yaml:"flight"`
	GCS struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"gcs"`
	Index struct {
		BloomFPRate *float64 `yaml:"bloom_fp_rate"`
		IDStrategy  string   `yaml:"id_strategy"`
	} `yaml:"index"`
}

// LoadFile applies the YAML file at path on top of c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %q: %w", path, err)
	}
	return c.ApplyYAML(data)
}

// ApplyYAML applies a YAML document on top of c.
func (c *Config) ApplyYAML(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: failed to parse YAML: %w", err)
	}

	if fc.HDU != nil {
		c.HDU = *fc.HDU
	}
	setString(&c.Columns.RA, fc.Columns.RA)
	setString(&c.Columns.Dec, fc.Columns.Dec)
	setString(&c.Columns.Brightness, fc.Columns.Brightness)
	setString(&c.Columns.ID, fc.Columns.ID)
	if fc.Frame != "" {
		if err := c.setFrame(fc.Frame); err != nil {
			return err
		}
	}
	if fc.MinBrightness != nil {
		c.MinBrightness = *fc.MinBrightness
	}
	if fc.Limit != nil {
		c.Limit = *fc.Limit
	}
	if fc.Export.Format != "" {
		if err := c.setFormat(fc.Export.Format); err != nil {
			return err
		}
	}
	setString(&c.Compression, fc.Export.Compression)
	setString(&c.Addr, fc.Flight.Addr)
	setString(&c.Token, fc.Flight.Token)
	if fc.Flight.BatchSize != nil {
		c.BatchSize = *fc.Flight.BatchSize
	}
	setString(&c.GCSEndpoint, fc.GCS.Endpoint)
	if fc.Index.BloomFPRate != nil {
		c.Index.BloomFilterFPRate = *fc.Index.BloomFPRate
	}
	if fc.Index.IDStrategy != "" {
		if err := c.setIDStrategy(fc.Index.IDStrategy); err != nil {
			return err
		}
	}
	return nil
}

// ApplyEnv applies STARCAT_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	env := func(name string) string { return getenv(EnvPrefix + name) }

	if v := env("HDU"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sHDU=%q", ErrInvalid, EnvPrefix, v)
		}
		c.HDU = n
	}
	setString(&c.Columns.RA, env("RA_COLUMN"))
	setString(&c.Columns.Dec, env("DEC_COLUMN"))
	setString(&c.Columns.Brightness, env("BRIGHTNESS_COLUMN"))
	setString(&c.Columns.ID, env("ID_COLUMN"))
	if v := env("FRAME"); v != "" {
		if err := c.setFrame(v); err != nil {
			return err
		}
	}
	if v := env("MIN_BRIGHTNESS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %sMIN_BRIGHTNESS=%q", ErrInvalid, EnvPrefix, v)
		}
		c.MinBrightness = f
	}
	setString(&c.Compression, env("COMPRESSION"))
	setString(&c.Addr, env("FLIGHT_ADDR"))
	setString(&c.Token, env("FLIGHT_TOKEN"))
	setString(&c.GCSEndpoint, env("GCS_ENDPOINT"))
	if v := env("ID_INDEX"); v != "" {
		if err := c.setIDStrategy(v); err != nil {
			return err
		}
	}
	return nil
}

// ApplyArgs applies parsed docopt options. Options that were not given
// leave c unchanged.
func (c *Config) ApplyArgs(opts docopt.Opts) error {
	has := func(key string) bool { return opts[key] != nil }

	if has("--hdu") {
		n, err := opts.Int("--hdu")
		if err != nil {
			return fmt.Errorf("%w: --hdu: %v", ErrInvalid, err)
		}
		c.HDU = n
	}
	if has("--min-brightness") {
		f, err := opts.Float64("--min-brightness")
		if err != nil {
			return fmt.Errorf("%w: --min-brightness: %v", ErrInvalid, err)
		}
		c.MinBrightness = f
	}
	if has("--frame") {
		v, _ := opts.String("--frame")
		if err := c.setFrame(v); err != nil {
			return err
		}
	}
	if has("--cone") {
		v, _ := opts.String("--cone")
		cone, err := ParseCone(v)
		if err != nil {
			return err
		}
		c.Cone = cone
	}
	if has("--limit") {
		n, err := opts.Int("--limit")
		if err != nil {
			return fmt.Errorf("%w: --limit: %v", ErrInvalid, err)
		}
		c.Limit = n
	}
	if has("--format") {
		v, _ := opts.String("--format")
		if err := c.setFormat(v); err != nil {
			return err
		}
	}
	if has("--compression") {
		c.Compression, _ = opts.String("--compression")
	}
	if has("--addr") {
		c.Addr, _ = opts.String("--addr")
	}
	if has("--token") {
		c.Token, _ = opts.String("--token")
	}
	if has("--id-column") {
		c.Columns.ID, _ = opts.String("--id-column")
	}
	if has("--metrics-file") {
		c.MetricsFile, _ = opts.String("--metrics-file")
	}
	if v, err := opts.Bool("--json"); err == nil {
		c.JSON = c.JSON || v
	}
	if v, err := opts.Bool("--verbose"); err == nil {
		c.Verbose = c.Verbose || v
	}
	return nil
}

// Validate reports the first unusable value.
func (c *Config) Validate() error {
	switch {
	case c.HDU < 0:
		return fmt.Errorf("%w: hdu %d", ErrInvalid, c.HDU)
	case c.Columns.RA == "" || c.Columns.Dec == "" || c.Columns.Brightness == "":
		return fmt.Errorf("%w: ra, dec and brightness columns must be named", ErrInvalid)
	case c.Limit < 0:
		return fmt.Errorf("%w: limit %d", ErrInvalid, c.Limit)
	case c.Index.BloomFilterFPRate <= 0 || c.Index.BloomFilterFPRate >= 1:
		return fmt.Errorf("%w: bloom false positive rate %g", ErrInvalid, c.Index.BloomFilterFPRate)
	}
	if _, err := storage.ParseCompression(c.Compression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Load resolves the configuration for opts: defaults, then the --config
// file, then the environment, then the options themselves.
func Load(opts docopt.Opts, getenv func(string) string) (Config, error) {
	c := Default()
	if path, _ := opts["--config"].(string); path != "" {
		if err := c.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := c.ApplyEnv(getenv); err != nil {
		return Config{}, err
	}
	if err := c.ApplyArgs(opts); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ParseCone parses "ra,dec,radius" in degrees.
func ParseCone(s string) (*query.Cone, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: cone %q, want ra,dec,radius", ErrInvalid, s)
	}
	var vals [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: cone %q: %v", ErrInvalid, s, err)
		}
		vals[i] = f
	}
	cone := &query.Cone{RA: vals[0], Dec: vals[1], Radius: vals[2]}
	if err := (&query.Query{Cone: cone}).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cone, nil
}

func (c *Config) setFrame(s string) error {
	f, err := coords.ParseFrame(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	c.Frame = f
	return nil
}

func (c *Config) setFormat(s string) error {
	f, err := storage.ParseFormat(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	c.Format = f
	return nil
}

// setIDStrategy accepts the equality strategies, hash or roaring.
func (c *Config) setIDStrategy(s string) error {
	st, err := index.ParseStrategy(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if st != index.HashIndex && st != index.RoaringBitmap {
		return fmt.Errorf("%w: id index %q, want hash or roaring", ErrInvalid, s)
	}
	c.Index.IDStrategy = st
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
