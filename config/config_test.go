package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/TFMV/starcat/config"
	"github.com/TFMV/starcat/coords"
	"github.com/TFMV/starcat/index"
	"github.com/TFMV/starcat/storage"
	"github.com/docopt/docopt.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
hdu: 2
columns:
  ra: RA_ICRS
  dec: DE_ICRS
  brightness: Gmag
  id: Source
frame: galactic
min_brightness: 12.5
export:
  format: parquet
  compression: zstd
flight:
  addr: 0.0.0.0:9000
  token: from-file
gcs:
  endpoint: http://localhost:4443/storage/v1/
index:
  bloom_fp_rate: 0.001
  id_strategy: roaring
`

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault(t *testing.T) {
	t.Parallel()

	c := config.Default()
	assert.Equal(t, 1, c.HDU)
	assert.Equal(t, "brightness", c.Columns.Brightness)
	assert.Empty(t, c.Columns.ID)
	assert.Equal(t, coords.ICRS, c.Frame)
	assert.Equal(t, 10.0, c.MinBrightness)
	assert.Equal(t, "localhost:8815", c.Addr)
	assert.Equal(t, "snappy", c.Compression)
	assert.Equal(t, index.HashIndex, c.Index.IDStrategy)
	assert.NoError(t, c.Validate())
}

func TestPrecedence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "starcat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0o600))

	opts := docopt.Opts{
		"--config":         path,
		"--min-brightness": "14",
		"--cone":           "10.5, -20, 1.5",
		"--json":           true,
		"--verbose":        false,
		"--hdu":            nil,
	}
	env := envMap(map[string]string{
		"STARCAT_HDU":          "3",
		"STARCAT_FLIGHT_TOKEN": "from-env",
	})

	c, err := config.Load(opts, env)
	require.NoError(t, err)

	// File values.
	assert.Equal(t, "RA_ICRS", c.Columns.RA)
	assert.Equal(t, "Source", c.Columns.ID)
	assert.Equal(t, coords.Galactic, c.Frame)
	assert.Equal(t, storage.FormatParquet, c.Format)
	assert.Equal(t, "zstd", c.Compression)
	assert.Equal(t, "0.0.0.0:9000", c.Addr)
	assert.Equal(t, "http://localhost:4443/storage/v1/", c.GCSEndpoint)
	assert.Equal(t, 0.001, c.Index.BloomFilterFPRate)
	assert.Equal(t, index.RoaringBitmap, c.Index.IDStrategy)
	// Environment beats the file.
	assert.Equal(t, 3, c.HDU)
	assert.Equal(t, "from-env", c.Token)
	// Options beat both.
	assert.Equal(t, 14.0, c.MinBrightness)
	require.NotNil(t, c.Cone)
	assert.Equal(t, 10.5, c.Cone.RA)
	assert.Equal(t, -20.0, c.Cone.Dec)
	assert.Equal(t, 1.5, c.Cone.Radius)
	assert.True(t, c.JSON)
	assert.False(t, c.Verbose)
}

func TestInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts docopt.Opts
		env  map[string]string
	}{
		{"frame", docopt.Opts{"--frame": "supergalactic"}, nil},
		{"cone arity", docopt.Opts{"--cone": "1,2"}, nil},
		{"cone radius", docopt.Opts{"--cone": "1,2,500"}, nil},
		{"hdu", docopt.Opts{"--hdu": "first"}, nil},
		{"negative limit", docopt.Opts{"--limit": "-3"}, nil},
		{"format", docopt.Opts{"--format": "xlsx"}, nil},
		{"compression", docopt.Opts{"--compression": "rar"}, nil},
		{"env brightness", docopt.Opts{}, map[string]string{"STARCAT_MIN_BRIGHTNESS": "bright"}},
		{"env hdu", docopt.Opts{}, map[string]string{"STARCAT_HDU": "x"}},
		{"env id index", docopt.Opts{}, map[string]string{"STARCAT_ID_INDEX": "btree"}},
		{"env range id index", docopt.Opts{}, map[string]string{"STARCAT_ID_INDEX": "sorted"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(tt.opts, envMap(tt.env))
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}

	_, err := config.Load(docopt.Opts{"--config": filepath.Join(t.TempDir(), "missing.yaml")}, envMap(nil))
	assert.Error(t, err)

	c := config.Default()
	assert.Error(t, c.ApplyYAML([]byte("hdu: [")))
	assert.ErrorIs(t, c.ApplyYAML([]byte("index:\n  id_strategy: bloom\n")), config.ErrInvalid)

	require.NoError(t, c.ApplyEnv(envMap(map[string]string{"STARCAT_ID_INDEX": "hash"})))
	assert.Equal(t, index.HashIndex, c.Index.IDStrategy)
}

func TestParseCone(t *testing.T) {
	t.Parallel()

	cone, err := config.ParseCone("83.82,-5.39,0.5")
	require.NoError(t, err)
	assert.Equal(t, 83.82, cone.RA)
	assert.Equal(t, -5.39, cone.Dec)
	assert.Equal(t, 0.5, cone.Radius)

	_, err = config.ParseCone("a,b,c")
	assert.ErrorIs(t, err, config.ErrInvalid)
	_, err = config.ParseCone("0,95,1")
	assert.ErrorIs(t, err, config.ErrInvalid)
}
