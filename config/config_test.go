package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/coral/object"
	"github.com/chazu/coral/pkg/fault"
	"github.com/chazu/coral/pkg/lock"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "coral.toml", `
[log]
verbosity = 2
path = "coral.log"

[pool]
init-compact-threshold = 64

[lock]
initial-backoff-us = 5
max-backoff-us = 500

[debug]
poison-freed = true
allocation-limit = 4096

[metrics]
enabled = true
listen = "127.0.0.1:9100"
`)

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Log.Verbosity)
	assert.Equal(t, "coral.log", c.Log.Path)
	assert.Equal(t, 64, c.Pool.InitCompactThreshold)
	assert.Equal(t, int64(5), c.Lock.InitialBackoffUs)
	assert.Equal(t, int64(500), c.Lock.MaxBackoffUs)
	assert.True(t, c.Debug.PoisonFreed)
	assert.Equal(t, int64(4096), c.Debug.AllocationLimit)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9100", c.Metrics.Listen)
	assert.True(t, filepath.IsAbs(c.Path))
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "coral.yaml", "pool:\n  init-compact-threshold: 8\n")

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 8, c.Pool.InitCompactThreshold)

	def := Default()
	assert.Equal(t, def.Lock, c.Lock)
	assert.Equal(t, def.Metrics, c.Metrics)
	assert.Equal(t, 0, c.Log.Verbosity)
}

func TestTOMLPreferredOverYAML(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "coral.toml", "[pool]\ninit-compact-threshold = 1\n")
	write(t, dir, "coral.yaml", "pool:\n  init-compact-threshold: 2\n")

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Pool.InitCompactThreshold)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestLoadParseError(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "coral.toml", "[pool\n")
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse error")
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"verbosity":  "[log]\nverbosity = 9\n",
		"threshold":  "[pool]\ninit-compact-threshold = -1\n",
		"backoff":    "[lock]\ninitial-backoff-us = 100\nmax-backoff-us = 10\n",
		"zero":       "[lock]\ninitial-backoff-us = 0\n",
		"limit":      "[debug]\nallocation-limit = -5\n",
		"listen":     "[metrics]\nenabled = true\nlisten = \"nonsense\"\n",
		"listenless": "[metrics]\nenabled = true\nlisten = \"\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			write(t, dir, "coral.toml", content)
			_, err := Load(dir)
			assert.ErrorIs(t, err, fault.ErrInvalidArgument)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	write(t, root, "coral.toml", "[pool]\ninit-compact-threshold = 32\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	c, err := FindAndLoad(nested)
	require.NoError(t, err)
	assert.Equal(t, 32, c.Pool.InitCompactThreshold)
}

func TestRuntimeOptions(t *testing.T) {
	c := Default()
	c.Debug.PoisonFreed = true
	c.Debug.AllocationLimit = 64
	c.Pool.InitCompactThreshold = 16

	reg := prometheus.NewPedanticRegistry()
	opts := c.RuntimeOptions(reg)
	assert.Equal(t, 16, opts.InitCompactThreshold)
	limit, ok := opts.Allocator.(*object.LimitAllocator)
	require.True(t, ok, "limit wraps poison")
	_, ok = limit.Allocator.(*object.PoisonAllocator)
	assert.True(t, ok)

	rt, err := object.New(opts)
	require.NoError(t, err)
	cls, err := rt.NewClass("Blob")
	require.NoError(t, err)
	o, err := rt.New(cls, 48)
	require.NoError(t, err)
	_, err = rt.New(cls, 48)
	assert.ErrorIs(t, err, fault.ErrOutOfMemory)
	require.NoError(t, rt.Release(o))

	_, ok = Default().RuntimeOptions(nil).Allocator.(object.HeapAllocator)
	assert.True(t, ok)
}

func TestLockBackoff(t *testing.T) {
	c := Default()
	c.Lock.InitialBackoffUs = 2
	c.Lock.MaxBackoffUs = 8
	b := c.LockBackoff()
	for i := 0; i < 10; i++ {
		assert.LessOrEqual(t, b.Next(), 8*time.Microsecond)
	}

	var m lock.Mutex
	require.NoError(t, m.Destroy(b))
}

func TestConfigureLogging(t *testing.T) {
	c := Default()
	c.Log.Verbosity = -4
	c.ConfigureLogging()

	c.Log.Verbosity = 2
	c.Log.Path = filepath.Join(t.TempDir(), "coral.log")
	c.ConfigureLogging()
	log.Debugf("written to %s", c.Log.Path)

	c.Log = Log{Verbosity: -4}
	c.ConfigureLogging()
}
