package heapusage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	for _, name := range []string{"HU_FILE", "HU_DOUBLEFREE", "HU_OVERFLOW", "HU_USEAFTERFREE", "HU_LEAK", "HU_NOSYMS", "HU_MINSIZE", "HU_SIGNO"} {
		t.Setenv(name, "")
	}

	cfg := ConfigFromEnv()
	require.Equal(t, "hulog.txt", cfg.Output)
	assert.False(t, cfg.DoubleFree)
	assert.False(t, cfg.Overflow)
	assert.False(t, cfg.UseAfterFree)
	assert.False(t, cfg.Leak)
	assert.False(t, cfg.NoSyms)
	assert.Zero(t, cfg.MinSize)
	assert.Zero(t, cfg.Signal)
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("HU_FILE", "/tmp/custom.log")
	t.Setenv("HU_DOUBLEFREE", "1")
	t.Setenv("HU_OVERFLOW", "1")
	t.Setenv("HU_MINSIZE", "64")
	t.Setenv("HU_SIGNO", "10")

	cfg := ConfigFromEnv()
	assert.Equal(t, "/tmp/custom.log", cfg.Output)
	assert.True(t, cfg.DoubleFree)
	assert.True(t, cfg.Overflow)
	assert.EqualValues(t, 64, cfg.MinSize)
	assert.Equal(t, 10, cfg.Signal)
	assert.True(t, cfg.guardedEnabled())
}

func TestConfigGuardedEnabled(t *testing.T) {
	assert.False(t, Config{}.guardedEnabled())
	assert.True(t, Config{Overflow: true}.guardedEnabled())
	assert.True(t, Config{UseAfterFree: true}.guardedEnabled())
}
