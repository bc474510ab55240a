package preflight

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkstack/chunkstack/internal/embed"
)

func TestCheckDataDir_CreatesAndProbes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	c := New(dir, nil)

	result := c.CheckDataDir()
	assert.Equal(t, StatusPass, result.Status)
	assert.True(t, result.Required)
}

func TestCheckDataDir_UnwritableParent(t *testing.T) {
	c := New("/proc/not-a-real-dir/data", nil)

	result := c.CheckDataDir()
	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
}

func TestCheckProvider_NilWarns(t *testing.T) {
	c := New(t.TempDir(), nil)

	result := c.CheckProvider(context.Background())
	assert.Equal(t, StatusWarn, result.Status)
	assert.False(t, result.IsCritical())
	assert.Contains(t, result.Message, "lexical-only")
}

func TestCheckProvider_StaticPasses(t *testing.T) {
	c := New(t.TempDir(), embed.NewStaticProvider(64))

	result := c.CheckProvider(context.Background())
	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "64")
}

func TestRunAll_HealthyEnvironment(t *testing.T) {
	c := New(t.TempDir(), embed.NewStaticProvider(64))

	results := c.RunAll(context.Background())
	require.Len(t, results, 3)
	assert.False(t, HasCriticalFailures(results))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "PASS", StatusPass.String())
	assert.Equal(t, "WARN", StatusWarn.String())
	assert.Equal(t, "FAIL", StatusFail.String())
}
