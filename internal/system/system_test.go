package system

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindLatestFile(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.mp3")
	newer := filepath.Join(dir, "New.WAV")
	require.NoError(t, os.WriteFile(old, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(newer, []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("c"), 0o644))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	got, err := FindLatestFile(dir, AudioExtensions)
	require.NoError(t, err)
	assert.Equal(t, newer, got)

	_, err = FindLatestFile(t.TempDir(), AudioExtensions)
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("14.032000\n")
	require.NoError(t, err)
	assert.InDelta(t, 14.032, d, 1e-9)

	_, err = ParseDuration("N/A")
	assert.Error(t, err)
}

func TestPickEncoder(t *testing.T) {
	assert.Equal(t, "h264_nvenc", pickEncoder(" V....D h264_nvenc  NVIDIA NVENC H.264 encoder"))
	assert.Equal(t, "libx264", pickEncoder(" V....D libx264  libx264 H.264"))
}

func TestDefaultRenderWorkers(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultRenderWorkers(), 1)
}
