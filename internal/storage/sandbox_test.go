package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)
	return sb
}

func TestNewSandbox(t *testing.T) {
	sandboxDir := filepath.Join(t.TempDir(), "sandbox")

	sb, err := NewSandbox(sandboxDir)
	require.NoError(t, err)

	info, err := os.Stat(sandboxDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, filepath.IsAbs(sb.BaseDir()))
}

func TestSandbox_ResolvePath(t *testing.T) {
	sb := setupTestSandbox(t)

	tests := []struct {
		name        string
		path        string
		shouldError bool
	}{
		{"simple file", "test.txt", false},
		{"nested path", "cam1/stream.m3u8", false},
		{"current dir", ".", false},
		{"parent escape attempt", "../escape.txt", true},
		{"nested parent escape", "cam1/../../escape.txt", true},
		{"absolute path escape", "/etc/passwd", true},
		{"dot dot name", "..test", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := sb.ResolvePath(tt.path)
			if tt.shouldError {
				assert.ErrorIs(t, err, ErrPathEscapesSandbox)
				assert.Contains(t, err.Error(), "escapes sandbox")
			} else {
				assert.NoError(t, err)
				assert.True(t, strings.HasPrefix(resolved, sb.BaseDir()))
			}
		})
	}
}

func TestSandbox_WriteReadRemove(t *testing.T) {
	sb := setupTestSandbox(t)

	require.NoError(t, sb.WriteFile("cam1/segment_000.ts", []byte("ts")))

	exists, err := sb.Exists("cam1/segment_000.ts")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := sb.ReadFile("cam1/segment_000.ts")
	require.NoError(t, err)
	assert.Equal(t, []byte("ts"), data)

	entries, err := sb.List("cam1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, sb.Remove("cam1/segment_000.ts"))
	exists, err = sb.Exists("cam1/segment_000.ts")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSandbox_RefusesBaseRemoval(t *testing.T) {
	sb := setupTestSandbox(t)

	assert.Error(t, sb.Remove("."))
	assert.Error(t, sb.RemoveAll("."))

	_, err := os.Stat(sb.BaseDir())
	assert.NoError(t, err)
}

func TestSandbox_OpenAndStat(t *testing.T) {
	sb := setupTestSandbox(t)
	require.NoError(t, sb.WriteFile("a.txt", []byte("hello")))

	f, err := sb.Open("a.txt")
	require.NoError(t, err)
	defer f.Close()

	info, err := sb.Stat("a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	_, err = sb.Open("../a.txt")
	assert.ErrorIs(t, err, ErrPathEscapesSandbox)
}
