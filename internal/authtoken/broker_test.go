package authtoken

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope-dev/codescope/internal/apperror"
)

func TestBrokerRoundTrip(t *testing.T) {
	b, err := NewBroker(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, b.Store("embedding", "secret-token"))

	got, err := b.Load("embedding")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", got)

	// Overwrite replaces the value.
	require.NoError(t, b.Store("embedding", "rotated"))
	got, err = b.Load("embedding")
	require.NoError(t, err)
	assert.Equal(t, "rotated", got)

	require.NoError(t, b.Delete("embedding"))
	_, err = b.Load("embedding")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	// Deleting again is a no-op.
	require.NoError(t, b.Delete("embedding"))
}

func TestBrokerFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix permissions only")
	}
	dataDir := t.TempDir()
	b, err := NewBroker(dataDir)
	require.NoError(t, err)
	require.NoError(t, b.Store("embedding", "secret"))

	info, err := os.Stat(filepath.Join(dataDir, "tokens", "embedding"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestBrokerRejectsBadNames(t *testing.T) {
	b, err := NewBroker(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "a/b", `a\b`, ".."} {
		assert.Error(t, b.Store(name, "x"), name)
		_, loadErr := b.Load(name)
		assert.Error(t, loadErr, name)
	}
}

func TestSourceAdaptsBroker(t *testing.T) {
	b, err := NewBroker(t.TempDir())
	require.NoError(t, err)

	src := Source{Broker: b, Name: "embedding"}
	require.NoError(t, src.Store("tok"))

	got, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok", got)
}
