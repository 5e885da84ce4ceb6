package injector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/authority/internal/core/network"
)

func TestInitializeApp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authority.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: client\noffline: true\nlog:\n  level: error\n"), 0o600))

	app, err := InitializeApp(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Runtime.Close() })

	assert.NotNil(t, app.Logger)
	assert.Equal(t, network.Client, app.Runtime.Identity().Mode)
	assert.True(t, app.Runtime.Config().Offline)
}

func TestInitializeAppMissingFile(t *testing.T) {
	_, err := InitializeApp(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
