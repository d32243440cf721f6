package startup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinuxAutostart(t *testing.T) {
	dir := t.TempDir()
	e := &Entry{Exec: "/opt/V2 Configure/v2configure", Args: []string{"-hidden"}, ConfigDir: dir, GOOS: "linux"}

	assert.False(t, e.IsEnabled())
	require.NoError(t, e.Sync(true))
	assert.True(t, e.IsEnabled())

	b, err := os.ReadFile(filepath.Join(dir, "autostart", "v2configure.desktop"))
	require.NoError(t, err)
	assert.Contains(t, string(b), `Exec="/opt/V2 Configure/v2configure" -hidden`)

	require.NoError(t, e.Sync(false))
	assert.False(t, e.IsEnabled())
	assert.NoError(t, e.Disable())
}

func TestMacOSLaunchAgent(t *testing.T) {
	home := t.TempDir()
	e := &Entry{Exec: "/Applications/V2Configure.app/Contents/MacOS/v2configure", Args: []string{"-hidden"}, HomeDir: home, GOOS: "darwin"}

	require.NoError(t, e.Enable())
	b, err := os.ReadFile(filepath.Join(home, "Library", "LaunchAgents", "com.versioduo.v2configure.plist"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "<string>com.versioduo.v2configure</string>")
	assert.Contains(t, string(b), "<string>-hidden</string>")

	require.NoError(t, e.Disable())
	assert.False(t, e.IsEnabled())
}

func TestUnsupportedPlatform(t *testing.T) {
	e := &Entry{Exec: "x", GOOS: "plan9"}
	assert.Error(t, e.Enable())
	assert.Error(t, e.Disable())
	assert.False(t, e.IsEnabled())
}
