package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadKeyCommands(t *testing.T) {
	path := writeKeyFile(t, `
combos:
  focus:
    command: wmctrl -a Discord
    description: Bring the host window forward
  screenshot:
    command: scrot
`)

	combos, err := LoadKeyCommands(path)
	require.NoError(t, err)
	require.Len(t, combos, 2)
	assert.Equal(t, "focus", combos["focus"].Name)
	assert.Equal(t, "wmctrl -a Discord", combos["focus"].Command)
	assert.Equal(t, "scrot", combos["screenshot"].Command)
}

func TestLoadKeyCommands_Errors(t *testing.T) {
	_, err := LoadKeyCommands(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadKeyCommands(writeKeyFile(t, "combos: [not, a, map]"))
	assert.Error(t, err)

	_, err = LoadKeyCommands(writeKeyFile(t, "combos:\n  focus:\n    description: nothing to run\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "focus")
}

func TestLoadMergesKeyCommandsFile(t *testing.T) {
	isolateEnv(t)
	t.Setenv("API_KEY", "a-key")
	t.Setenv("KEY_COMMANDS_FILE", writeKeyFile(t, "combos:\n  focus:\n    command: wmctrl -a Discord\n"))

	cfg, err := Load()
	require.NoError(t, err)

	focus, ok := cfg.GetKeyCommand("focus")
	require.True(t, ok)
	assert.Equal(t, "wmctrl -a Discord", focus.Command)

	_, ok = cfg.GetKeyCommand("paste")
	assert.True(t, ok, "defaults not named in the file are kept")
}
