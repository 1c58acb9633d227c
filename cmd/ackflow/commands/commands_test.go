package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func writeProgram(t *testing.T, lines int) string {
	t.Helper()

	var sb strings.Builder
	sb.WriteString("; generated test program\nG28\n")
	for i := range lines {
		fmt.Fprintf(&sb, "G1 X%d Y%d F3000 ; move %d\n", i, i, i)
	}

	path := filepath.Join(t.TempDir(), "program.gcode")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))

	return path
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ackflow", "config.yaml")

	out, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	require.FileExists(t, path)

	_, err = execute(t, "--config", path, "config", "init")
	require.Error(t, err, "an existing file is kept without --force")

	_, err = execute(t, "--config", path, "config", "init", "--force")
	require.NoError(t, err)

	out, err = execute(t, "--config", path, "--log-level", "warn", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "inflight_cap: 45")
	assert.Contains(t, out, "level: warn")
}

func TestConfigShow_InvalidOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := execute(t, "--config", path, "--log-format", "xml", "config", "show")
	require.Error(t, err)
}

func TestReplay(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	program := writeProgram(t, 40)

	out, err := execute(t, "--config", cfgPath, "--log-level", "error",
		"replay", program, "--block-time", "1ms", "--planner", "8", "--command", "4")
	require.NoError(t, err)

	assert.Contains(t, out, "printing")
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "Firmware accepted")
	assert.Contains(t, out, "41", "every command is accepted by the firmware")
}

func TestReplay_WithResends(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	program := writeProgram(t, 30)

	out, err := execute(t, "--config", cfgPath, "--log-level", "error",
		"replay", program, "--block-time", "1ms", "--reject-every", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "Firmware rejected")
}

func TestReplay_Transfer(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	program := writeProgram(t, 10)

	out, err := execute(t, "--config", cfgPath, "--log-level", "error",
		"replay", program, "--block-time", "1ms", "--transfer", "part.gco")
	require.NoError(t, err)
	assert.Contains(t, out, "transferring")
}

func TestReplay_Errors(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	_, err := execute(t, "--config", cfgPath, "replay", filepath.Join(t.TempDir(), "missing.gcode"))
	require.Error(t, err)

	_, err = execute(t, "--config", cfgPath, "replay", writeProgram(t, 1), "--command", "1")
	require.Error(t, err)

	_, err = execute(t, "--config", cfgPath, "replay")
	require.Error(t, err, "a file argument is required")
}

func TestPrint_RequiresPort(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	_, err := execute(t, "--config", cfgPath, "print", writeProgram(t, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serial port")
}
