package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "xenon.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, `
browsers:
  - name: chrome
    driver_path: /usr/bin/chromedriver
    sessions_per_driver: 1
    max_sessions: 2
ports:
  - "40001-40002"
nodes:
  - name: n1
    url: "http://127.0.0.1:18888"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Browsers, 1)
	assert.Equal(t, []int{40001, 40002}, cfg.PortList())
	assert.Len(t, cfg.Nodes, 1)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yml")
	assert.Error(t, err)
}

func TestSanitizeRejectsSessionsExceedingMax(t *testing.T) {
	path := writeTemp(t, `
browsers:
  - name: chrome
    driver_path: /bin/true
    sessions_per_driver: 5
    max_sessions: 2
ports:
  - "40001-40005"
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "exceeds max_sessions")
}

func TestSanitizeRejectsDuplicateNames(t *testing.T) {
	path := writeTemp(t, `
browsers:
  - name: chrome
    driver_path: /bin/true
    sessions_per_driver: 1
    max_sessions: 1
  - name: chrome
    driver_path: /bin/true
    sessions_per_driver: 1
    max_sessions: 1
ports:
  - "40001-40005"
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "duplicate browser name")
}

func TestSanitizeRejectsEmptyPortsWithBrowsers(t *testing.T) {
	path := writeTemp(t, `
browsers:
  - name: chrome
    driver_path: /bin/true
    sessions_per_driver: 1
    max_sessions: 1
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "port range is required")
}

func TestSanitizeFillsDefaultDriverPath(t *testing.T) {
	path := writeTemp(t, `
browsers:
  - name: chrome
    sessions_per_driver: 1
    max_sessions: 1
ports:
  - "40001"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "chromedriver", cfg.Browsers[0].DriverPath)
}

func TestSanitizeRejectsUnknownBrowserWithoutDriverPath(t *testing.T) {
	path := writeTemp(t, `
browsers:
  - name: safari
    sessions_per_driver: 1
    max_sessions: 1
ports:
  - "40001"
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "driver_path is required")
}

func TestParsePortListSingleAndRange(t *testing.T) {
	ports, err := ParsePortList([]string{"2000", "3000-3002"})
	require.NoError(t, err)
	assert.Equal(t, []int{2000, 3000, 3001, 3002}, ports)
}

func TestParsePortListRejectsPrivilegedPorts(t *testing.T) {
	_, err := ParsePortList([]string{"80-90"})
	assert.ErrorContains(t, err, "only ports > 1024")
}

func TestParsePortListRejectsInvertedRange(t *testing.T) {
	_, err := ParsePortList([]string{"3000-2000"})
	assert.ErrorContains(t, err, "must precede")
}

func TestParsePortListRejectsOverlap(t *testing.T) {
	_, err := ParsePortList([]string{"40001-40010", "40005-40006"})
	assert.ErrorContains(t, err, "overlaps")
}

func TestEmptyConfig(t *testing.T) {
	cfg := Empty()
	assert.Empty(t, cfg.Browsers)
	assert.Empty(t, cfg.PortList())
}
