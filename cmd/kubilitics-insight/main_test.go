package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-insight/internal/models"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "insight.yaml")
	body := fmt.Sprintf(`database:
  sqlite_path: %s
logging:
  console: false
index:
  refresh_interval_minutes: 0
engines:
  init_timeout_seconds: 2
`, filepath.Join(dir, "insight.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAskJSON(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, "--config", cfg, "ask", "--json", "--mode", "basic", "why", "is", "CPU", "high", "on", "web-01")
	require.NoError(t, err)

	var resp models.QueryResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, models.ModeBasic, resp.Mode)
	assert.Equal(t, "cli", resp.SessionID)
	assert.NotEmpty(t, resp.Answer)
	assert.LessOrEqual(t, resp.Confidence, models.MaxConfidence)
}

func TestAskText(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, "--config", cfg, "ask", "CPU 사용률이 높은 서버를 찾아주세요")
	require.NoError(t, err)
	assert.Contains(t, out, "mode=")
	assert.Contains(t, out, "confidence=")
}

func TestAskRejectsUnknownMode(t *testing.T) {
	_, err := run(t, "ask", "--mode", "turbo", "cpu")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turbo")
}

func TestAskRequiresQuestion(t *testing.T) {
	_, err := run(t, "ask")
	assert.Error(t, err)
}

func TestReindexFallsBackWithoutDocuments(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, "--config", cfg, "reindex")
	require.NoError(t, err)
	assert.Contains(t, out, "fallback=true")
	assert.Contains(t, out, "source error:")
}

func TestInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modes:\n  default: turbo\n"), 0o600))
	_, err := run(t, "--config", path, "reindex")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}
