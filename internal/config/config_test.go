package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "lineary.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[database]
path = "./state.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Estimator.AvgCharsPerToken)
	require.Equal(t, 1.2, cfg.Estimator.RefinementBuffer)
	require.Equal(t, 0.5, cfg.Feedback.WeightFloor)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, ":8080", cfg.Server.Bind)
}

func TestLoad_RejectsBadWeightFloor(t *testing.T) {
	path := writeConfig(t, `
[feedback]
weight_floor = 1.5
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsBadBackoffFactor(t *testing.T) {
	path := writeConfig(t, `
[retry]
backoff_factor = 0.5
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestDuration_RoundTrip(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	require.Equal(t, "1m30s", d.Duration.String())

	text, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(text))
}

func TestManager_ReloadSwapsAtomically(t *testing.T) {
	path := writeConfig(t, `
[server]
bind = ":9000"
`)
	mgr, err := LoadManager(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", mgr.Get().Server.Bind)

	require.NoError(t, os.WriteFile(path, []byte(`
[server]
bind = ":9100"
`), 0o644))
	require.NoError(t, mgr.Reload(path))
	require.Equal(t, ":9100", mgr.Get().Server.Bind)
}

func TestManager_GetReturnsIndependentClone(t *testing.T) {
	path := writeConfig(t, `
[webhook]
[webhook.secrets]
gh = "s3cr3t"
`)
	mgr, err := LoadManager(path)
	require.NoError(t, err)

	snapshot := mgr.Get()
	snapshot.Webhook.Secrets["gh"] = "tampered"

	require.Equal(t, "s3cr3t", mgr.Get().Webhook.Secrets["gh"])
}
