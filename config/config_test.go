package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

const minimalConfig = `
database:
  driver: sqlite
  dsn: "file:test?mode=memory"
rewards:
  endpoint: "http://localhost:8545"
  chain_id: 187001
  token: "0x4444444444444444444444444444444444444444"
  creator_fund: "0x2222222222222222222222222222222222222222"
  app_fund: "0x3333333333333333333333333333333333333333"
  signer_key: "aa"
admin:
  bearer_token: "secret-token"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	require.Equal(t, ":7085", cfg.ListenAddress)
	require.Equal(t, 30*24*time.Hour, cfg.Retention.Window.Duration)
	require.Equal(t, 24*time.Hour, cfg.Retention.Interval.Duration)
	require.Equal(t, 3, cfg.Rewards.Confirmations)
	require.Equal(t, 90*time.Second, cfg.Rewards.LegTimeout.Duration)
	require.Equal(t, 5*time.Second, cfg.Rewards.PollInterval.Duration)
	require.Equal(t, float64(60), cfg.Intake.RatePerMinute)
	require.Equal(t, 10, cfg.Intake.Burst)
}

func TestLoadParsesDurations(t *testing.T) {
	contents := strings.Replace(minimalConfig, "database:", `retention:
  window: "168h"
  interval: "1h"
database:`, 1)
	cfg, err := Load(writeConfig(t, contents))
	require.NoError(t, err)
	require.Equal(t, 168*time.Hour, cfg.Retention.Window.Duration)
	require.Equal(t, time.Hour, cfg.Retention.Interval.Duration)
}

func TestLoadSignerKeyFromEnv(t *testing.T) {
	t.Setenv("GREENPROOF_SIGNER_KEY", "  bb  ")
	contents := strings.Replace(minimalConfig, `signer_key: "aa"`, `signer_key_env: "GREENPROOF_SIGNER_KEY"`, 1)
	cfg, err := Load(writeConfig(t, contents))
	require.NoError(t, err)
	require.Equal(t, "bb", cfg.Rewards.SignerKey)
}

func TestLoadSignerKeyFromFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "signer.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("cc\n"), 0o600))
	contents := strings.Replace(minimalConfig, `signer_key: "aa"`, `signer_key_file: "`+keyPath+`"`, 1)
	cfg, err := Load(writeConfig(t, contents))
	require.NoError(t, err)
	require.Equal(t, "cc", cfg.Rewards.SignerKey)
}

func TestLoadBearerTokenFromFile(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "bearer.token")
	require.NoError(t, os.WriteFile(tokenPath, []byte("file-token\n"), 0o600))
	contents := strings.Replace(minimalConfig, `bearer_token: "secret-token"`,
		`bearer_token_file: "`+tokenPath+`"`, 1)
	cfg, err := Load(writeConfig(t, contents))
	require.NoError(t, err)
	require.Equal(t, "file-token", cfg.Admin.BearerToken)
}

func TestLoadRejectsMissingFields(t *testing.T) {
	cases := map[string]struct {
		mutate func(string) string
		want   string
	}{
		"missing dsn": {
			mutate: func(s string) string { return strings.Replace(s, `dsn: "file:test?mode=memory"`, "", 1) },
			want:   "dsn",
		},
		"bad driver": {
			mutate: func(s string) string { return strings.Replace(s, "driver: sqlite", "driver: mysql", 1) },
			want:   "driver",
		},
		"missing signer": {
			mutate: func(s string) string { return strings.Replace(s, `signer_key: "aa"`, "", 1) },
			want:   "signer_key",
		},
		"missing bearer token": {
			mutate: func(s string) string {
				return strings.Replace(s, `bearer_token: "secret-token"`, `bearer_token: ""`, 1)
			},
			want: "bearer_token",
		},
		"missing endpoint": {
			mutate: func(s string) string { return strings.Replace(s, `endpoint: "http://localhost:8545"`, "", 1) },
			want:   "endpoint",
		},
		"missing chain id": {
			mutate: func(s string) string { return strings.Replace(s, "chain_id: 187001", "", 1) },
			want:   "chain_id",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.mutate(minimalConfig)))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
