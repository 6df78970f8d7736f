package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, SourceModeKubernetes, cfg.Source.Mode)
	assert.Equal(t, "databases", cfg.Source.GroupVersionResource().Resource)
	assert.Equal(t, "stable.imaginedata.co/v1, Kind=Database", cfg.Source.GroupVersionKind().String())
	assert.Equal(t, 10*time.Second, cfg.Source.ResyncPeriod.Std())
	assert.Equal(t, "db-printing-controller", cfg.Controller.Name)
	assert.Equal(t, 4, cfg.Controller.Workers)
	assert.Equal(t, "kube-system", cfg.LeaderElection.LockNamespace)
	assert.Equal(t, "leader-election", cfg.LeaderElection.LockName)
	assert.Equal(t, 10*time.Second, cfg.LeaderElection.LeaseDuration.Std())
	assert.Equal(t, 8*time.Second, cfg.LeaderElection.RenewDeadline.Std())
	assert.Equal(t, 5*time.Second, cfg.LeaderElection.RetryPeriod.Std())
	assert.Equal(t, DefaultInitialSyncTimeout, cfg.Source.InitialSyncTimeout.Std())
}

func TestLoadConfig_MissingDefaultFileUsesDefaults(t *testing.T) {
	tempDir := t.TempDir()
	original := osUserHomeDir
	defer func() { osUserHomeDir = original }()
	osUserHomeDir = func() (string, error) { return tempDir, nil }

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
}

func TestLoadConfig_DefaultLocation(t *testing.T) {
	tempDir := t.TempDir()
	original := osUserHomeDir
	defer func() { osUserHomeDir = original }()
	osUserHomeDir = func() (string, error) { return tempDir, nil }

	dir := filepath.Join(tempDir, userConfigDir)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte("controller:\n  workers: 2\n"), 0644))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Controller.Workers)
}

func TestLoadConfig_OverridesKeepUnsetDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrlloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source:
  namespace: team-a
  resyncPeriod: 30s
controller:
  workers: 8
leaderElection:
  identity: replica-1
  retryPeriod: 2s
logging:
  level: debug
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "team-a", cfg.Source.Namespace)
	assert.Equal(t, 30*time.Second, cfg.Source.ResyncPeriod.Std())
	assert.Equal(t, 8, cfg.Controller.Workers)
	assert.Equal(t, "replica-1", cfg.LeaderElection.Identity)
	assert.Equal(t, 2*time.Second, cfg.LeaderElection.RetryPeriod.Std())
	assert.Equal(t, "debug", cfg.Logging.Level)

	// untouched sections keep defaults
	assert.Equal(t, "databases", cfg.Source.Resource)
	assert.Equal(t, 8*time.Second, cfg.LeaderElection.RenewDeadline.Std())
	assert.Equal(t, DefaultMetricsBindAddress, cfg.Metrics.BindAddress)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "malformed yaml", content: "source: [", want: "error loading config"},
		{name: "unknown field", content: "controller:\n  wrokers: 2\n", want: "wrokers"},
		{name: "bad duration", content: "source:\n  resyncPeriod: soon\n", want: "invalid duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "-")+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err, "an explicitly named file must exist")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{
			name:   "unknown source mode",
			mutate: func(c *Config) { c.Source.Mode = "etcd" },
			fields: []string{"source.mode"},
		},
		{
			name: "filesystem without directory and with leader election",
			mutate: func(c *Config) {
				c.Source.Mode = SourceModeFilesystem
			},
			fields: []string{"source.directory", "leaderElection.enabled"},
		},
		{
			name: "filesystem standalone",
			mutate: func(c *Config) {
				c.Source.Mode = SourceModeFilesystem
				c.Source.Directory = "/etc/ctrlloop/manifests"
				c.LeaderElection.Enabled = false
			},
		},
		{
			name: "controller limits",
			mutate: func(c *Config) {
				c.Controller.Workers = 0
				c.Controller.BackoffMax = Duration(time.Millisecond)
				c.Controller.Burst = 0
			},
			fields: []string{"controller.workers", "controller.backoffMax", "controller.burst"},
		},
		{
			name: "lease timing",
			mutate: func(c *Config) {
				c.LeaderElection.LeaseDuration = Duration(8 * time.Second)
				c.LeaderElection.RetryPeriod = Duration(7 * time.Second)
			},
			fields: []string{"leaderElection.leaseDuration", "leaderElection.renewDeadline"},
		},
		{
			name: "lease timing ignored when disabled",
			mutate: func(c *Config) {
				c.LeaderElection.Enabled = false
				c.LeaderElection.LeaseDuration = 0
			},
		},
		{
			name: "reconcile timeout longer than the lease",
			mutate: func(c *Config) {
				c.Controller.ReconcileTimeout = Duration(30 * time.Second)
			},
			fields: []string{"controller.reconcileTimeout"},
		},
		{
			name: "negative timeouts",
			mutate: func(c *Config) {
				c.Controller.ReconcileTimeout = Duration(-time.Second)
				c.Source.InitialSyncTimeout = Duration(-time.Second)
			},
			fields: []string{"controller.reconcileTimeout", "source.initialSyncTimeout"},
		},
		{
			name: "long reconcile timeout without leader election",
			mutate: func(c *Config) {
				c.LeaderElection.Enabled = false
				c.Controller.ReconcileTimeout = Duration(time.Minute)
			},
		},
		{
			name: "logging",
			mutate: func(c *Config) {
				c.Logging.Level = "loud"
				c.Logging.Format = "xml"
			},
			fields: []string{"logging.level", "logging.format"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs), "expected ValidationErrors, got %v", err)
			var got []string
			for _, v := range verrs {
				got = append(got, v.Field)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}

func TestConfig_ReconcileTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	assert.Equal(t, cfg.LeaderElection.RenewDeadline.Std(), cfg.ReconcileTimeout(),
		"unset under leader election follows the renew deadline")
	assert.Less(t, cfg.ReconcileTimeout(), cfg.LeaderElection.LeaseDuration.Std())

	cfg.LeaderElection.RenewDeadline = Duration(4 * time.Second)
	assert.Equal(t, 4*time.Second, cfg.ReconcileTimeout())

	cfg.Controller.ReconcileTimeout = Duration(2 * time.Second)
	assert.Equal(t, 2*time.Second, cfg.ReconcileTimeout(), "explicit value wins")

	cfg.Controller.ReconcileTimeout = 0
	cfg.LeaderElection.Enabled = false
	assert.Equal(t, DefaultReconcileTimeout, cfg.ReconcileTimeout())
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{D: Duration(1500 * time.Millisecond)})
	require.NoError(t, err)
	assert.Equal(t, "d: 1.5s\n", string(out))
}

func TestResolveIdentity(t *testing.T) {
	id, err := LeaderElectionConfig{Identity: "foo"}.ResolveIdentity()
	require.NoError(t, err)
	assert.Equal(t, "foo", id)

	original := osHostname
	defer func() { osHostname = original }()
	osHostname = func() (string, error) { return "node-1", nil }

	first, err := LeaderElectionConfig{}.ResolveIdentity()
	require.NoError(t, err)
	second, err := LeaderElectionConfig{}.ResolveIdentity()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first, "node-1_"))
	assert.NotEqual(t, first, second, "generated identities must be unique")
}
