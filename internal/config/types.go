package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Config is the top-level configuration structure for ctrlloop.
type Config struct {
	Source         SourceConfig         `yaml:"source"`
	Controller     ControllerConfig     `yaml:"controller"`
	LeaderElection LeaderElectionConfig `yaml:"leaderElection"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// SourceMode selects where watched objects come from.
type SourceMode string

const (
	SourceModeKubernetes SourceMode = "kubernetes"
	SourceModeFilesystem SourceMode = "filesystem"
)

// SourceConfig defines the watched resource and its event source.
type SourceConfig struct {
	Mode         SourceMode `yaml:"mode"`
	Kubeconfig   string     `yaml:"kubeconfig,omitempty"` // Empty uses KUBECONFIG, in-cluster or ~/.kube/config
	Group        string     `yaml:"group"`
	Version      string     `yaml:"version"`
	Resource     string     `yaml:"resource"`
	Kind         string     `yaml:"kind"`
	Namespace    string     `yaml:"namespace,omitempty"` // Empty watches all namespaces
	Directory    string     `yaml:"directory,omitempty"` // Manifest directory for filesystem mode
	ResyncPeriod Duration   `yaml:"resyncPeriod"`

	// InitialSyncTimeout bounds the first sync of the cache. Zero waits forever.
	InitialSyncTimeout Duration `yaml:"initialSyncTimeout"`
}

// GroupVersionResource returns the watched resource.
func (s SourceConfig) GroupVersionResource() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: s.Group, Version: s.Version, Resource: s.Resource}
}

// GroupVersionKind returns the kind of the watched resource.
func (s SourceConfig) GroupVersionKind() schema.GroupVersionKind {
	return schema.GroupVersionKind{Group: s.Group, Version: s.Version, Kind: s.Kind}
}

// ControllerConfig defines the reconcile loop.
type ControllerConfig struct {
	Name             string   `yaml:"name"`
	Workers          int      `yaml:"workers"`
	ReconcileTimeout Duration `yaml:"reconcileTimeout,omitempty"` // Empty derives it from the renew deadline
	BackoffBase      Duration `yaml:"backoffBase"`
	BackoffMax       Duration `yaml:"backoffMax"`
	QPS              float64  `yaml:"qps"`
	Burst            int      `yaml:"burst"`

	// ListerNamespace is the namespace the reconciler reads objects from.
	ListerNamespace string `yaml:"listerNamespace"`
}

// LeaderElectionConfig defines the lease the controllers run under.
type LeaderElectionConfig struct {
	Enabled         bool     `yaml:"enabled"`
	LockNamespace   string   `yaml:"lockNamespace"`
	LockName        string   `yaml:"lockName"`
	Identity        string   `yaml:"identity,omitempty"` // Empty generates hostname_<uuid>
	LeaseDuration   Duration `yaml:"leaseDuration"`
	RenewDeadline   Duration `yaml:"renewDeadline"`
	RetryPeriod     Duration `yaml:"retryPeriod"`
	ReleaseOnCancel bool     `yaml:"releaseOnCancel"`
}

// MetricsConfig defines the metrics and health endpoint.
type MetricsConfig struct {
	BindAddress string `yaml:"bindAddress"` // Empty disables the endpoint
}

// LoggingConfig defines log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"10s\": %w", value.Line, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}
