package app

import (
	"context"
	"fmt"

	"k8s.io/client-go/kubernetes"

	"github.com/giantswarm/ctrlloop/internal/config"
	"github.com/giantswarm/ctrlloop/internal/leaderelection"
	"github.com/giantswarm/ctrlloop/internal/leaderelection/kubelock"
	"github.com/giantswarm/ctrlloop/internal/source/kube"
)

// LeaseInfo is the current state of the configured lease.
type LeaseInfo struct {
	Lock   string
	Record *leaderelection.Record
}

// GetLease reads the lease configured in cfg without taking part in the
// election.
func GetLease(ctx context.Context, cfg config.Config) (*LeaseInfo, error) {
	restConfig, err := kube.RestConfig(cfg.Source.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load Kubernetes client configuration: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}
	return ReadLease(ctx, kubelock.New(clientset.CoordinationV1(), cfg.LeaderElection.LockNamespace, cfg.LeaderElection.LockName, ""))
}

// ReadLease reads the record behind lock.
func ReadLease(ctx context.Context, lock leaderelection.Lock) (*LeaseInfo, error) {
	record, _, err := lock.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read lease %s: %w", lock.Describe(), err)
	}
	return &LeaseInfo{Lock: lock.Describe(), Record: record}, nil
}
