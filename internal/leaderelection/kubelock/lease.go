// Package kubelock stores the leader election record in a
// coordination.k8s.io/v1 Lease.
package kubelock

import (
	"context"
	"fmt"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	coordinationv1client "k8s.io/client-go/kubernetes/typed/coordination/v1"
	"k8s.io/utils/ptr"

	"github.com/giantswarm/ctrlloop/internal/leaderelection"
)

// LeaseLock implements leaderelection.Lock on a Lease object.
type LeaseLock struct {
	namespace string
	name      string
	identity  string
	client    coordinationv1client.LeasesGetter
}

// New returns a lock on the Lease namespace/name claiming identity.
func New(client coordinationv1client.LeasesGetter, namespace, name, identity string) *LeaseLock {
	return &LeaseLock{
		namespace: namespace,
		name:      name,
		identity:  identity,
		client:    client,
	}
}

func (l *LeaseLock) Get(ctx context.Context) (*leaderelection.Record, string, error) {
	lease, err := l.client.Leases(l.namespace).Get(ctx, l.name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, "", leaderelection.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to get lease %s: %w", l.Describe(), err)
	}
	record := SpecToRecord(&lease.Spec)
	return &record, lease.ResourceVersion, nil
}

func (l *LeaseLock) Create(ctx context.Context, record leaderelection.Record) (string, error) {
	lease := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:      l.name,
			Namespace: l.namespace,
		},
		Spec: RecordToSpec(record),
	}
	created, err := l.client.Leases(l.namespace).Create(ctx, lease, metav1.CreateOptions{})
	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			return "", leaderelection.ErrConflict
		}
		return "", fmt.Errorf("failed to create lease %s: %w", l.Describe(), err)
	}
	return created.ResourceVersion, nil
}

func (l *LeaseLock) Update(ctx context.Context, record leaderelection.Record, version string) (string, error) {
	lease := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:            l.name,
			Namespace:       l.namespace,
			ResourceVersion: version,
		},
		Spec: RecordToSpec(record),
	}
	updated, err := l.client.Leases(l.namespace).Update(ctx, lease, metav1.UpdateOptions{})
	if err != nil {
		if apierrors.IsConflict(err) {
			return "", fmt.Errorf("lease %s: %w", l.Describe(), leaderelection.ErrConflict)
		}
		if apierrors.IsNotFound(err) {
			return "", leaderelection.ErrNotFound
		}
		return "", fmt.Errorf("failed to update lease %s: %w", l.Describe(), err)
	}
	return updated.ResourceVersion, nil
}

func (l *LeaseLock) Identity() string {
	return l.identity
}

func (l *LeaseLock) Describe() string {
	return l.namespace + "/" + l.name
}

// RecordToSpec converts a record to a LeaseSpec.
func RecordToSpec(r leaderelection.Record) coordinationv1.LeaseSpec {
	spec := coordinationv1.LeaseSpec{
		HolderIdentity:       ptr.To(r.HolderIdentity),
		LeaseDurationSeconds: ptr.To(int32(r.LeaseDuration / time.Second)),
		LeaseTransitions:     ptr.To(int32(r.LeaderTransitions)),
	}
	if !r.AcquireTime.IsZero() {
		spec.AcquireTime = &metav1.MicroTime{Time: r.AcquireTime}
	}
	if !r.RenewTime.IsZero() {
		spec.RenewTime = &metav1.MicroTime{Time: r.RenewTime}
	}
	return spec
}

// SpecToRecord converts a LeaseSpec to a record.
func SpecToRecord(spec *coordinationv1.LeaseSpec) leaderelection.Record {
	var r leaderelection.Record
	if spec.HolderIdentity != nil {
		r.HolderIdentity = *spec.HolderIdentity
	}
	if spec.LeaseDurationSeconds != nil {
		r.LeaseDuration = time.Duration(*spec.LeaseDurationSeconds) * time.Second
	}
	if spec.LeaseTransitions != nil {
		r.LeaderTransitions = int(*spec.LeaseTransitions)
	}
	if spec.AcquireTime != nil {
		r.AcquireTime = spec.AcquireTime.Time
	}
	if spec.RenewTime != nil {
		r.RenewTime = spec.RenewTime.Time
	}
	return r
}
