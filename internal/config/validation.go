package config

import (
	"fmt"
	"strings"

	"github.com/giantswarm/ctrlloop/internal/leaderelection"
	"github.com/giantswarm/ctrlloop/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

func (ve *ValidationErrors) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		ve.Add(field, "is required", value)
	}
}

func (ve *ValidationErrors) positive(field string, value Duration) {
	if value <= 0 {
		ve.Add(field, "must be positive", value.String())
	}
}

func (ve *ValidationErrors) oneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	ve.Add(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")), value)
}

// Validate checks c and returns ValidationErrors listing every problem, or
// nil when c is usable.
func (c Config) Validate() error {
	var errs ValidationErrors

	errs.oneOf("source.mode", string(c.Source.Mode), string(SourceModeKubernetes), string(SourceModeFilesystem))
	errs.required("source.version", c.Source.Version)
	switch c.Source.Mode {
	case SourceModeKubernetes:
		errs.required("source.resource", c.Source.Resource)
	case SourceModeFilesystem:
		errs.required("source.directory", c.Source.Directory)
		errs.required("source.kind", c.Source.Kind)
		if c.LeaderElection.Enabled {
			errs.Add("leaderElection.enabled", "is not supported with the filesystem source, which has no shared lock", true)
		}
	}
	if c.Source.ResyncPeriod < 0 {
		errs.Add("source.resyncPeriod", "must not be negative", c.Source.ResyncPeriod.String())
	}
	if c.Source.InitialSyncTimeout < 0 {
		errs.Add("source.initialSyncTimeout", "must not be negative", c.Source.InitialSyncTimeout.String())
	}

	errs.required("controller.name", c.Controller.Name)
	if c.Controller.Workers < 1 {
		errs.Add("controller.workers", "must be at least 1", c.Controller.Workers)
	}
	if c.Controller.ReconcileTimeout < 0 {
		errs.Add("controller.reconcileTimeout", "must not be negative", c.Controller.ReconcileTimeout.String())
	}
	errs.positive("controller.backoffBase", c.Controller.BackoffBase)
	if c.Controller.BackoffMax < c.Controller.BackoffBase {
		errs.Add("controller.backoffMax", "must not be smaller than controller.backoffBase", c.Controller.BackoffMax.String())
	}
	if c.Controller.QPS <= 0 {
		errs.Add("controller.qps", "must be positive", c.Controller.QPS)
	}
	if c.Controller.Burst < 1 {
		errs.Add("controller.burst", "must be at least 1", c.Controller.Burst)
	}

	if le := c.LeaderElection; le.Enabled {
		errs.required("leaderElection.lockNamespace", le.LockNamespace)
		errs.required("leaderElection.lockName", le.LockName)
		errs.positive("leaderElection.leaseDuration", le.LeaseDuration)
		errs.positive("leaderElection.renewDeadline", le.RenewDeadline)
		errs.positive("leaderElection.retryPeriod", le.RetryPeriod)
		if le.LeaseDuration <= le.RenewDeadline {
			errs.Add("leaderElection.leaseDuration", "must be greater than leaderElection.renewDeadline", le.LeaseDuration.String())
		}
		if float64(le.RenewDeadline) <= leaderelection.JitterFactor*float64(le.RetryPeriod) {
			errs.Add("leaderElection.renewDeadline", fmt.Sprintf("must be greater than %.1f times leaderElection.retryPeriod", leaderelection.JitterFactor), le.RenewDeadline.String())
		}
		if c.Controller.ReconcileTimeout > le.LeaseDuration {
			errs.Add("controller.reconcileTimeout", "must not exceed leaderElection.leaseDuration", c.Controller.ReconcileTimeout.String())
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs.Add("logging.level", err.Error(), c.Logging.Level)
	}
	errs.oneOf("logging.format", c.Logging.Format, string(logging.FormatText), string(logging.FormatJSON))

	if errs.HasErrors() {
		return errs
	}
	return nil
}
