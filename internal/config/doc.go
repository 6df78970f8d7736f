// Package config provides configuration management for ctrlloop.
//
// Configuration is a single YAML file. The default location is
// ~/.config/ctrlloop/config.yaml; the --config flag names another file.
// Values not present in the file keep their defaults, which reproduce the
// database printing controller: databases.stable.imaginedata.co/v1 with a
// 10s resync, four workers and a kube-system/leader-election lease of
// 10s/8s/5s.
//
// # Example
//
//	source:
//	  mode: kubernetes
//	  group: stable.imaginedata.co
//	  version: v1
//	  resource: databases
//	  kind: Database
//	  resyncPeriod: 10s
//	controller:
//	  name: db-printing-controller
//	  workers: 4
//	  listerNamespace: default
//	leaderElection:
//	  enabled: true
//	  lockNamespace: kube-system
//	  lockName: leader-election
//	  leaseDuration: 10s
//	  renewDeadline: 8s
//	  retryPeriod: 5s
//	metrics:
//	  bindAddress: ":8080"
//	logging:
//	  level: info
//	  format: text
//
// Durations are Go duration strings. Validate reports every invalid field
// at once as ValidationErrors.
package config
