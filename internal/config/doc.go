// Package config loads outpost's runtime configuration and reconciliation
// policy files.
//
// Runtime configuration is read with viper from an optional YAML file and
// OUTPOST_* environment variables, on top of built-in defaults:
//
//	node:
//	  id: clinic-a
//	  db: outpost.db
//	sync:
//	  batch_size: 50
//	  max_retries: 5
//	  interval: 30s
//	  remote_timeout: 10s
//	remote:
//	  redis_url: redis://localhost:6379/0
//	reconcile:
//	  policy_file: policy.cue
//
// Environment variables replace dots with underscores, so OUTPOST_SYNC_BATCH_SIZE
// overrides sync.batch_size.
//
// Reconciliation policies are CUE documents validated against an embedded
// schema; see LoadPolicy.
package config
