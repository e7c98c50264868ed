// Package types defines the in-memory model shared by expflow entities:
// creation provenance (Identity), the status state machine (StatusMachine),
// trials and the trial-type registry, store configuration, and the standard
// error values. Nothing in this package touches the filesystem; persistence
// lives in package expflow.
package types
