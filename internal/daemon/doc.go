// Package daemon ties the conversion pipeline to its runtime
// obligations: single-instance locking, status snapshots, and the
// control surface the IPC layer exposes.
package daemon
