// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics, dynamic settings and debug introspection for wsdial.
//
// Provides concurrent-safe state handling primitives including:
//   - Hot-path dial counters with registry snapshots
//   - State export, debug hooks, and probe registration
//   - A reloadable key/value settings store fed from JSON files,
//     the environment and SIGHUP
package control
