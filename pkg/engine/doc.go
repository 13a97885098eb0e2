// Package engine is the Execution Engine (C4): it drives a task
// through PREPARE → LAUNCH → OBSERVE → TERMINATE, owns UI-port
// discovery, timeout/cancellation racing, and startup reconciliation.
// It is the only component allowed to mutate a task's status or touch
// its pod — and then only when this replica is the task's recorded
// owner.
package engine
