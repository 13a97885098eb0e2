// Package runtime is the Orchestrator Client (C1): a thin, serialised
// wrapper over containerd exposing pod create/read/delete, exec
// streams with line callbacks, log capture, metrics, and file
// copy-in/copy-out. A "pod" is realised as one containerd container
// carrying the workdir/venv/declared-volume mounts spec.md describes;
// containerd has no first-class "pod" concept of its own.
package runtime
