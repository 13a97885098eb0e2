package types

import (
	"errors"
	"time"
)

// Package is an externally-owned, immutable bundle of user code and
// metadata. The engine treats it read-only.
type Package struct {
	Name       string
	Stage      string
	Version    string
	Image      string // resolved base image for the declared runtime
	Runtime    Runtime
	Entrypoint string
	Env        []string
	Volumes    []*VolumeMount
	Arguments  []ArgumentSpec
	// TimeoutSeconds overrides GlobalDefaultTimeout when non-nil.
	// Zero disables the timeout entirely.
	TimeoutSeconds *int
}

// Runtime is the tagged variant a package declares. Dispatch lives in
// pkg/preparer; there is no plugin registry.
type Runtime string

const (
	RuntimeInterpreted       Runtime = "interpreted"
	RuntimeNativeBinary      Runtime = "native_binary"
	RuntimePrebuiltContainer Runtime = "prebuilt_container"
)

// ArgumentSpec declares one named invocation argument a package accepts.
type ArgumentSpec struct {
	Name     string
	Required bool
	Default  string
}

// Argument is one name/value pair recorded against a task invocation,
// in the order the caller supplied them.
type Argument struct {
	Name  string
	Value string
}

// VolumeMount names a declared package volume mounted at Target,
// backed by a persistent claim the engine only references by name.
type VolumeMount struct {
	Name     string // persistent volume claim name
	Target   string // container path
	ReadOnly bool
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusInitializing TaskStatus = "INITIALIZING"
	TaskStatusRunning      TaskStatus = "RUNNING"
	TaskStatusCompleted    TaskStatus = "COMPLETED"
	TaskStatusFailed       TaskStatus = "FAILED"
	TaskStatusCancelled    TaskStatus = "CANCELLED"
	TaskStatusTimeout      TaskStatus = "TIMEOUT"
)

// IsTerminal reports whether s admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusTimeout:
		return true
	default:
		return false
	}
}

var transitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusInitializing: {
		TaskStatusRunning:   true,
		TaskStatusFailed:    true,
		TaskStatusCancelled: true,
		TaskStatusTimeout:   true,
	},
	TaskStatusRunning: {
		TaskStatusCompleted: true,
		TaskStatusFailed:    true,
		TaskStatusCancelled: true,
		TaskStatusTimeout:   true,
	},
}

// CanTransitionTo reports whether moving from s to next is permitted.
// Terminal states permit no further transitions (Testable Property 5).
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return transitions[s][next]
}

// Result is the terminal outcome recorded on a task exactly once.
type Result struct {
	Success bool
	Output  string
	Error   string
	TaskID  string
}

// Task is one execution of a package; 1:1 with a pod while non-terminal.
type Task struct {
	ID           string
	DeploymentID string // foreign key -> Package
	Stage        string

	Status TaskStatus

	// Execution locus: the engine replica that owns this task.
	Hostname  string
	IPAddress string

	// UI discovery.
	IsUIApp        bool
	UIIPAddress    string
	UIPort         int // effective, may change
	OriginalUIPort int // first observed, write-once; 0 means unset
	VSCodePort     int

	StartedAt  time.Time
	FinishedAt time.Time

	Result    *Result
	Arguments []Argument

	// PID of the launch-command process inside the pod, if known.
	// storage.UpdatePID exists for a runtime that can report one, but
	// the containerd Exec path runs synchronously to completion and
	// never surfaces a PID to record here; see DESIGN.md.
	PID int

	ContainerID string
}

// Error is the sole error type the core surfaces, carrying one of the
// fixed error kinds from the spec's error-handling design.
type Error struct {
	Kind    ErrorKind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return e.Message + ": " + e.Wrapped.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// ErrorKind is one of the fixed error kinds the core surfaces.
type ErrorKind string

const (
	ErrPackageNotFound     ErrorKind = "PACKAGE_NOT_FOUND"
	ErrTaskNotFound        ErrorKind = "TASK_NOT_FOUND"
	ErrBadState            ErrorKind = "BAD_STATE"
	ErrPrepareFailed       ErrorKind = "PREPARE_FAILED"
	ErrPodFailed           ErrorKind = "POD_FAILED"
	ErrUpstreamUnreachable ErrorKind = "UPSTREAM_UNREACHABLE"
	ErrValidation          ErrorKind = "VALIDATION"
	ErrInternal            ErrorKind = "INTERNAL"
)

// NewError builds an *Error of the given kind.
func NewError(kind ErrorKind, message string, wrapped error) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: wrapped}
}

// KindOf extracts the ErrorKind from err, defaulting to ErrInternal
// for errors that aren't a *types.Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}
