package engine

import (
	"context"

	"github.com/cuemby/crucible/pkg/runtime"
	"github.com/cuemby/crucible/pkg/storage"
	"github.com/cuemby/crucible/pkg/types"
)

// PodRuntime is the subset of *runtime.Client the engine drives pods
// through.
type PodRuntime interface {
	CreatePod(ctx context.Context, opts runtime.CreatePodOpts) (*runtime.Pod, error)
	ReadPod(ctx context.Context, name string) (*runtime.Pod, error)
	ListPodsWithLabel(ctx context.Context) ([]*runtime.Pod, error)
	DeletePod(ctx context.Context, name string)
	Exec(ctx context.Context, podName string, argv []string, onLine func(string) bool) (int, error)
	ReadLogs(podName string) ([]string, error)
}

// PortForwarder is the subset of *portforward.Registry the engine
// needs, used only in developer mode.
type PortForwarder interface {
	Open(podName, remoteIP string, remotePort int) (int, error)
	Close(podName string)
}

// Preparer is the subset of preparer.Preparer the engine drives.
type Preparer interface {
	PrepareCache(ctx context.Context, pkg *types.Package) error
	HydratePod(ctx context.Context, pkg *types.Package, podName string) error
	LaunchCommand(pkg *types.Package, args []types.Argument) []string
}

// PreparerFor resolves a Preparer for a package's runtime kind.
type PreparerFor func(kind types.Runtime) Preparer

// Options configures an Engine.
type Options struct {
	Store         storage.Store
	Runtime       PodRuntime
	PortForwarder PortForwarder
	PreparerFor   PreparerFor

	// Hostname/IP identify this replica; only the replica whose IP
	// matches task.IPAddress may mutate that task or its pod.
	Hostname  string
	IPAddress string

	// GlobalDefaultTimeoutSeconds is used when a package declares no
	// timeout of its own. Zero disables the timeout entirely.
	GlobalDefaultTimeoutSeconds int

	DeveloperMode bool

	ScratchRoot string
	VolumeRoot  string

	TaskLog TaskLogger

	// PeerCancel issues the cross-replica cancel hop (spec.md §4.4.4).
	// nil disables cross-replica cancellation (single-replica setups).
	PeerCancel func(ctx context.Context, ownerIP, taskID string) error
}

// TaskLogger is the subset of *tasklog.Store the engine writes
// per-task log lines to.
type TaskLogger interface {
	Logger(taskID string) (TaskLineWriter, error)
}

// TaskLineWriter is *tasklog.Logger's write surface.
type TaskLineWriter interface {
	Info(msg string) error
	Error(msg string) error
}
