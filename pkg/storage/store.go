package storage

import "github.com/cuemby/crucible/pkg/types"

// Store is the Task Repository interface (spec.md §4.2). All writes
// are committed immediately.
type Store interface {
	// Add inserts a new task record.
	Add(task *types.Task) error
	// Get returns the task with the given id, or (nil, nil) if absent.
	Get(id string) (*types.Task, error)
	// ListByStage returns every task recorded for the given stage.
	ListByStage(stage string) ([]*types.Task, error)
	// ListRunningOnReplica returns non-terminal tasks owned by the
	// replica at ip.
	ListRunningOnReplica(ip string) ([]*types.Task, error)
	// ListByDeployment returns tasks for deploymentID, optionally
	// filtered to one status (empty string means no filter).
	ListByDeployment(deploymentID string, statusFilter types.TaskStatus) ([]*types.Task, error)
	// CountByDeployment is ListByDeployment's count-only counterpart.
	CountByDeployment(deploymentID string, statusFilter types.TaskStatus) (int, error)
	// UpdateStatus transitions a task's status, stamping FinishedAt
	// when the new status is terminal, and recording result when given.
	UpdateStatus(id string, status types.TaskStatus, result *types.Result) error
	// UpdateUIInfo records UI port discovery. OriginalUIPort is
	// write-once: once set, later calls leave it untouched and only
	// update the effective UIIPAddress/UIPort.
	UpdateUIInfo(id string, ip string, port int) error
	// UpdateVSCodePort records the editor sidecar's port.
	UpdateVSCodePort(id string, port int) error
	// UpdatePID records the launch-command process id inside the pod.
	UpdatePID(id string, pid int) error
	// Delete removes a task record outright.
	Delete(id string) error

	// GetPackage resolves a read-only package reference. Returns
	// (nil, nil) if no such package is registered.
	GetPackage(name, stage, version string) (*types.Package, error)
	// PutPackage registers a package (test/seed-data helper standing
	// in for the out-of-scope deployment CRUD collaborator).
	PutPackage(pkg *types.Package) error

	Close() error
}
