package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/crucible/pkg/log"
	"github.com/cuemby/crucible/pkg/metrics"
	"github.com/cuemby/crucible/pkg/queue"
	"github.com/cuemby/crucible/pkg/runtime"
	"github.com/cuemby/crucible/pkg/types"
)

// Engine is the Execution Engine (C4): the only component that
// creates task records, drives pods, and mutates task status.
type Engine struct {
	opts   Options
	launch *queue.Queue
}

// New builds an Engine from opts. Construct once per process and
// share it; the engine holds no other process-global state. Task
// launches are admitted onto a bounded queue (spec.md §4.8) so a burst
// of /execute calls doesn't spawn unbounded containerd pulls at once.
func New(opts Options) *Engine {
	return &Engine{opts: opts, launch: queue.New(0)}
}

// Start records a new task for the already-resolved pkg, hands it to an
// independent per-task worker goroutine, returning the task id
// immediately (spec.md §4.4.1).
func (e *Engine) Start(ctx context.Context, pkg *types.Package, arguments []types.Argument, emptyInstance bool) (string, error) {
	if pkg == nil {
		return "", types.NewError(types.ErrPackageNotFound, "package not found", nil)
	}

	taskID := GenerateName(pkg.Name)

	timeout := e.opts.GlobalDefaultTimeoutSeconds
	if pkg.TimeoutSeconds != nil {
		timeout = *pkg.TimeoutSeconds
	}

	task := &types.Task{
		ID:           taskID,
		DeploymentID: pkg.Name,
		Stage:        pkg.Stage,
		Status:       types.TaskStatusInitializing,
		Hostname:     e.opts.Hostname,
		IPAddress:    e.opts.IPAddress,
		StartedAt:    time.Now(),
		Arguments:    arguments,
	}

	if err := e.opts.Store.Add(task); err != nil {
		return "", types.NewError(types.ErrInternal, "record task", err)
	}

	runCtx := context.WithoutCancel(ctx)
	e.launch.Enqueue(func() { e.run(runCtx, task, pkg, emptyInstance, timeout) })

	return taskID, nil
}

// Close stops accepting new launches onto the bounded queue. Tasks
// already running finish on their own goroutines.
func (e *Engine) Close() {
	e.launch.Close()
}

// isOwner reports whether this replica owns task, per invariant 4.
func (e *Engine) isOwner(task *types.Task) bool {
	return task.IPAddress == e.opts.IPAddress
}

// Cancel implements spec.md §4.4.4's cancel contract: local delete if
// this replica owns the task, otherwise a cross-replica HTTP hop with
// a best-effort local fallback. Cancelling an already-terminal task is
// rejected with BAD_STATE.
func (e *Engine) Cancel(ctx context.Context, taskID string) error {
	task, err := e.opts.Store.Get(taskID)
	if err != nil {
		return types.NewError(types.ErrInternal, "read task", err)
	}
	if task == nil {
		return types.NewError(types.ErrTaskNotFound, "task not found: "+taskID, nil)
	}
	if task.Status.IsTerminal() {
		return types.NewError(types.ErrBadState, "task already terminal: "+taskID, nil)
	}

	if e.isOwner(task) {
		return e.cancelLocal(ctx, task)
	}

	if e.opts.PeerCancel != nil {
		if err := e.opts.PeerCancel(ctx, task.IPAddress, taskID); err == nil {
			return nil
		}
		log.WithComponent("engine").Warn().Str("task", taskID).Msg("cross-replica cancel hop failed, falling back to local delete")
	}

	// Best-effort local fallback: no-ops if the pod isn't here.
	e.opts.Runtime.DeletePod(ctx, taskID)
	return nil
}

func (e *Engine) cancelLocal(ctx context.Context, task *types.Task) error {
	if err := e.opts.Store.UpdateStatus(task.ID, types.TaskStatusCancelled, nil); err != nil {
		return types.NewError(types.ErrInternal, "update task status", err)
	}
	e.opts.Runtime.DeletePod(ctx, task.ID)
	if e.opts.DeveloperMode {
		e.opts.PortForwarder.Close(task.ID)
	}
	return nil
}

// Reconcile runs spec.md §4.4.5's startup reconciliation: it fails
// owned tasks whose pod is missing or not Running, and deletes orphan
// or terminal-task pods carrying the engine's label.
func (e *Engine) Reconcile(ctx context.Context) error {
	l := log.WithComponent("engine")
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	owned, err := e.opts.Store.ListRunningOnReplica(e.opts.IPAddress)
	if err != nil {
		return fmt.Errorf("list owned tasks: %w", err)
	}

	for _, task := range owned {
		pod, err := e.opts.Runtime.ReadPod(ctx, task.ID)
		if err != nil {
			l.Warn().Err(err).Str("task", task.ID).Msg("reconcile: read pod failed")
			continue
		}
		if pod == nil || pod.Phase != runtime.PodRunning {
			if err := e.opts.Store.UpdateStatus(task.ID, types.TaskStatusFailed, &types.Result{
				Success: false, Error: "pod missing or not running at reconciliation", TaskID: task.ID,
			}); err != nil {
				l.Warn().Err(err).Str("task", task.ID).Msg("reconcile: mark failed failed")
			}
			continue
		}

		if task.IsUIApp && task.OriginalUIPort != 0 && e.opts.DeveloperMode {
			localPort, err := e.opts.PortForwarder.Open(task.ID, pod.IP, task.OriginalUIPort)
			if err != nil {
				l.Warn().Err(err).Str("task", task.ID).Msg("reconcile: re-establish port-forward failed")
				continue
			}
			if err := e.opts.Store.UpdateUIInfo(task.ID, "localhost", localPort); err != nil {
				l.Warn().Err(err).Str("task", task.ID).Msg("reconcile: re-record ui info failed")
			}
		}
		// No VSCode sidecar re-install: this build has no install path
		// for it, so task.VSCodePort is never set and there is nothing
		// for reconciliation to re-establish (see DESIGN.md).
	}

	pods, err := e.opts.Runtime.ListPodsWithLabel(ctx)
	if err != nil {
		return fmt.Errorf("list labelled pods: %w", err)
	}
	for _, pod := range pods {
		task, err := e.opts.Store.Get(pod.Name)
		if err != nil {
			l.Warn().Err(err).Str("pod", pod.Name).Msg("reconcile: read task failed")
			continue
		}
		if task == nil || task.Status.IsTerminal() {
			e.opts.Runtime.DeletePod(ctx, pod.Name)
			metrics.ReconciliationOrphansTotal.Inc()
		}
	}

	return nil
}
