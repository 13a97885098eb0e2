package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/crucible/pkg/log"
	"github.com/cuemby/crucible/pkg/metrics"
	"github.com/cuemby/crucible/pkg/runtime"
	"github.com/cuemby/crucible/pkg/types"
)

// run is the per-task worker: PREPARE → LAUNCH → OBSERVE → TERMINATE
// (spec.md §4.4.2). It owns the task from INITIALIZING to a terminal
// status and always runs independently of the Start caller.
func (e *Engine) run(ctx context.Context, task *types.Task, pkg *types.Package, emptyInstance bool, timeoutSeconds int) {
	l := log.WithComponent("engine").With().Str("task", task.ID).Logger()
	taskLog, logErr := e.opts.TaskLog.Logger(task.ID)
	if logErr != nil {
		l.Warn().Err(logErr).Msg("no task logger available, continuing without one")
	}

	prep := e.opts.PreparerFor(pkg.Runtime)
	runtimeLabel := string(pkg.Runtime)

	// PREPARE
	prepareTimer := metrics.NewTimer()
	prepareErr := prep.PrepareCache(ctx, pkg)
	prepareTimer.ObserveDurationVec(metrics.TaskPhaseDuration, "prepare", runtimeLabel)
	if prepareErr != nil {
		e.fail(task.ID, "prepare failed: "+prepareErr.Error())
		return
	}

	// LAUNCH
	launchTimer := metrics.NewTimer()
	idleOverride := pkg.Runtime != types.RuntimePrebuiltContainer || emptyInstance
	var command []string
	if idleOverride {
		command = runtime.IdleCommand()
	}

	env := append([]string{"PYTHONUNBUFFERED=1", "PROXY_PREFIX=/proxy/" + task.ID}, pkg.Env...)

	_, err := e.opts.Runtime.CreatePod(ctx, runtime.CreatePodOpts{
		Name:        task.ID,
		Image:       pkg.Image,
		Env:         env,
		Command:     command,
		Volumes:     derefVolumes(pkg.Volumes),
		ScratchRoot: e.opts.ScratchRoot,
		VolumeRoot:  e.opts.VolumeRoot,
	})
	if err != nil {
		e.fail(task.ID, "launch failed: "+err.Error())
		return
	}

	if err := waitPodRunning(ctx, e.opts.Runtime, task.ID, 60*time.Second); err != nil {
		e.fail(task.ID, "pod never reached Running: "+err.Error())
		e.opts.Runtime.DeletePod(ctx, task.ID)
		return
	}

	if !emptyInstance {
		if err := prep.HydratePod(ctx, pkg, task.ID); err != nil {
			e.fail(task.ID, "hydrate failed: "+err.Error())
			e.opts.Runtime.DeletePod(ctx, task.ID)
			return
		}
	}
	launchTimer.ObserveDurationVec(metrics.TaskPhaseDuration, "launch", runtimeLabel)

	if err := e.opts.Store.UpdateStatus(task.ID, types.TaskStatusRunning, nil); err != nil {
		l.Warn().Err(err).Msg("failed to record RUNNING status")
	}

	var timer *time.Timer
	if timeoutSeconds > 0 {
		timer = time.AfterFunc(time.Duration(timeoutSeconds)*time.Second, func() {
			e.onTimeout(ctx, task.ID)
		})
	}

	// OBSERVE
	observeTimer := metrics.NewTimer()
	var exitCode int
	if emptyInstance {
		exitCode = 0 // idle instances have no launch command to observe
		<-ctx.Done()
	} else if pkg.Runtime == types.RuntimePrebuiltContainer {
		exitCode, err = e.observePrebuilt(ctx, task.ID, taskLog)
	} else {
		argv := prep.LaunchCommand(pkg, task.Arguments)
		exitCode, err = e.observeExec(ctx, task.ID, argv, taskLog)
	}
	observeTimer.ObserveDurationVec(metrics.TaskPhaseDuration, "observe", runtimeLabel)

	if timer != nil {
		timer.Stop()
	}

	// Transition on observation return.
	var finalStatus types.TaskStatus
	current, getErr := e.opts.Store.Get(task.ID)
	if getErr == nil && current != nil && current.Status.IsTerminal() {
		// CANCELLED or TIMEOUT already set by a racing killer; leave as-is.
		finalStatus = current.Status
	} else if err != nil {
		e.fail(task.ID, "observation failed: "+err.Error())
		finalStatus = types.TaskStatusFailed
	} else if exitCode == 0 {
		e.complete(task.ID)
		finalStatus = types.TaskStatusCompleted
	} else {
		e.fail(task.ID, fmt.Sprintf("Package execution failed with exit code %d", exitCode))
		finalStatus = types.TaskStatusFailed
	}
	metrics.TasksCompletedTotal.WithLabelValues(string(finalStatus)).Inc()

	// TERMINATE
	terminateTimer := metrics.NewTimer()
	e.opts.Runtime.DeletePod(ctx, task.ID)
	if e.opts.DeveloperMode {
		e.opts.PortForwarder.Close(task.ID)
	}
	terminateTimer.ObserveDurationVec(metrics.TaskPhaseDuration, "terminate", runtimeLabel)
}

func derefVolumes(vols []*types.VolumeMount) []types.VolumeMount {
	out := make([]types.VolumeMount, 0, len(vols))
	for _, v := range vols {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func (e *Engine) fail(taskID, message string) {
	_ = e.opts.Store.UpdateStatus(taskID, types.TaskStatusFailed, &types.Result{
		Success: false, Error: message, TaskID: taskID,
	})
}

func (e *Engine) complete(taskID string) {
	_ = e.opts.Store.UpdateStatus(taskID, types.TaskStatusCompleted, &types.Result{
		Success: true, TaskID: taskID,
	})
}

// onTimeout fires once, idempotently: only a still-non-terminal task
// is moved to TIMEOUT, so it never races a status a prior CANCEL/observe
// already settled (terminal-monotonic, spec.md §4.4.4).
func (e *Engine) onTimeout(ctx context.Context, taskID string) {
	task, err := e.opts.Store.Get(taskID)
	if err != nil || task == nil || task.Status.IsTerminal() {
		return
	}
	_ = e.opts.Store.UpdateStatus(taskID, types.TaskStatusTimeout, &types.Result{
		Success: false, Error: "task exceeded its timeout", TaskID: taskID,
	})
	e.opts.Runtime.DeletePod(ctx, taskID)
}

// waitPodRunning polls the pod's phase once a second, per spec.md
// §4.4's LAUNCH contract.
func waitPodRunning(ctx context.Context, rt PodRuntime, podName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		pod, err := rt.ReadPod(ctx, podName)
		if err != nil {
			return err
		}
		if pod != nil && pod.Phase == runtime.PodRunning {
			return nil
		}
		if pod != nil && (pod.Phase == runtime.PodFailed || pod.Phase == runtime.PodSucceeded) {
			return fmt.Errorf("pod exited before becoming ready")
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for Running phase")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// observeExec execs the launch command and feeds each line through
// the port matcher, logging it to the task's log.
func (e *Engine) observeExec(ctx context.Context, taskID string, argv []string, taskLog TaskLineWriter) (int, error) {
	matcher := &PortMatcher{}
	return e.opts.Runtime.Exec(ctx, taskID, argv, func(line string) bool {
		e.onLine(ctx, taskID, line, matcher, taskLog)
		return true
	})
}

// observePrebuilt polls pod presence every 100ms, scanning only the
// log lines produced since the previous tick for a UI port, until the
// pod disappears (success) or ctx is done. A fired matcher does not
// stop the polling.
func (e *Engine) observePrebuilt(ctx context.Context, taskID string, taskLog TaskLineWriter) (int, error) {
	matcher := &PortMatcher{}
	seen := 0
	for {
		pod, err := e.opts.Runtime.ReadPod(ctx, taskID)
		if err != nil {
			return -1, err
		}
		if pod == nil {
			return 0, nil // containers gone: success
		}

		lines, err := e.opts.Runtime.ReadLogs(taskID)
		if err == nil && len(lines) > seen {
			for _, line := range lines[seen:] {
				e.onLine(ctx, taskID, line, matcher, taskLog)
			}
			seen = len(lines)
		}

		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (e *Engine) onLine(ctx context.Context, taskID, line string, matcher *PortMatcher, taskLog TaskLineWriter) {
	if taskLog != nil {
		_ = taskLog.Info(line)
	}

	port, fired := matcher.Match(line)
	if !fired {
		return
	}

	pod, err := e.opts.Runtime.ReadPod(ctx, taskID)
	if err != nil || pod == nil {
		return
	}

	if err := e.opts.Store.UpdateUIInfo(taskID, pod.IP, port); err != nil {
		return
	}
	if e.opts.DeveloperMode {
		localPort, err := e.opts.PortForwarder.Open(taskID, pod.IP, port)
		if err == nil {
			_ = e.opts.Store.UpdateUIInfo(taskID, "localhost", localPort)
		}
	}
}
