package preparer

import (
	"context"
	"time"

	"github.com/cuemby/crucible/pkg/runtime"
	"github.com/cuemby/crucible/pkg/types"
)

// waitRunning polls the pod's phase once a second — the same cadence
// spec.md's concurrency model gives the engine's own pod-running poll
// — until it's Running or timeout elapses.
func waitRunning(ctx context.Context, rt PodRuntime, podName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		pod, err := rt.ReadPod(ctx, podName)
		if err != nil {
			return types.NewError(types.ErrPrepareFailed, "read prep pod status", err)
		}
		if pod != nil && pod.Phase == runtime.PodRunning {
			return nil
		}
		if pod != nil && (pod.Phase == runtime.PodFailed || pod.Phase == runtime.PodSucceeded) {
			return types.NewError(types.ErrPrepareFailed, "prep pod exited before becoming ready", nil)
		}
		if time.Now().After(deadline) {
			return types.NewError(types.ErrPrepareFailed, "timed out waiting for prep pod to start", nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
