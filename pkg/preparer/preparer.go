package preparer

import (
	"context"

	"github.com/cuemby/crucible/pkg/types"
)

// Preparer is the per-runtime-kind strategy spec.md's C3 describes.
type Preparer interface {
	// PrepareCache does the one-time, cacheable setup for pkg — e.g.
	// building and caching a venv — keyed by (name, version, stage).
	// Idempotent: a second call with a warm cache is a fast no-op.
	PrepareCache(ctx context.Context, pkg *types.Package) error

	// HydratePod installs the cached artifact into the already-running
	// pod named podName.
	HydratePod(ctx context.Context, pkg *types.Package, podName string) error

	// LaunchCommand builds the process argv the engine execs inside the
	// running pod to run pkg with args. Returning nil means there is
	// nothing to exec: the image's own entrypoint/cmd runs the task.
	LaunchCommand(pkg *types.Package, args []types.Argument) []string
}

// For selects the Preparer implementation for pkg.Runtime.
func For(kind types.Runtime, deps Deps) Preparer {
	switch kind {
	case types.RuntimeInterpreted:
		return &Interpreted{Deps: deps}
	case types.RuntimeNativeBinary:
		return &NativeBinary{Deps: deps}
	default:
		return PrebuiltContainer{}
	}
}
