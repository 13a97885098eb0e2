package preparer

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/crucible/pkg/types"
)

// NativeBinary prepares packages whose runtime is a standalone
// compiled binary: there's nothing to build, so PrepareCache is a
// no-op and HydratePod just copies the package's source tree (the
// binary plus any assets) into the pod.
type NativeBinary struct {
	Deps
}

func (p *NativeBinary) PrepareCache(ctx context.Context, pkg *types.Package) error {
	return nil
}

func (p *NativeBinary) HydratePod(ctx context.Context, pkg *types.Package, podName string) error {
	if err := p.Runtime.CopyIn(ctx, podName, p.Source(pkg), "/app"); err != nil {
		return types.NewError(types.ErrPrepareFailed, "hydrate binary into pod", err)
	}
	return nil
}

// LaunchCommand marks the entrypoint executable and runs it relative
// to /app, matching spec.md §4.3's "chmod +x <entrypoint> && ./<entrypoint> <args>".
func (p *NativeBinary) LaunchCommand(pkg *types.Package, args []types.Argument) []string {
	argv := make([]string, 0, len(args))
	for _, a := range args {
		argv = append(argv, a.Value)
	}
	line := fmt.Sprintf("chmod +x %s && ./%s %s", pkg.Entrypoint, pkg.Entrypoint, strings.Join(argv, " "))
	return []string{"/bin/sh", "-c", line}
}
