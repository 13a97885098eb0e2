package preparer

import (
	"context"

	"github.com/cuemby/crucible/pkg/types"
)

// PrebuiltContainer prepares packages whose runtime is
// "prebuilt_container": the image already carries everything the task
// needs, so there is no cache to build and nothing to hydrate.
type PrebuiltContainer struct{}

func (PrebuiltContainer) PrepareCache(ctx context.Context, pkg *types.Package) error { return nil }

func (PrebuiltContainer) HydratePod(ctx context.Context, pkg *types.Package, podName string) error {
	return nil
}

// LaunchCommand returns nil: the image's own entrypoint/cmd already
// does the right thing. Task arguments are not handed to the
// container, neither here nor through its environment.
func (PrebuiltContainer) LaunchCommand(pkg *types.Package, args []types.Argument) []string {
	return nil
}
