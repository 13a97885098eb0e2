package preparer

import (
	"context"

	"github.com/cuemby/crucible/pkg/runtime"
	"github.com/cuemby/crucible/pkg/types"
)

// PodRuntime is the subset of *runtime.Client a Preparer needs,
// accepted as an interface so strategies stay testable without a live
// containerd daemon.
type PodRuntime interface {
	CreatePod(ctx context.Context, opts runtime.CreatePodOpts) (*runtime.Pod, error)
	ReadPod(ctx context.Context, name string) (*runtime.Pod, error)
	DeletePod(ctx context.Context, name string)
	Exec(ctx context.Context, podName string, argv []string, onLine func(string) bool) (int, error)
	ShellProbe(ctx context.Context, podName string) (string, error)
	CopyIn(ctx context.Context, podName, localPath, remotePath string) error
	CopyOut(ctx context.Context, podName, remotePath, localPath string) error
}

// SourceResolver returns the host directory holding a package's
// external, immutable source tree — the collaborator spec.md §1 scopes
// out of this repo.
type SourceResolver func(pkg *types.Package) string

// Deps are the collaborators every Preparer strategy is built from.
type Deps struct {
	Runtime     PodRuntime
	CacheRoot   string // host dir venv/native-binary caches live under
	ScratchRoot string
	VolumeRoot  string
	Source      SourceResolver
}

func (d Deps) cacheDir(pkg *types.Package) string {
	return d.CacheRoot + "/" + pkg.Name + "/" + pkg.Version + "/" + pkg.Stage
}
