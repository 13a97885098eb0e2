package preparer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/crucible/pkg/log"
	"github.com/cuemby/crucible/pkg/runtime"
	"github.com/cuemby/crucible/pkg/types"
)

// Interpreted prepares packages whose runtime is "interpreted": a
// virtualenv is built once per (name, version, stage) in a disposable
// prep pod, copied out to the host cache, then copied back into every
// task pod that runs the package. Grounded on
// original_source/src/services/kubernetes/runtimes/python_pod.py's
// prepare_environment/prepare_runtime split.
type Interpreted struct {
	Deps
}

func (p *Interpreted) venvCacheDir(pkg *types.Package) string {
	return filepath.Join(p.cacheDir(pkg), "venv")
}

func (p *Interpreted) PrepareCache(ctx context.Context, pkg *types.Package) error {
	venvDir := p.venvCacheDir(pkg)
	if entries, err := os.ReadDir(venvDir); err == nil && len(entries) > 0 {
		return nil // already cached
	}

	if err := os.MkdirAll(filepath.Dir(venvDir), 0o755); err != nil {
		return types.NewError(types.ErrInternal, "create venv cache dir", err)
	}

	podName := "prep-" + pkg.Name + "-" + uuid.New().String()[:8]
	l := log.WithComponent("preparer")

	_, err := p.Runtime.CreatePod(ctx, runtime.CreatePodOpts{
		Name:        podName,
		Image:       pkg.Image,
		Command:     []string{"/bin/sleep", "infinity"},
		ScratchRoot: p.ScratchRoot,
		VolumeRoot:  p.VolumeRoot,
	})
	if err != nil {
		return types.NewError(types.ErrPrepareFailed, "create venv prep pod", err)
	}
	defer p.Runtime.DeletePod(ctx, podName)

	if err := waitRunning(ctx, p.Runtime, podName, 60*time.Second); err != nil {
		return err
	}

	if err := p.Runtime.CopyIn(ctx, podName, p.Source(pkg), "/app"); err != nil {
		return types.NewError(types.ErrPrepareFailed, "copy package source into prep pod", err)
	}

	shell, err := p.Runtime.ShellProbe(ctx, podName)
	if err != nil {
		return types.NewError(types.ErrPrepareFailed, "no shell available in prep pod", err)
	}

	setupCmd := "python -m venv /app/venv && . /app/venv/bin/activate && pip install -r /app/requirements.txt"
	exitCode, err := p.Runtime.Exec(ctx, podName, []string{shell, "-c", setupCmd}, func(line string) bool {
		l.Info().Str("package", pkg.Name).Msg(line)
		return true
	})
	if err != nil {
		return types.NewError(types.ErrPrepareFailed, "run venv setup", err)
	}
	if exitCode != 0 {
		return types.NewError(types.ErrPrepareFailed, fmt.Sprintf("venv setup exited %d", exitCode), nil)
	}

	if err := p.Runtime.CopyOut(ctx, podName, "/app/venv", venvDir); err != nil {
		return types.NewError(types.ErrPrepareFailed, "copy venv out of prep pod", err)
	}

	return nil
}

func (p *Interpreted) HydratePod(ctx context.Context, pkg *types.Package, podName string) error {
	if err := p.Runtime.CopyIn(ctx, podName, p.venvCacheDir(pkg), "/app/venv"); err != nil {
		return types.NewError(types.ErrPrepareFailed, "hydrate venv into pod", err)
	}
	if err := p.Runtime.CopyIn(ctx, podName, p.Source(pkg), "/app"); err != nil {
		return types.NewError(types.ErrPrepareFailed, "hydrate package source into pod", err)
	}
	return nil
}

// LaunchCommand activates the hydrated venv and runs the entrypoint
// unbuffered, matching spec.md §4.3's ". venv/bin/activate && python -u
// <entrypoint> <args>" (cwd is always /app, set by Exec).
func (p *Interpreted) LaunchCommand(pkg *types.Package, args []types.Argument) []string {
	argv := make([]string, 0, len(args))
	for _, a := range args {
		argv = append(argv, a.Value)
	}
	line := fmt.Sprintf(". venv/bin/activate && python -u %s %s", pkg.Entrypoint, strings.Join(argv, " "))
	return []string{"/bin/sh", "-c", line}
}
