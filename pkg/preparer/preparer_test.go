package preparer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/crucible/pkg/runtime"
	"github.com/cuemby/crucible/pkg/types"
)

type fakeRuntime struct {
	pods     map[string]*runtime.Pod
	execFunc func(argv []string, onLine func(string) bool) (int, error)
	copyIns  []string
	copyOuts []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{pods: map[string]*runtime.Pod{}}
}

func (f *fakeRuntime) CreatePod(ctx context.Context, opts runtime.CreatePodOpts) (*runtime.Pod, error) {
	pod := &runtime.Pod{Name: opts.Name, Phase: runtime.PodRunning}
	f.pods[opts.Name] = pod
	return pod, nil
}

func (f *fakeRuntime) ReadPod(ctx context.Context, name string) (*runtime.Pod, error) {
	return f.pods[name], nil
}

func (f *fakeRuntime) DeletePod(ctx context.Context, name string) {
	delete(f.pods, name)
}

func (f *fakeRuntime) Exec(ctx context.Context, podName string, argv []string, onLine func(string) bool) (int, error) {
	if f.execFunc != nil {
		return f.execFunc(argv, onLine)
	}
	onLine("ok")
	return 0, nil
}

func (f *fakeRuntime) ShellProbe(ctx context.Context, podName string) (string, error) {
	return "/bin/sh", nil
}

func (f *fakeRuntime) CopyIn(ctx context.Context, podName, localPath, remotePath string) error {
	f.copyIns = append(f.copyIns, localPath+"->"+remotePath)
	return nil
}

func (f *fakeRuntime) CopyOut(ctx context.Context, podName, remotePath, localPath string) error {
	f.copyOuts = append(f.copyOuts, remotePath+"->"+localPath)
	return os.MkdirAll(localPath, 0o755)
}

func testDeps(t *testing.T, rt PodRuntime) Deps {
	t.Helper()
	root := t.TempDir()
	return Deps{
		Runtime:     rt,
		CacheRoot:   filepath.Join(root, "cache"),
		ScratchRoot: filepath.Join(root, "scratch"),
		VolumeRoot:  filepath.Join(root, "volumes"),
		Source:      func(pkg *types.Package) string { return filepath.Join(root, "src") },
	}
}

func TestInterpretedPrepareCacheIsIdempotent(t *testing.T) {
	rt := newFakeRuntime()
	p := &Interpreted{Deps: testDeps(t, rt)}
	pkg := &types.Package{Name: "hello", Version: "1.0.0", Stage: "dev", Image: "python:3.12", Entrypoint: "main.py"}

	require.NoError(t, p.PrepareCache(context.Background(), pkg))
	require.NoError(t, os.MkdirAll(p.venvCacheDir(pkg), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.venvCacheDir(pkg), "marker"), []byte("x"), 0o644))

	copyOutsBefore := len(rt.copyOuts)
	require.NoError(t, p.PrepareCache(context.Background(), pkg))
	assert.Equal(t, copyOutsBefore, len(rt.copyOuts), "second call with warm cache must not re-run setup")
}

func TestInterpretedPrepareCacheFailsOnNonZeroExit(t *testing.T) {
	rt := newFakeRuntime()
	rt.execFunc = func(argv []string, onLine func(string) bool) (int, error) {
		onLine("pip install failed")
		return 1, nil
	}
	p := &Interpreted{Deps: testDeps(t, rt)}
	pkg := &types.Package{Name: "broken", Version: "1.0.0", Stage: "dev", Image: "python:3.12"}

	err := p.PrepareCache(context.Background(), pkg)
	require.Error(t, err)
	assert.Equal(t, types.ErrPrepareFailed, types.KindOf(err))
}

func TestInterpretedLaunchCommand(t *testing.T) {
	p := &Interpreted{}
	pkg := &types.Package{Entrypoint: "main.py"}
	argv := p.LaunchCommand(pkg, []types.Argument{{Name: "x", Value: "1"}})
	require.Len(t, argv, 3)
	assert.Equal(t, "/bin/sh", argv[0])
	assert.Equal(t, ". venv/bin/activate && python -u main.py 1", argv[2])
}

func TestNativeBinaryHydratePod(t *testing.T) {
	rt := newFakeRuntime()
	p := &NativeBinary{Deps: testDeps(t, rt)}
	pkg := &types.Package{Name: "toolx", Entrypoint: "toolx"}

	require.NoError(t, p.HydratePod(context.Background(), pkg, "pod-1"))
	require.Len(t, rt.copyIns, 1)

	argv := p.LaunchCommand(pkg, []types.Argument{{Value: "--flag"}})
	require.Len(t, argv, 3)
	assert.Equal(t, "/bin/sh", argv[0])
	assert.Equal(t, "chmod +x toolx && ./toolx --flag", argv[2])
}

func TestPrebuiltContainerIsNoOp(t *testing.T) {
	var p PrebuiltContainer
	pkg := &types.Package{Name: "img"}
	require.NoError(t, p.PrepareCache(context.Background(), pkg))
	require.NoError(t, p.HydratePod(context.Background(), pkg, "pod-1"))
	assert.Nil(t, p.LaunchCommand(pkg, nil))
}

func TestForSelectsStrategy(t *testing.T) {
	d := Deps{}
	assert.IsType(t, &Interpreted{}, For(types.RuntimeInterpreted, d))
	assert.IsType(t, &NativeBinary{}, For(types.RuntimeNativeBinary, d))
	assert.IsType(t, PrebuiltContainer{}, For(types.RuntimePrebuiltContainer, d))
}
