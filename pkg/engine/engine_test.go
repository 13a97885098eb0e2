package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/crucible/pkg/runtime"
	"github.com/cuemby/crucible/pkg/types"
)

// --- fakes -----------------------------------------------------------

type fakeStore struct {
	mu       sync.Mutex
	tasks    map[string]*types.Task
	packages map[string]*types.Package
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]*types.Task{}, packages: map[string]*types.Package{}}
}

func (s *fakeStore) Add(task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *fakeStore) Get(id string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) ListByStage(stage string) ([]*types.Task, error) { return nil, nil }

func (s *fakeStore) ListRunningOnReplica(ip string) ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Task
	for _, t := range s.tasks {
		if t.IPAddress == ip && !t.Status.IsTerminal() {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) ListByDeployment(deploymentID string, statusFilter types.TaskStatus) ([]*types.Task, error) {
	return nil, nil
}

func (s *fakeStore) CountByDeployment(deploymentID string, statusFilter types.TaskStatus) (int, error) {
	return 0, nil
}

func (s *fakeStore) UpdateStatus(id string, status types.TaskStatus, result *types.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	t.Status = status
	if result != nil {
		t.Result = result
	}
	if status.IsTerminal() {
		t.FinishedAt = time.Now()
	}
	return nil
}

func (s *fakeStore) UpdateUIInfo(id string, ip string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	if t.OriginalUIPort == 0 {
		t.OriginalUIPort = port
	}
	t.UIIPAddress = ip
	t.UIPort = port
	t.IsUIApp = true
	return nil
}

func (s *fakeStore) UpdateVSCodePort(id string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.VSCodePort = port
	}
	return nil
}

func (s *fakeStore) UpdatePID(id string, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.PID = pid
	}
	return nil
}

func (s *fakeStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *fakeStore) GetPackage(name, stage, version string) (*types.Package, error) {
	return s.packages[name+"/"+stage+"/"+version], nil
}

func (s *fakeStore) PutPackage(pkg *types.Package) error {
	s.packages[pkg.Name+"/"+pkg.Stage+"/"+pkg.Version] = pkg
	return nil
}

func (s *fakeStore) Close() error { return nil }

type fakeRuntime struct {
	mu      sync.Mutex
	pods    map[string]*runtime.Pod
	execFn  func(argv []string, onLine func(string) bool) (int, error)
	deleted []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{pods: map[string]*runtime.Pod{}}
}

func (r *fakeRuntime) CreatePod(ctx context.Context, opts runtime.CreatePodOpts) (*runtime.Pod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pod := &runtime.Pod{Name: opts.Name, Phase: runtime.PodRunning, IP: "10.0.0.5"}
	r.pods[opts.Name] = pod
	return pod, nil
}

func (r *fakeRuntime) ReadPod(ctx context.Context, name string) (*runtime.Pod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pods[name], nil
}

func (r *fakeRuntime) ListPodsWithLabel(ctx context.Context) ([]*runtime.Pod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*runtime.Pod
	for _, p := range r.pods {
		out = append(out, p)
	}
	return out, nil
}

func (r *fakeRuntime) DeletePod(ctx context.Context, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pods, name)
	r.deleted = append(r.deleted, name)
}

func (r *fakeRuntime) Exec(ctx context.Context, podName string, argv []string, onLine func(string) bool) (int, error) {
	if r.execFn != nil {
		return r.execFn(argv, onLine)
	}
	return 0, nil
}

func (r *fakeRuntime) ReadLogs(podName string) ([]string, error) { return nil, nil }

type fakeForwarder struct {
	opened []string
}

func (f *fakeForwarder) Open(podName, remoteIP string, remotePort int) (int, error) {
	f.opened = append(f.opened, podName)
	return 40000, nil
}

func (f *fakeForwarder) Close(podName string) {}

type fakePreparer struct {
	prepareErr error
	hydrateErr error
	launchArgv []string
}

func (p *fakePreparer) PrepareCache(ctx context.Context, pkg *types.Package) error { return p.prepareErr }
func (p *fakePreparer) HydratePod(ctx context.Context, pkg *types.Package, podName string) error {
	return p.hydrateErr
}
func (p *fakePreparer) LaunchCommand(pkg *types.Package, args []types.Argument) []string {
	return p.launchArgv
}

type fakeTaskLogger struct{}

func (fakeTaskLogger) Logger(taskID string) (TaskLineWriter, error) { return fakeLineWriter{}, nil }

type fakeLineWriter struct{}

func (fakeLineWriter) Info(msg string) error  { return nil }
func (fakeLineWriter) Error(msg string) error { return nil }

func testPackage() *types.Package {
	return &types.Package{
		Name:       "demo",
		Stage:      "prod",
		Version:    "1",
		Image:      "demo:1",
		Runtime:    types.RuntimeInterpreted,
		Entrypoint: "main.py",
	}
}

func newTestEngine(store *fakeStore, rt *fakeRuntime, fwd PortForwarder, prep *fakePreparer) *Engine {
	return New(Options{
		Store:         store,
		Runtime:       rt,
		PortForwarder: fwd,
		PreparerFor:   func(types.Runtime) Preparer { return prep },
		Hostname:      "replica-a",
		IPAddress:     "10.0.0.1",
		DeveloperMode: true,
		TaskLog:       fakeTaskLogger{},
	})
}

// --- tests -------------------------------------------------------------

func TestRunCompletesOnZeroExit(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	prep := &fakePreparer{launchArgv: []string{"/bin/sh", "-c", "true"}}
	e := newTestEngine(store, rt, &fakeForwarder{}, prep)

	pkg := testPackage()
	taskID, err := e.Start(context.Background(), pkg, nil, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, _ := store.Get(taskID)
		return task != nil && task.Status.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	task, _ := store.Get(taskID)
	require.Equal(t, types.TaskStatusCompleted, task.Status)
	require.NotZero(t, task.FinishedAt)
	require.True(t, task.Result.Success)
}

func TestRunFailsOnNonZeroExit(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	rt.execFn = func(argv []string, onLine func(string) bool) (int, error) { return 7, nil }
	prep := &fakePreparer{launchArgv: []string{"/bin/sh", "-c", "exit 7"}}
	e := newTestEngine(store, rt, &fakeForwarder{}, prep)

	taskID, err := e.Start(context.Background(), testPackage(), nil, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, _ := store.Get(taskID)
		return task != nil && task.Status.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	task, _ := store.Get(taskID)
	require.Equal(t, types.TaskStatusFailed, task.Status)
	require.Contains(t, task.Result.Error, "exit code 7")
}

func TestRunDetectsUIPortAndOpensForwarder(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	fwd := &fakeForwarder{}
	rt.execFn = func(argv []string, onLine func(string) bool) (int, error) {
		onLine("Running on 127.0.0.1:5000")
		return 0, nil
	}
	prep := &fakePreparer{launchArgv: []string{"/bin/sh", "-c", "run"}}
	e := newTestEngine(store, rt, fwd, prep)

	taskID, err := e.Start(context.Background(), testPackage(), nil, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, _ := store.Get(taskID)
		return task != nil && task.Status.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	task, _ := store.Get(taskID)
	require.Equal(t, 5000, task.OriginalUIPort)
	require.Equal(t, "localhost", task.UIIPAddress)
	require.Contains(t, fwd.opened, taskID)
}

func TestRunTimesOutAndDeletesPod(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	block := make(chan struct{})
	rt.execFn = func(argv []string, onLine func(string) bool) (int, error) {
		<-block
		return 0, nil
	}
	prep := &fakePreparer{launchArgv: []string{"/bin/sh", "-c", "sleep 100"}}
	e := newTestEngine(store, rt, &fakeForwarder{}, prep)
	e.opts.GlobalDefaultTimeoutSeconds = 0

	pkg := testPackage()
	timeoutSeconds := 1
	pkg.TimeoutSeconds = &timeoutSeconds

	taskID, err := e.Start(context.Background(), pkg, nil, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, _ := store.Get(taskID)
		return task != nil && task.Status == types.TaskStatusTimeout
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		for _, n := range rt.deleted {
			if n == taskID {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	close(block)
}

func TestCancelOwnedTaskDeletesPod(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	task := &types.Task{ID: "t1", Status: types.TaskStatusRunning, IPAddress: "10.0.0.1"}
	require.NoError(t, store.Add(task))
	rt.pods["t1"] = &runtime.Pod{Name: "t1", Phase: runtime.PodRunning}

	e := newTestEngine(store, rt, &fakeForwarder{}, &fakePreparer{})
	require.NoError(t, e.Cancel(context.Background(), "t1"))

	got, _ := store.Get("t1")
	require.Equal(t, types.TaskStatusCancelled, got.Status)
	require.Contains(t, rt.deleted, "t1")
}

func TestCancelTerminalTaskIsBadState(t *testing.T) {
	store := newFakeStore()
	task := &types.Task{ID: "t1", Status: types.TaskStatusCompleted, IPAddress: "10.0.0.1"}
	require.NoError(t, store.Add(task))

	e := newTestEngine(store, newFakeRuntime(), &fakeForwarder{}, &fakePreparer{})
	err := e.Cancel(context.Background(), "t1")
	require.Error(t, err)
	require.Equal(t, types.ErrBadState, types.KindOf(err))
}

func TestCancelCrossReplicaFallsBackToLocalDelete(t *testing.T) {
	store := newFakeStore()
	task := &types.Task{ID: "t1", Status: types.TaskStatusRunning, IPAddress: "10.0.0.9"}
	require.NoError(t, store.Add(task))
	rt := newFakeRuntime()
	rt.pods["t1"] = &runtime.Pod{Name: "t1", Phase: runtime.PodRunning}

	e := newTestEngine(store, rt, &fakeForwarder{}, &fakePreparer{})
	e.opts.PeerCancel = func(ctx context.Context, ownerIP, taskID string) error {
		return context.DeadlineExceeded
	}

	require.NoError(t, e.Cancel(context.Background(), "t1"))
	require.Contains(t, rt.deleted, "t1")
}

func TestReconcileFailsTaskWithMissingPod(t *testing.T) {
	store := newFakeStore()
	task := &types.Task{ID: "t1", Status: types.TaskStatusRunning, IPAddress: "10.0.0.1"}
	require.NoError(t, store.Add(task))
	rt := newFakeRuntime() // no pod registered

	e := newTestEngine(store, rt, &fakeForwarder{}, &fakePreparer{})
	require.NoError(t, e.Reconcile(context.Background()))

	got, _ := store.Get("t1")
	require.Equal(t, types.TaskStatusFailed, got.Status)
}

func TestReconcileDeletesOrphanPod(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	rt.pods["orphan"] = &runtime.Pod{Name: "orphan", Phase: runtime.PodRunning}

	e := newTestEngine(store, rt, &fakeForwarder{}, &fakePreparer{})
	require.NoError(t, e.Reconcile(context.Background()))

	require.Contains(t, rt.deleted, "orphan")
}

func TestReconcileDeletesTerminalTaskPod(t *testing.T) {
	store := newFakeStore()
	task := &types.Task{ID: "t1", Status: types.TaskStatusCompleted, IPAddress: "10.0.0.1"}
	require.NoError(t, store.Add(task))
	rt := newFakeRuntime()
	rt.pods["t1"] = &runtime.Pod{Name: "t1", Phase: runtime.PodRunning}

	e := newTestEngine(store, rt, &fakeForwarder{}, &fakePreparer{})
	require.NoError(t, e.Reconcile(context.Background()))

	require.Contains(t, rt.deleted, "t1")
}
