package runtime

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/crucible/pkg/log"
	"github.com/cuemby/crucible/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace crucible pods live in.
	DefaultNamespace = "crucible"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	idleCommandPath = "/bin/sleep"
)

// IdleCommand is the long-running no-op entry command CreatePod uses
// whenever the engine needs to drive execution via exec streams
// rather than the image's own entrypoint (spec.md §4.1).
func IdleCommand() []string {
	return []string{idleCommandPath, "infinity"}
}

// PodPhase mirrors the coarse lifecycle containerd exposes through a
// task's status, named the way spec.md talks about pods rather than
// containerd's own Running/Stopped vocabulary.
type PodPhase string

const (
	PodPending   PodPhase = "Pending"
	PodRunning   PodPhase = "Running"
	PodSucceeded PodPhase = "Succeeded"
	PodFailed    PodPhase = "Failed"
	PodUnknown   PodPhase = "Unknown"
)

// Pod is the read-model CreatePod/ReadPod/ListPodsWithLabel hand back.
type Pod struct {
	Name      string
	Phase     PodPhase
	IP        string
	ExitCode  uint32
	PID       uint32
	StartedAt time.Time
}

// CreatePodOpts describes the container a Start call needs realised.
// Workdir and venv mounts are always present as ephemeral, per-pod
// scratch directories; Volumes are the package's declared persistent
// mounts, addressed by name under VolumeRoot.
type CreatePodOpts struct {
	Name    string
	Image   string
	Env     []string
	Command []string // nil keeps the image's own entrypoint
	Volumes []types.VolumeMount

	// ScratchRoot is the host directory ephemeral workdir/venv mounts
	// are created under; VolumeRoot is where named persistent volumes
	// referenced by Volumes live.
	ScratchRoot string
	VolumeRoot  string

	CPULimitCores  float64
	MemoryLimitMiB int64
}

// Client is the Orchestrator Client (C1). One Client per process; all
// containerd calls go through a single namespaced context. Pod
// create/delete/read calls serialise on mu so that a delete racing a
// create for the same name can never observe a half-built container;
// exec and log streaming happen outside the lock once the stream is
// set up.
type Client struct {
	client    *containerd.Client
	namespace string
	mu        sync.Mutex

	logRoot string
}

// NewClient dials containerd over socketPath (DefaultSocketPath if
// empty) and scopes every operation to DefaultNamespace.
func NewClient(socketPath, logRoot string) (*Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	cl, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}

	return &Client{
		client:    cl,
		namespace: DefaultNamespace,
		logRoot:   logRoot,
	}, nil
}

func (c *Client) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, c.namespace)
}

// Close releases the containerd client connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func mountOpt(source, target string, readOnly bool) specs.Mount {
	opts := []string{"rbind"}
	if readOnly {
		opts = append(opts, "ro")
	} else {
		opts = append(opts, "rw")
	}
	return specs.Mount{Source: source, Destination: target, Type: "bind", Options: opts}
}

func (c *Client) logFilePath(name string) string {
	return filepath.Join(c.logRoot, name+".log")
}

// CreatePod pulls the image if absent, builds the OCI spec with the
// workdir/venv scratch mounts plus any declared volumes, and starts
// the container's task. Command, when non-nil, overrides the image's
// entrypoint — the engine supplies the idle sleep command whenever it
// will exec the launch command itself or the task is an empty instance.
func (c *Client) CreatePod(ctx context.Context, opts CreatePodOpts) (*Pod, error) {
	ctx = c.ctx(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	image, err := c.client.GetImage(ctx, opts.Image)
	if err != nil {
		image, err = c.client.Pull(ctx, opts.Image, containerd.WithPullUnpack)
		if err != nil {
			return nil, types.NewError(types.ErrPodFailed, "pull image "+opts.Image, err)
		}
	}

	specOpts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(opts.Env),
	}
	if len(opts.Command) > 0 {
		specOpts = append(specOpts, oci.WithProcessArgs(opts.Command...))
	}

	var mounts []specs.Mount
	workdir := filepath.Join(opts.ScratchRoot, opts.Name, "workdir")
	venv := filepath.Join(opts.ScratchRoot, opts.Name, "venv")
	for _, dir := range []string{workdir, venv} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, types.NewError(types.ErrInternal, "create scratch dir", err)
		}
	}
	mounts = append(mounts, mountOpt(workdir, "/app", false))
	mounts = append(mounts, mountOpt(venv, "/app/venv", false))

	for _, v := range opts.Volumes {
		src := filepath.Join(opts.VolumeRoot, v.Name)
		if err := os.MkdirAll(src, 0o755); err != nil {
			return nil, types.NewError(types.ErrInternal, "create volume dir", err)
		}
		mounts = append(mounts, mountOpt(src, v.Target, v.ReadOnly))
	}
	specOpts = append(specOpts, oci.WithMounts(mounts))

	if opts.CPULimitCores > 0 {
		shares := uint64(opts.CPULimitCores * 1024)
		quota := int64(opts.CPULimitCores * 100000)
		specOpts = append(specOpts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, 100000))
	}
	if opts.MemoryLimitMiB > 0 {
		specOpts = append(specOpts, oci.WithMemoryLimit(uint64(opts.MemoryLimitMiB)*1024*1024))
	}

	container, err := c.client.NewContainer(
		ctx,
		opts.Name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(opts.Name+"-snapshot", image),
		containerd.WithNewSpec(specOpts...),
		containerd.WithContainerLabels(map[string]string{"crucible.pod": opts.Name}),
	)
	if err != nil {
		return nil, types.NewError(types.ErrPodFailed, "create container", err)
	}

	creator := cio.LogFile(c.logFilePath(opts.Name))
	task, err := container.NewTask(ctx, creator)
	if err != nil {
		container.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, types.NewError(types.ErrPodFailed, "create task", err)
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		container.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, types.NewError(types.ErrPodFailed, "start task", err)
	}

	ip, err := c.readIP(ctx, task.Pid())
	if err != nil {
		log.WithComponent("runtime").Warn().Err(err).Str("pod", opts.Name).Msg("pod started without a resolvable IP yet")
	}

	return &Pod{Name: opts.Name, Phase: PodRunning, IP: ip, PID: task.Pid(), StartedAt: time.Now()}, nil
}

// ReadPod reports the current phase, IP, and (once terminal) exit code
// of the named pod. A missing container is reported as (nil, nil), not
// an error — callers treat "no such pod" as a read result, not a fault.
func (c *Client) ReadPod(ctx context.Context, name string) (*Pod, error) {
	ctx = c.ctx(ctx)

	container, err := c.client.LoadContainer(ctx, name)
	if err != nil {
		return nil, nil
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return &Pod{Name: name, Phase: PodPending}, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "read task status", err)
	}

	pod := &Pod{Name: name, PID: task.Pid()}
	switch status.Status {
	case containerd.Running, containerd.Paused:
		pod.Phase = PodRunning
		if ip, err := c.readIP(ctx, task.Pid()); err == nil {
			pod.IP = ip
		}
	case containerd.Stopped:
		pod.ExitCode = status.ExitStatus
		if status.ExitStatus == 0 {
			pod.Phase = PodSucceeded
		} else {
			pod.Phase = PodFailed
		}
	default:
		pod.Phase = PodUnknown
	}
	return pod, nil
}

// ListPodsWithLabel returns every pod carrying the crucible.pod label,
// which every pod CreatePod makes always carries; it stands in for
// Kubernetes label-selector listing.
func (c *Client) ListPodsWithLabel(ctx context.Context) ([]*Pod, error) {
	ctx = c.ctx(ctx)

	containers, err := c.client.Containers(ctx, "labels.\"crucible.pod\"")
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "list containers", err)
	}

	pods := make([]*Pod, 0, len(containers))
	for _, cont := range containers {
		pod, err := c.ReadPod(ctx, cont.ID())
		if err != nil {
			return nil, err
		}
		if pod != nil {
			pods = append(pods, pod)
		}
	}
	return pods, nil
}

// DeletePod force-stops and removes the named container and its
// snapshot. Failures are logged, never returned: callers treat delete
// as best-effort cleanup per spec.md's pod-teardown semantics.
func (c *Client) DeletePod(ctx context.Context, name string) {
	ctx = c.ctx(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	l := log.WithComponent("runtime")

	container, err := c.client.LoadContainer(ctx, name)
	if err != nil {
		return // already gone
	}

	if task, err := container.Task(ctx, nil); err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
			l.Warn().Err(err).Str("pod", name).Msg("SIGTERM failed")
		}
		statusC, waitErr := task.Wait(stopCtx)
		if waitErr == nil {
			select {
			case <-statusC:
			case <-stopCtx.Done():
				if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
					l.Warn().Err(err).Str("pod", name).Msg("SIGKILL failed")
				}
			}
		}
		cancel()
		if _, err := task.Delete(ctx); err != nil {
			l.Warn().Err(err).Str("pod", name).Msg("delete task failed")
		}
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		l.Warn().Err(err).Str("pod", name).Msg("delete container failed")
	}
}

// readIP shells out to nsenter+ip to read eth0's address from the
// task's network namespace; containerd exposes no IP accessor of its
// own once the task is a plain bridged container.
func (c *Client) readIP(ctx context.Context, pid uint32) (string, error) {
	if pid == 0 {
		return "", fmt.Errorf("task has no pid")
	}
	cmd := exec.CommandContext(ctx, "nsenter", "-t", fmt.Sprintf("%d", pid), "-n", "ip", "-4", "addr", "show", "eth0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("read container ip: %w (output: %s)", err, string(output))
	}
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "inet ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip, _, err := net.ParseCIDR(fields[1])
		if err != nil {
			return "", fmt.Errorf("parse ip %s: %w", fields[1], err)
		}
		return ip.String(), nil
	}
	return "", fmt.Errorf("no eth0 address found")
}
