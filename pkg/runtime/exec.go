package runtime

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/containerd/cio"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/google/uuid"

	"github.com/cuemby/crucible/pkg/types"
)

// Exec runs argv inside the pod's existing task, invoking onLine once
// per combined stdout/stderr line as it arrives. onLine returning
// false stops further callback invocations without killing the
// process — the exec still runs to completion and its exit code is
// still returned.
func (c *Client) Exec(ctx context.Context, podName string, argv []string, onLine func(line string) bool) (int, error) {
	ctx = c.ctx(ctx)

	container, err := c.client.LoadContainer(ctx, podName)
	if err != nil {
		return -1, types.NewError(types.ErrPodFailed, "pod not found: "+podName, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return -1, types.NewError(types.ErrPodFailed, "pod has no running task: "+podName, err)
	}

	pr, pw := io.Pipe()
	execID := "exec-" + uuid.New().String()

	c.mu.Lock()
	process, err := task.Exec(ctx, execID, &specs.Process{
		Args: argv,
		Cwd:  "/app",
	}, cio.NewCreator(cio.WithStreams(nil, pw, pw)))
	c.mu.Unlock()
	if err != nil {
		pw.Close()
		return -1, types.NewError(types.ErrInternal, "start exec", err)
	}

	statusC, err := process.Wait(ctx)
	if err != nil {
		pw.Close()
		return -1, types.NewError(types.ErrInternal, "wait on exec", err)
	}
	if err := process.Start(ctx); err != nil {
		pw.Close()
		return -1, types.NewError(types.ErrInternal, "start exec process", err)
	}

	go func() {
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			if !onLine(scanner.Text()) {
				break
			}
		}
		pr.Close()
	}()

	status := <-statusC
	pw.Close()
	process.Delete(ctx)
	return int(status.ExitCode()), nil
}

// shellCandidates is probed in order; the first that answers within
// the timeout is the pod's usable interactive shell.
var shellCandidates = []string{"/bin/bash", "/bin/sh"}

// ShellProbe returns the first of bash/sh that runs successfully
// inside the pod within 2 seconds, for callers that need an
// interactive entrypoint (e.g. a terminal side-channel).
func (c *Client) ShellProbe(ctx context.Context, podName string) (string, error) {
	for _, shell := range shellCandidates {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		exitCode, err := c.Exec(probeCtx, podName, []string{shell, "-c", "true"}, func(string) bool { return true })
		cancel()
		if err == nil && exitCode == 0 {
			return shell, nil
		}
	}
	return "", types.NewError(types.ErrPodFailed, "no usable shell found in pod "+podName, nil)
}

// CopyIn streams localPath (file or directory) into the pod at
// remotePath by piping a tar archive through `tar -x`'s stdin; there
// is no kubectl-cp equivalent against a bare containerd task.
func (c *Client) CopyIn(ctx context.Context, podName, localPath, remotePath string) error {
	pr, pw := io.Pipe()
	go func() {
		tw := tar.NewWriter(pw)
		err := filepath.Walk(localPath, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(localPath, path)
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = rel
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(tw, f)
			return err
		})
		if err == nil {
			err = tw.Close()
		}
		pw.CloseWithError(err)
	}()

	return c.execWithStdin(ctx, podName, []string{"tar", "-xf", "-", "-C", remotePath}, pr)
}

// CopyOut streams remotePath out of the pod into localPath, the
// reverse of CopyIn: `tar -c` on the pod side, unpacked here.
func (c *Client) CopyOut(ctx context.Context, podName, remotePath, localPath string) error {
	ctx = c.ctx(ctx)

	container, err := c.client.LoadContainer(ctx, podName)
	if err != nil {
		return types.NewError(types.ErrPodFailed, "pod not found: "+podName, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return types.NewError(types.ErrPodFailed, "pod has no running task: "+podName, err)
	}

	pr, pw := io.Pipe()
	execID := "copyout-" + uuid.New().String()

	c.mu.Lock()
	process, err := task.Exec(ctx, execID, &specs.Process{
		Args: []string{"tar", "-cf", "-", "-C", filepath.Dir(remotePath), filepath.Base(remotePath)},
		Cwd:  "/",
	}, cio.NewCreator(cio.WithStreams(nil, pw, nil)))
	c.mu.Unlock()
	if err != nil {
		pw.Close()
		return types.NewError(types.ErrInternal, "start copy-out exec", err)
	}

	statusC, err := process.Wait(ctx)
	if err != nil {
		pw.Close()
		return types.NewError(types.ErrInternal, "wait on copy-out exec", err)
	}
	if err := process.Start(ctx); err != nil {
		pw.Close()
		return types.NewError(types.ErrInternal, "start copy-out process", err)
	}

	if err := os.MkdirAll(localPath, 0o755); err != nil {
		return types.NewError(types.ErrInternal, "create local destination", err)
	}

	extractErr := make(chan error, 1)
	go func() {
		tr := tar.NewReader(pr)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				extractErr <- nil
				return
			}
			if err != nil {
				extractErr <- err
				return
			}
			dest := filepath.Join(localPath, hdr.Name)
			if hdr.FileInfo().IsDir() {
				if err := os.MkdirAll(dest, 0o755); err != nil {
					extractErr <- err
					return
				}
				continue
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				extractErr <- err
				return
			}
			f, err := os.Create(dest)
			if err != nil {
				extractErr <- err
				return
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				extractErr <- err
				return
			}
			f.Close()
		}
	}()

	status := <-statusC
	pw.Close()
	process.Delete(ctx)
	if err := <-extractErr; err != nil {
		return types.NewError(types.ErrInternal, "extract copy-out tar", err)
	}
	if status.ExitCode() != 0 {
		return types.NewError(types.ErrInternal, fmt.Sprintf("copy-out tar exited %d", status.ExitCode()), nil)
	}
	return nil
}

// execWithStdin runs argv inside the pod feeding stdin from r, used
// by CopyIn to drive `tar -x`.
func (c *Client) execWithStdin(ctx context.Context, podName string, argv []string, stdin io.Reader) error {
	ctx = c.ctx(ctx)

	container, err := c.client.LoadContainer(ctx, podName)
	if err != nil {
		return types.NewError(types.ErrPodFailed, "pod not found: "+podName, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return types.NewError(types.ErrPodFailed, "pod has no running task: "+podName, err)
	}

	execID := "copyin-" + uuid.New().String()

	c.mu.Lock()
	process, err := task.Exec(ctx, execID, &specs.Process{
		Args: argv,
		Cwd:  "/",
	}, cio.NewCreator(cio.WithStreams(stdin, nil, nil)))
	c.mu.Unlock()
	if err != nil {
		return types.NewError(types.ErrInternal, "start copy-in exec", err)
	}

	statusC, err := process.Wait(ctx)
	if err != nil {
		return types.NewError(types.ErrInternal, "wait on copy-in exec", err)
	}
	if err := process.Start(ctx); err != nil {
		return types.NewError(types.ErrInternal, "start copy-in process", err)
	}

	status := <-statusC
	process.Delete(ctx)
	if status.ExitCode() != 0 {
		return types.NewError(types.ErrInternal, fmt.Sprintf("copy-in tar exited %d", status.ExitCode()), nil)
	}
	return nil
}
