package runtime

import (
	"bufio"
	"io"
	"os"
)

// ReadLogs returns the pod's captured stdout/stderr, one element per
// line, in the order the process emitted them. Logs are written to a
// file via cio.LogFile at container creation, not streamed through
// containerd's own (unimplemented here) log API — there is no running
// process to stream from once the task has exited, and the file
// persists past deletion for post-mortem reads.
func (c *Client) ReadLogs(podName string) ([]string, error) {
	f, err := os.Open(c.logFilePath(podName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, err
	}
	return lines, nil
}
