package runtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	v1 "github.com/containerd/cgroups/v3/cgroup1/stats"
	v2 "github.com/containerd/cgroups/v3/cgroup2/stats"
	"github.com/containerd/typeurl/v2"

	"github.com/cuemby/crucible/pkg/types"
)

// Metrics is the read-model for ReadMetrics, mirroring spec.md §4.1:
// CPU already reduced to fractional cores, Memory already formatted
// as a human-readable string.
type Metrics struct {
	CPU    float64
	Memory string
}

// ReadMetrics reads the pod's current cgroup stats and reduces them to
// the shapes callers display: fractional CPU cores and a
// human-formatted memory string. A missing pod is reported as
// (nil, nil).
func (c *Client) ReadMetrics(ctx context.Context, podName string) (*Metrics, error) {
	ctx = c.ctx(ctx)

	container, err := c.client.LoadContainer(ctx, podName)
	if err != nil {
		return nil, nil
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil, nil
	}

	metric, err := task.Metrics(ctx)
	if err != nil {
		return nil, nil
	}

	data, err := typeurl.UnmarshalAny(metric.Data)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "decode cgroup metrics", err)
	}

	var cpuNanos uint64
	var memBytes uint64
	switch m := data.(type) {
	case *v1.Metrics:
		if m.CPU != nil && m.CPU.Usage != nil {
			cpuNanos = m.CPU.Usage.Total
		}
		if m.Memory != nil && m.Memory.Usage != nil {
			memBytes = m.Memory.Usage.Usage
		}
	case *v2.Metrics:
		if m.CPU != nil {
			cpuNanos = m.CPU.UsageUsec * 1000
		}
		if m.Memory != nil {
			memBytes = m.Memory.Usage
		}
	default:
		return nil, types.NewError(types.ErrInternal, fmt.Sprintf("unrecognised metrics type %T", data), nil)
	}

	cpuCores, err := parseCPU(fmt.Sprintf("%dn", cpuNanos))
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "parse cpu metric", err)
	}

	return &Metrics{
		CPU:    cpuCores,
		Memory: formatMemory(int64(memBytes)),
	}, nil
}

// parseCPU converts a suffixed CPU quantity ("n" nanocores, "u"
// microcores, "m" millicores, or a bare core count) to fractional
// cores.
func parseCPU(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty cpu quantity")
	}

	var divisor float64 = 1
	numeric := s
	switch {
	case strings.HasSuffix(s, "n"):
		divisor = 1e9
		numeric = strings.TrimSuffix(s, "n")
	case strings.HasSuffix(s, "u"):
		divisor = 1e6
		numeric = strings.TrimSuffix(s, "u")
	case strings.HasSuffix(s, "m"):
		divisor = 1e3
		numeric = strings.TrimSuffix(s, "m")
	}

	val, err := strconv.ParseFloat(numeric, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cpu quantity %q: %w", s, err)
	}
	return val / divisor, nil
}

// formatCPU is parseCPU's inverse: it renders cores as a nanocore
// quantity, precise enough that parseCPU(formatCPU(x)) recovers x
// within the rounding the testable properties allow.
func formatCPU(cores float64) string {
	return fmt.Sprintf("%dn", int64(cores*1e9))
}

const (
	byteUnit = 1024
)

var memorySuffixes = []struct {
	suffix string
	factor int64
}{
	{"Pi", byteUnit * byteUnit * byteUnit * byteUnit * byteUnit},
	{"Ti", byteUnit * byteUnit * byteUnit * byteUnit},
	{"Gi", byteUnit * byteUnit * byteUnit},
	{"Mi", byteUnit * byteUnit},
	{"Ki", byteUnit},
}

// parseMemory converts a Ki/Mi/Gi/Ti/Pi-suffixed (or bare byte)
// quantity to a byte count.
func parseMemory(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty memory quantity")
	}

	for _, u := range memorySuffixes {
		if strings.HasSuffix(s, u.suffix) {
			numeric := strings.TrimSuffix(s, u.suffix)
			val, err := strconv.ParseFloat(numeric, 64)
			if err != nil {
				return 0, fmt.Errorf("parse memory quantity %q: %w", s, err)
			}
			return int64(val * float64(u.factor)), nil
		}
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse memory quantity %q: %w", s, err)
	}
	return val, nil
}

// formatMemory renders a byte count as a human string, choosing the
// largest unit the value fits below, formatting KB/MB as truncated
// whole numbers and GB/TB/PB with two decimals.
func formatMemory(bytes int64) string {
	b := float64(bytes)
	const (
		ki = 1024
		mi = ki * 1024
		gi = mi * 1024
		ti = gi * 1024
		pi = ti * 1024
	)
	switch {
	case b < mi:
		return fmt.Sprintf("%d KB", int64(b/ki))
	case b < gi:
		return fmt.Sprintf("%d MB", int64(b/mi))
	case b < ti:
		return fmt.Sprintf("%.2f GB", b/gi)
	case b < pi:
		return fmt.Sprintf("%.2f TB", b/ti)
	default:
		return fmt.Sprintf("%.2f PB", b/pi)
	}
}
