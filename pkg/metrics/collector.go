package metrics

import (
	"time"

	"github.com/cuemby/crucible/pkg/types"
)

// Collector periodically refreshes TasksActive from the task
// repository. Adapted from the teacher's ticker-driven Start/Stop
// shape; this replica's own store is sufficient since each replica
// only ever mutates tasks it owns.
type Collector struct {
	store  storage
	stages []string
	stopCh chan struct{}
}

type storage interface {
	ListByStage(stage string) ([]*types.Task, error)
}

// NewCollector builds a Collector that polls the given stages.
func NewCollector(store storage, stages []string) *Collector {
	return &Collector{store: store, stages: stages, stopCh: make(chan struct{})}
}

// Start begins collecting on a 15s interval, matching the teacher's cadence.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts := make(map[types.TaskStatus]int)
	for _, stage := range c.stages {
		tasks, err := c.store.ListByStage(stage)
		if err != nil {
			continue
		}
		for _, t := range tasks {
			if t.Status.IsTerminal() {
				continue
			}
			counts[t.Status]++
		}
	}
	TasksActive.Reset()
	for status, n := range counts {
		TasksActive.WithLabelValues(string(status)).Set(float64(n))
	}
}
