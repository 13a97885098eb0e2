package engine

import "github.com/cuemby/crucible/pkg/tasklog"

// TaskLogStore adapts *tasklog.Store to TaskLogger: Go has no
// covariant return types, so *tasklog.Store.Logger's concrete
// *tasklog.Logger result can't implicitly satisfy an interface-typed
// method even though *tasklog.Logger itself has the right methods.
type TaskLogStore struct {
	Store *tasklog.Store
}

func (a TaskLogStore) Logger(taskID string) (TaskLineWriter, error) {
	return a.Store.Logger(taskID)
}
