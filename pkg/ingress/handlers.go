package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/crucible/pkg/types"
)

// reservedQueryKeys are GET /execute/{pkg}/{ver}/{stage} query keys
// that configure the request itself rather than becoming arguments.
var reservedQueryKeys = map[string]bool{
	"redirect_to_ui": true,
}

const uiRedirectTimeout = 30 * time.Second

// executeRequest is POST /execute/'s wire body (spec.md §6).
type executeRequest struct {
	PackageName       string            `json:"package_name"`
	Version           string            `json:"version"`
	Stage             string            `json:"stage"`
	Arguments         map[string]string `json:"arguments"`
	WaitForCompletion bool              `json:"wait_for_completion"`
}

// taskResult is the wire shape of a task's outcome, used by both the
// sync /execute response and GET /task/status/{id}.
type taskResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	TaskID  string `json:"task_id"`
	Error   string `json:"error"`
	Status  string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch types.KindOf(err) {
	case types.ErrPackageNotFound, types.ErrTaskNotFound:
		status = http.StatusNotFound
	case types.ErrBadState:
		status = http.StatusConflict
	case types.ErrValidation:
		status = http.StatusBadRequest
	case types.ErrUpstreamUnreachable:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func argMap(args map[string]string) []types.Argument {
	out := make([]types.Argument, 0, len(args))
	for k, v := range args {
		out = append(out, types.Argument{Name: k, Value: v})
	}
	return out
}

func argsFromQuery(q map[string][]string) []types.Argument {
	out := make([]types.Argument, 0, len(q))
	for k, vs := range q {
		if reservedQueryKeys[k] || len(vs) == 0 {
			continue
		}
		out = append(out, types.Argument{Name: k, Value: vs[0]})
	}
	return out
}

// launch resolves the package and starts the task, returning its id.
func (s *Server) launch(ctx context.Context, packageName, version, stage string, args []types.Argument, emptyInstance bool) (string, error) {
	if version == "" {
		version = "default"
	}
	pkg, err := s.store.GetPackage(packageName, stage, version)
	if err != nil {
		return "", types.NewError(types.ErrInternal, "resolve package", err)
	}
	if pkg == nil {
		return "", types.NewError(types.ErrPackageNotFound, "package not found: "+packageName, nil)
	}
	return s.engine.Start(ctx, pkg, args, emptyInstance)
}

// awaitTerminal polls the repository every 100ms until taskID reaches
// a terminal status or ctx is cancelled (spec.md §7's sync-wait poll).
func (s *Server) awaitTerminal(ctx context.Context, taskID string) (*types.Task, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		task, err := s.store.Get(taskID)
		if err != nil {
			return nil, err
		}
		if task != nil && task.Status.IsTerminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrValidation, "invalid request body", err))
		return
	}

	taskID, err := s.launch(r.Context(), req.PackageName, req.Version, req.Stage, argMap(req.Arguments), false)
	if err != nil {
		writeError(w, err)
		return
	}

	if !req.WaitForCompletion {
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "running"})
		return
	}

	task, err := s.awaitTerminal(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultFromTask(task))
}

func (s *Server) handleEmptyInstance(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrValidation, "invalid request body", err))
		return
	}

	taskID, err := s.launch(r.Context(), req.PackageName, req.Version, req.Stage, argMap(req.Arguments), true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "running"})
}

// handleExecuteByQuery implements GET /execute/{package}/default/{stage}
// and GET /execute/{package}/{version}/{stage}, with query parameters
// becoming task arguments. redirect_to_ui=true waits up to 30s for the
// task's UI port to be discovered, then 303s to its proxy path;
// falling back to the async response on timeout (spec.md §7).
func (s *Server) handleExecuteByQuery(w http.ResponseWriter, r *http.Request) {
	packageName := r.PathValue("package")
	version := r.PathValue("version") // empty on the .../default/... route
	stage := r.PathValue("stage")

	args := argsFromQuery(r.URL.Query())
	taskID, err := s.launch(r.Context(), packageName, version, stage, args, false)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("redirect_to_ui") != "true" {
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "running"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), uiRedirectTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		task, err := s.store.Get(taskID)
		if err == nil && task != nil && task.UIPort != 0 {
			http.Redirect(w, r, "/proxy/"+taskID, http.StatusSeeOther)
			return
		}
		if err == nil && task != nil && task.Status.IsTerminal() {
			break // never discovered a UI port; fall through to async
		}
		select {
		case <-ctx.Done():
			goto asyncFallback
		case <-ticker.C:
		}
	}

asyncFallback:
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "running"})
}

func resultFromTask(task *types.Task) taskResult {
	res := taskResult{TaskID: task.ID, Status: string(task.Status)}
	if task.Result != nil {
		res.Success = task.Result.Success
		res.Output = task.Result.Output
		res.Error = task.Result.Error
	}
	return res
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	task, err := s.store.Get(taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if task == nil {
		writeError(w, types.NewError(types.ErrTaskNotFound, "task not found: "+taskID, nil))
		return
	}
	writeJSON(w, http.StatusOK, resultFromTask(task))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if err := s.engine.Cancel(r.Context(), taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "cancelled"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	task, err := s.store.Get(taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if task == nil {
		writeError(w, types.NewError(types.ErrTaskNotFound, "task not found: "+taskID, nil))
		return
	}
	if !task.Status.IsTerminal() {
		writeError(w, types.NewError(types.ErrBadState, "cannot delete a non-terminal task", nil))
		return
	}
	if err := s.store.Delete(taskID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListByStage(w http.ResponseWriter, r *http.Request) {
	stage := r.PathValue("stage")
	tasks, err := s.store.ListByStage(stage)
	if err != nil {
		writeError(w, err)
		return
	}
	results := make([]taskResult, 0, len(tasks))
	for _, t := range tasks {
		results = append(results, resultFromTask(t))
	}
	writeJSON(w, http.StatusOK, results)
}

// handleTaskLogs streams a task's log file back reversed (most recent
// line first), per spec.md §6.
func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	lines, err := s.taskLog.GetLogs(taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, line := range lines {
		w.Write([]byte(line))
		w.Write([]byte("\n"))
	}
}
