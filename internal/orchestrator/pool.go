package orchestrator

import (
	"context"
	"errors"
	"log"
	"path"
	"strings"
	"time"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// dispatchLoop feeds the worker pool: explicit wakeups through the queue,
// plus a periodic scan for pending tasks so nothing is ever lost.
func (o *Orchestrator) dispatchLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-o.queue:
			o.dispatch(ctx, id)
		case <-ticker.C:
			o.requeueDeferred()
			o.pollPending()
		}
	}
}

// pollPending enqueues every pending task, oldest first.
func (o *Orchestrator) pollPending() {
	tasks, err := o.store.ListTasksByStatus(models.TaskStatusPending)
	if err != nil {
		log.Printf("[orchestrator] list pending: %v", err)
		return
	}
	for i := range tasks {
		o.enqueue(tasks[i].ID)
	}
}

// enqueue offers a task to the dispatcher, deduplicating against work that
// is already queued, deferred, in flight, or waiting on children.
func (o *Orchestrator) enqueue(taskID string) {
	o.mu.Lock()
	if o.queued[taskID] {
		o.mu.Unlock()
		return
	}
	if _, ok := o.inflight[taskID]; ok {
		o.mu.Unlock()
		return
	}
	o.queued[taskID] = true
	o.mu.Unlock()

	select {
	case o.queue <- taskID:
	default:
		// Queue full: park it for the next tick.
		o.mu.Lock()
		o.deferred = append(o.deferred, taskID)
		o.mu.Unlock()
	}
}

// requeueDeferred moves parked tasks back onto the queue.
func (o *Orchestrator) requeueDeferred() {
	o.mu.Lock()
	parked := o.deferred
	o.deferred = nil
	for _, id := range parked {
		delete(o.queued, id)
	}
	o.mu.Unlock()

	for _, id := range parked {
		o.enqueue(id)
	}
}

// dispatch claims a task for a worker. Tasks that cannot run right now
// (no free worker, repository held by an overlapping tree) are parked;
// tasks that should not run at all are dropped.
func (o *Orchestrator) dispatch(ctx context.Context, taskID string) {
	o.mu.Lock()
	delete(o.queued, taskID)
	if _, ok := o.inflight[taskID]; ok {
		o.mu.Unlock()
		return
	}
	if len(o.inflight) >= o.workers {
		o.deferred = append(o.deferred, taskID)
		o.queued[taskID] = true
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	task, err := o.store.GetTask(taskID)
	if err != nil {
		log.Printf("[orchestrator] task %s: read for dispatch: %v", taskID, err)
		return
	}
	if task == nil || task.Status.Terminal() ||
		task.Status == models.TaskStatusPaused || task.Status == models.TaskStatusPlanReview {
		return
	}

	root := o.rootID(task)
	files := planFiles(task)
	o.mu.Lock()
	if o.repoBusyLocked(task.RepoID, root, files) {
		o.deferred = append(o.deferred, taskID)
		o.queued[taskID] = true
		o.mu.Unlock()
		return
	}
	tctx, cancel := context.WithCancel(ctx)
	o.inflight[taskID] = &inflightTask{cancel: cancel, repoID: task.RepoID, rootID: root, files: files}
	delete(o.waiting, taskID)
	o.mu.Unlock()

	o.g.Go(func() error {
		defer cancel()
		o.runTask(tctx, taskID)
		return nil
	})
}

// repoBusyLocked reports whether another task tree holds paths in the
// repository that this task could touch. Trees with disjoint declared
// file sets share the repository; a tree that never declared its files
// claims all of it. Tasks of the same tree never conflict: a parent
// parks while its child runs. Callers hold o.mu.
func (o *Orchestrator) repoBusyLocked(repoID, rootID string, files []string) bool {
	for _, inf := range o.inflight {
		if inf.repoID == repoID && inf.rootID != rootID && treesConflict(files, inf.files) {
			return true
		}
	}
	for _, w := range o.waiting {
		if w.repoID == repoID && w.rootID != rootID && treesConflict(files, w.files) {
			return true
		}
	}
	return false
}

// treesConflict reports whether two trees can write the same paths. An
// empty set means the tree has not declared its footprint, which claims
// the whole repository.
func treesConflict(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for _, p := range a {
		for _, q := range b {
			if p == q || strings.HasPrefix(q, p+"/") || strings.HasPrefix(p, q+"/") {
				return true
			}
		}
	}
	return false
}

// planFiles returns the planner-declared affected paths, cleaned for
// prefix comparison. Tasks without a plan, and plans that claim the
// repository root, return nil.
func planFiles(task *models.Task) []string {
	if task.Plan == nil {
		return nil
	}
	var files []string
	for _, f := range task.Plan.AffectedFiles {
		f = strings.TrimPrefix(path.Clean(f), "/")
		if f == "" || f == "." {
			return nil
		}
		files = append(files, f)
	}
	return files
}

// runTask drives one claimed task through the engine and files the result.
func (o *Orchestrator) runTask(ctx context.Context, taskID string) {
	if err := o.runner.Run(ctx, taskID); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[orchestrator] task %s: run: %v", taskID, err)
	}
	o.complete(taskID)
}

// complete reconciles a worker's exit: parents that spawned a child park in
// the waiting set, terminal children wake their parent, and everything else
// just releases the slot.
func (o *Orchestrator) complete(taskID string) {
	o.mu.Lock()
	var repoID, rootID string
	var files []string
	if inf, ok := o.inflight[taskID]; ok {
		repoID, rootID, files = inf.repoID, inf.rootID, inf.files
	}
	delete(o.inflight, taskID)
	o.mu.Unlock()

	task, err := o.store.GetTask(taskID)
	if err != nil || task == nil {
		return
	}

	if task.Status == models.TaskStatusExecuting {
		children, err := o.store.ListTasksByParent(taskID)
		if err != nil {
			log.Printf("[orchestrator] task %s: list children: %v", taskID, err)
			return
		}
		if len(children) == 0 {
			// Yielded without spawning: another owner holds the task.
			return
		}
		if !children[len(children)-1].Status.Terminal() {
			o.mu.Lock()
			o.waiting[taskID] = waitingTask{repoID: repoID, rootID: rootID, files: files}
			o.mu.Unlock()
			log.Printf("[orchestrator] task %s waiting on child %s", taskID, children[len(children)-1].ID)
			return
		}
		// Child already terminal: evaluate again.
		o.enqueue(taskID)
		return
	}

	if task.Status.Terminal() && task.ParentID != "" {
		o.parentDone(task.ParentID)
	}
}

// parentDone wakes a parent whose child reached a terminal state.
func (o *Orchestrator) parentDone(parentID string) {
	o.mu.Lock()
	delete(o.waiting, parentID)
	o.mu.Unlock()

	parent, err := o.store.GetTask(parentID)
	if err != nil || parent == nil || parent.Status != models.TaskStatusExecuting {
		return
	}
	if _, err := o.store.HeartbeatTask(parentID, o.now()); err != nil {
		log.Printf("[orchestrator] task %s: heartbeat on wake: %v", parentID, err)
	}
	o.enqueue(parentID)
}

// recover adopts work left over from a previous process: running tasks are
// re-leased and re-dispatched, parents with a live child park in the
// waiting set. Pending tasks are picked up by the first poll.
func (o *Orchestrator) recover() error {
	for _, status := range []models.TaskStatus{
		models.TaskStatusPlanning,
		models.TaskStatusExecuting,
		models.TaskStatusTesting,
		models.TaskStatusDocumenting,
	} {
		tasks, err := o.store.ListTasksByStatus(status)
		if err != nil {
			return err
		}
		for i := range tasks {
			task := &tasks[i]
			if _, err := o.store.HeartbeatTask(task.ID, o.now()); err != nil {
				log.Printf("[orchestrator] task %s: heartbeat on recover: %v", task.ID, err)
			}
			if status == models.TaskStatusExecuting {
				children, err := o.store.ListTasksByParent(task.ID)
				if err != nil {
					return err
				}
				if len(children) > 0 && !children[len(children)-1].Status.Terminal() {
					o.mu.Lock()
					o.waiting[task.ID] = waitingTask{repoID: task.RepoID, rootID: o.rootID(task), files: planFiles(task)}
					o.mu.Unlock()
					log.Printf("[orchestrator] adopted waiting task %s", task.ID)
					continue
				}
			}
			log.Printf("[orchestrator] adopted %s task %s", status, task.ID)
			o.enqueue(task.ID)
		}
	}
	return nil
}
