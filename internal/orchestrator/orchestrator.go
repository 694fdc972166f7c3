// Package orchestrator runs the worker pool that drives tasks through the
// engine: claiming pending work, serializing trees per repository, waking
// parents when children finish, and reclaiming leases whose heartbeat lapsed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antigravity-dev/gravity/internal/bus"
	"github.com/antigravity-dev/gravity/internal/config"
	"github.com/antigravity-dev/gravity/internal/state"
	"github.com/antigravity-dev/gravity/pkg/models"
)

const queueBuffer = 1024

// Runner drives one task through the pipeline until it yields or finishes.
// The engine satisfies this; tests substitute scripted runners.
type Runner interface {
	Run(ctx context.Context, taskID string) error
}

// inflightTask is a task currently held by a worker goroutine.
type inflightTask struct {
	cancel context.CancelFunc
	repoID string
	rootID string
	files  []string
}

// waitingTask is a parent whose latest child is still running. The
// orchestrator maintains its heartbeat until the child reaches a terminal
// state and the parent is re-dispatched.
type waitingTask struct {
	repoID string
	rootID string
	files  []string
}

// Orchestrator owns the dispatch loop, the lease sweeper, and the waiting
// set. All task mutation goes through the state store's compare-and-set
// operations, so a lost race is always safe.
type Orchestrator struct {
	store  state.Store
	bus    bus.Bus
	runner Runner

	workers           int
	pollInterval      time.Duration
	sweepInterval     time.Duration
	heartbeatInterval time.Duration
	leaseDuration     time.Duration
	now               func() time.Time

	queue chan string

	mu       sync.Mutex
	queued   map[string]bool
	deferred []string
	inflight map[string]*inflightTask
	waiting  map[string]waitingTask

	g      *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc
}

// New creates an Orchestrator over the given store, engine, and bus.
func New(store state.Store, runner Runner, b bus.Bus, cfg config.EngineConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:             store,
		bus:               b,
		runner:            runner,
		workers:           cfg.Workers,
		heartbeatInterval: cfg.HeartbeatInterval,
		leaseDuration:     cfg.LeaseDuration,
		pollInterval:      500 * time.Millisecond,
		now:               time.Now,
		queue:             make(chan string, queueBuffer),
		queued:            make(map[string]bool),
		inflight:          make(map[string]*inflightTask),
		waiting:           make(map[string]waitingTask),
	}
	if o.workers <= 0 {
		o.workers = runtime.NumCPU()
	}
	if o.heartbeatInterval <= 0 {
		o.heartbeatInterval = 15 * time.Second
	}
	if o.leaseDuration <= 0 {
		o.leaseDuration = 3 * o.heartbeatInterval
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sweepInterval <= 0 {
		o.sweepInterval = o.heartbeatInterval
	}
	return o
}

// Start recovers abandoned work and launches the dispatch, sweep, and
// heartbeat loops. It returns immediately; Shutdown stops the loops.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, o.cancel = context.WithCancel(ctx)
	o.g, o.gctx = errgroup.WithContext(ctx)

	if err := o.recover(); err != nil {
		o.cancel()
		return fmt.Errorf("recover tasks: %w", err)
	}

	o.g.Go(func() error { return o.dispatchLoop(o.gctx) })
	o.g.Go(func() error { return o.sweepLoop(o.gctx) })
	o.g.Go(func() error { return o.heartbeatLoop(o.gctx) })
	log.Printf("[orchestrator] started: %d workers, lease %s, sweep every %s",
		o.workers, o.leaseDuration, o.sweepInterval)
	return nil
}

// Shutdown stops the loops and waits for in-flight workers to yield.
// Running tasks keep their status; a restarted process adopts them.
func (o *Orchestrator) Shutdown() error {
	if o.cancel == nil {
		return nil
	}
	o.cancel()
	if err := o.g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Enqueue offers a task to the pool: new tasks after creation, approved
// plans, and resumed tasks. Running statuses get a fresh heartbeat so the
// sweeper honors the new claim.
func (o *Orchestrator) Enqueue(taskID string) {
	task, err := o.store.GetTask(taskID)
	if err != nil || task == nil {
		return
	}
	if task.Status.Terminal() || task.Status == models.TaskStatusPaused || task.Status == models.TaskStatusPlanReview {
		return
	}
	if task.Status.Running() {
		if _, err := o.store.HeartbeatTask(taskID, o.now()); err != nil {
			log.Printf("[orchestrator] task %s: heartbeat on enqueue: %v", taskID, err)
		}
	}
	o.enqueue(taskID)
}

// Cancel fails a non-terminal task with a cancelled error and cascades a
// parent_cancelled failure to every live descendant. Returns false if the
// task was already terminal.
func (o *Orchestrator) Cancel(taskID string) (bool, error) {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, fmt.Errorf("task %s not found", taskID)
	}

	applied, err := o.store.FailTask(taskID, models.ErrKindCancelled, "cancelled by operator", o.now())
	if err != nil {
		return false, err
	}
	if applied {
		log.Printf("[orchestrator] task %s cancelled", taskID)
		o.publishFailure(taskID, models.ErrKindCancelled, "cancelled by operator")
		o.release(taskID)
	}

	if err := o.cancelDescendants(taskID); err != nil {
		return applied, err
	}
	if applied && task.ParentID != "" {
		// The parent observes the failed child on its next evaluation.
		o.parentDone(task.ParentID)
	}
	return applied, nil
}

// cancelDescendants fails every live task below id, depth first.
func (o *Orchestrator) cancelDescendants(id string) error {
	children, err := o.store.ListTasksByParent(id)
	if err != nil {
		return err
	}
	for i := range children {
		child := &children[i]
		if err := o.cancelDescendants(child.ID); err != nil {
			return err
		}
		if child.Status.Terminal() {
			continue
		}
		applied, err := o.store.FailTask(child.ID, models.ErrKindParentCancelled, "ancestor task cancelled", o.now())
		if err != nil {
			return err
		}
		if applied {
			o.publishFailure(child.ID, models.ErrKindParentCancelled, "ancestor task cancelled")
			o.release(child.ID)
		}
	}
	return nil
}

// release cancels the worker context of an in-flight task and drops the
// task from the waiting set.
func (o *Orchestrator) release(taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if inf, ok := o.inflight[taskID]; ok && inf.cancel != nil {
		inf.cancel()
	}
	delete(o.waiting, taskID)
}

// owned reports whether this process currently holds the task: queued for
// dispatch, held by a worker, or parked waiting on children.
func (o *Orchestrator) owned(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.queued[taskID] {
		return true
	}
	if _, ok := o.inflight[taskID]; ok {
		return true
	}
	_, ok := o.waiting[taskID]
	return ok
}

// rootID walks to the root of the task's tree.
func (o *Orchestrator) rootID(task *models.Task) string {
	id, parent := task.ID, task.ParentID
	for parent != "" {
		t, err := o.store.GetTask(parent)
		if err != nil || t == nil {
			break
		}
		id, parent = t.ID, t.ParentID
	}
	return id
}

func (o *Orchestrator) publishFailure(taskID string, kind models.ErrorKind, msg string) {
	o.publish(taskID, models.EventError, models.ErrorPayload{Kind: kind, Message: msg})
	o.publish(taskID, models.EventStatus, models.StatusPayload{Status: models.TaskStatusFailed})
}

// publish appends the event to the task log and fans it out on the bus.
// Both are log-on-error: losing an event never fails a transition.
func (o *Orchestrator) publish(taskID string, kind models.EventKind, payload any) {
	ev, err := o.store.AppendEvent(taskID, kind, payload, o.now())
	if err != nil {
		log.Printf("[orchestrator] task %s: append %s event: %v", taskID, kind, err)
		return
	}
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(context.Background(), ev); err != nil {
		log.Printf("[orchestrator] task %s: publish %s event: %v", taskID, kind, err)
	}
}
