// Package engine drives one task through the pipeline: planning, optional
// plan review, step execution, testing with the fix loop, documentation.
// Every transition is an expected-status compare-and-set through the state
// store, so a concurrent pause, cancel, or duplicate pickup loses cleanly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/antigravity-dev/gravity/internal/agent"
	"github.com/antigravity-dev/gravity/internal/bus"
	"github.com/antigravity-dev/gravity/internal/config"
	"github.com/antigravity-dev/gravity/internal/state"
	"github.com/antigravity-dev/gravity/pkg/models"
	"github.com/google/uuid"
)

// errYield stops the run loop without failing the task: the task is
// paused, awaiting review, awaiting children, or already terminal.
var errYield = errors.New("task yielded")

// Knowledge is the shared blackboard agents of one task tree read from
// and write to. Keys are the tree's root task id.
type Knowledge interface {
	Notes(rootID string) ([]string, error)
	AddNote(rootID, taskID string, role models.AgentRole, note string) error
}

// Options wires the engine's collaborators.
type Options struct {
	Store  state.Store
	Bus    bus.Bus
	Client agent.Messenger
	// Knowledge is optional; a nil blackboard disables shared notes.
	Knowledge Knowledge
	Roles     *config.RoleConfigs
	Config    config.EngineConfig
}

// Engine executes tasks one at a time. It is safe for concurrent use:
// each Run call owns exactly one task and shares no per-task state.
type Engine struct {
	store     state.Store
	bus       bus.Bus
	client    agent.Messenger
	knowledge Knowledge
	roles     *config.RoleConfigs
	cfg       config.EngineConfig

	now func() time.Time
}

// New creates an engine. Zero config fields fall back to the defaults
// the config package documents.
func New(opts Options) *Engine {
	cfg := opts.Config
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.MaxFixRetries <= 0 {
		cfg.MaxFixRetries = 3
	}
	if cfg.MaxFixDepth <= 0 {
		cfg.MaxFixDepth = 3
	}
	if cfg.PhaseTimeout <= 0 {
		cfg.PhaseTimeout = 20 * time.Minute
	}
	roles := opts.Roles
	if roles == nil {
		roles = config.DefaultRoleConfigs()
	}
	return &Engine{
		store:     opts.Store,
		bus:       opts.Bus,
		client:    opts.Client,
		knowledge: opts.Knowledge,
		roles:     roles,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Run drives the task from its current status until it reaches a
// terminal state or yields (paused, plan review, awaiting children).
// Run returns an error only for infrastructure failures; task-level
// failures are recorded on the task itself.
func (e *Engine) Run(ctx context.Context, taskID string) error {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	if task.Status.Terminal() {
		return nil
	}

	repo, err := e.store.GetRepository(task.RepoID)
	if err != nil {
		return err
	}
	if repo == nil {
		return e.swallowYield(e.failSystem(taskID, models.ErrKindAgentFailed,
			fmt.Sprintf("repository %s not found", task.RepoID)))
	}

	stopHeartbeat := e.startHeartbeat(ctx, taskID)
	defer stopHeartbeat()

	for {
		task, err = e.store.GetTask(taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return nil
		}

		switch task.Status {
		case models.TaskStatusPending:
			applied, aerr := e.advance(taskID, models.TaskStatusPending, models.TaskStatusPlanning, models.RolePlanner)
			if aerr != nil {
				return aerr
			}
			if !applied {
				return nil
			}
			err = nil
		case models.TaskStatusPlanning:
			err = e.runPlanning(ctx, task, repo)
		case models.TaskStatusExecuting:
			err = e.runExecuting(ctx, task, repo)
		case models.TaskStatusTesting:
			err = e.runTesting(ctx, task, repo)
		case models.TaskStatusDocumenting:
			err = e.runDocumenting(ctx, task, repo)
		default:
			// plan_review, paused, completed, failed: nothing to drive.
			return nil
		}

		if err != nil {
			return e.swallowYield(err)
		}
		if ctx.Err() != nil {
			// Shutdown, not user cancel: leave the status for the lease
			// sweeper to reclaim.
			return ctx.Err()
		}
	}
}

func (e *Engine) swallowYield(err error) error {
	if errors.Is(err, errYield) {
		return nil
	}
	return err
}

// advance performs one expected-status transition and publishes the
// status event when it applies.
func (e *Engine) advance(taskID string, from, to models.TaskStatus, role models.AgentRole) (bool, error) {
	var applied bool
	var err error
	if role != "" {
		applied, err = e.store.StartPhase(taskID, from, to, role, e.now())
	} else {
		applied, err = e.store.TransitionTask(taskID, from, to, e.now())
	}
	if err != nil {
		return false, err
	}
	if !applied {
		log.Printf("[engine] task %s: transition %s to %s lost, re-reading", taskID, from, to)
		return false, nil
	}
	e.publishStatus(taskID, to, 0)
	return true, nil
}

// failTask moves the task to failed and publishes the error and status
// events. Used when an agent run already records the failure detail.
func (e *Engine) failTask(taskID string, kind models.ErrorKind, msg string) error {
	applied, err := e.store.FailTask(taskID, kind, msg, e.now())
	if err != nil {
		return err
	}
	if applied {
		log.Printf("[engine] task %s failed: %s: %s", taskID, kind, msg)
		e.publish(taskID, models.EventError, models.ErrorPayload{Kind: kind, Message: msg})
		e.publishStatus(taskID, models.TaskStatusFailed, 0)
	}
	return errYield
}

// failSystem is failTask plus a synthetic system run, for failures that
// happen outside any agent invocation and would otherwise be invisible
// in the run history.
func (e *Engine) failSystem(taskID string, kind models.ErrorKind, msg string) error {
	run := &models.AgentRun{
		ID:             uuid.NewString(),
		TaskID:         taskID,
		StepOrder:      -1,
		Role:           models.RoleSystem,
		UITitle:        "System error",
		Reasoning:      msg,
		RequiresReview: true,
		CreatedAt:      e.now(),
	}
	if err := e.store.CreateRun(run); err != nil {
		log.Printf("[engine] task %s: record system run: %v", taskID, err)
	} else {
		e.publish(taskID, models.EventAgentLog, run)
	}
	return e.failTask(taskID, kind, msg)
}

// publish appends the event to the task's log and fans it out. The
// append allocates the sequence number; bus delivery is best-effort
// because subscribers reconcile from the log.
func (e *Engine) publish(taskID string, kind models.EventKind, payload any) {
	ev, err := e.store.AppendEvent(taskID, kind, payload, e.now())
	if err != nil {
		log.Printf("[engine] task %s: append %s event: %v", taskID, kind, err)
		return
	}
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(context.Background(), ev); err != nil {
		log.Printf("[engine] task %s: publish %s event: %v", taskID, kind, err)
	}
}

func (e *Engine) publishStatus(taskID string, status models.TaskStatus, step int) {
	e.publish(taskID, models.EventStatus, models.StatusPayload{Status: status, Step: step})
}

// startHeartbeat refreshes the task's lease until the run ends or the
// task leaves its running status.
func (e *Engine) startHeartbeat(ctx context.Context, taskID string) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				applied, err := e.store.HeartbeatTask(taskID, e.now())
				if err != nil {
					log.Printf("[engine] task %s: heartbeat: %v", taskID, err)
					continue
				}
				if !applied {
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// rootID resolves the root of the task's tree for blackboard keying.
func (e *Engine) rootID(task *models.Task) string {
	cur := task
	for cur.ParentID != "" {
		parent, err := e.store.GetTask(cur.ParentID)
		if err != nil || parent == nil {
			break
		}
		cur = parent
	}
	return cur.ID
}
