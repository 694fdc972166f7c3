package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/antigravity-dev/gravity/internal/agent"
	"github.com/antigravity-dev/gravity/internal/graph"
	"github.com/antigravity-dev/gravity/internal/tools"
	"github.com/antigravity-dev/gravity/internal/verify"
	"github.com/antigravity-dev/gravity/pkg/models"
	"github.com/google/uuid"
)

// invocation is one agent run inside a phase.
type invocation struct {
	role     models.AgentRole
	system   string
	user     string
	declared []string
	// stepOrder is the plan step the run executes, 0 for phase agents.
	stepOrder int
}

var retryableKinds = map[models.ErrorKind]bool{
	models.ErrKindAgentFailed:   true,
	models.ErrKindInvalidOutput: true,
	models.ErrKindMaxIterations: true,
}

// invoke runs one agent against the repository checkout, persists the
// run and its verified file events, and accumulates token usage.
func (e *Engine) invoke(ctx context.Context, task *models.Task, repo *models.Repository, inv invocation) agent.Outcome {
	roleCfg := e.roles.Get(inv.role)

	registry, files, err := tools.Build(tools.Config{
		Root:        repo.Path,
		ToolTimeout: e.cfg.ToolTimeout,
		ExecTimeout: e.cfg.ExecTimeout,
	})
	if err != nil {
		return agent.Outcome{
			Status:       agent.StatusFailed,
			ErrorKind:    models.ErrKindAgentFailed,
			ErrorMessage: fmt.Sprintf("build tool registry: %v", err),
		}
	}
	verifier := verify.New(registry, files, repo.Path)
	verifier.SetClock(e.now)

	rt := agent.New(e.client, verifier, registry)
	runID := uuid.NewString()
	rt.SetVerifiedHandler(func(ev models.VerifiedFileEvent) {
		if err := e.store.CreateVerifiedFileEvent(&ev); err != nil {
			log.Printf("[engine] task %s: record verified file %s: %v", task.ID, ev.Path, err)
		}
		e.publish(task.ID, models.EventFileVerified, ev)
	})

	maxIter := roleCfg.MaxIterations
	if maxIter <= 0 {
		maxIter = e.cfg.MaxIterations
	}

	out := rt.Run(ctx, agent.Request{
		TaskID:          task.ID,
		RunID:           runID,
		Role:            inv.role,
		SystemPrompt:    inv.system,
		UserPrompt:      inv.user,
		Model:           roleCfg.Model,
		AllowedTools:    roleCfg.Tools,
		DeclaredFiles:   inv.declared,
		MaxIterations:   maxIter,
		CallTimeout:     e.cfg.AgentTimeout,
		ReviewThreshold: e.cfg.ReviewThreshold,
		ForceReview:     roleCfg.ReviewRequired,
	})

	run := &models.AgentRun{
		ID:             runID,
		TaskID:         task.ID,
		StepOrder:      inv.stepOrder,
		Role:           inv.role,
		UITitle:        out.Output.UITitle,
		UISubtitle:     out.Output.UISubtitle,
		Reasoning:      out.Output.Reasoning,
		ToolCalls:      out.ToolCalls,
		Confidence:     out.Output.Confidence,
		RequiresReview: out.Output.RequiresReview,
		TokensIn:       out.TokensIn,
		TokensOut:      out.TokensOut,
		CreatedAt:      e.now(),
	}
	if out.Failed() {
		if run.UITitle == "" {
			run.UITitle = fmt.Sprintf("%s failed", inv.role)
		}
		if run.Reasoning == "" {
			run.Reasoning = out.ErrorMessage
		}
		run.RequiresReview = true
	}
	if err := e.store.CreateRun(run); err != nil {
		log.Printf("[engine] task %s: record run: %v", task.ID, err)
	} else {
		e.publish(task.ID, models.EventAgentLog, run)
	}
	if out.TokensIn > 0 || out.TokensOut > 0 {
		if err := e.store.AddTaskTokens(task.ID, out.TokensIn, out.TokensOut); err != nil {
			log.Printf("[engine] task %s: add tokens: %v", task.ID, err)
		}
	}
	e.noteOutcome(task, inv.role, out)
	return out
}

// invokeWithRetry gives an agent-level failure one more attempt in the
// same phase. Timeouts and cancellations are not retried.
func (e *Engine) invokeWithRetry(ctx context.Context, task *models.Task, repo *models.Repository, inv invocation) agent.Outcome {
	out := e.invoke(ctx, task, repo, inv)
	if !out.Failed() || !retryableKinds[out.ErrorKind] || ctx.Err() != nil {
		return out
	}
	log.Printf("[engine] task %s: %s failed (%s), retrying once: %s",
		task.ID, inv.role, out.ErrorKind, out.ErrorMessage)
	return e.invoke(ctx, task, repo, inv)
}

func (e *Engine) runPlanning(ctx context.Context, task *models.Task, repo *models.Repository) error {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.PhaseTimeout)
	defer cancel()

	system, user := agent.BuildPrompts(models.RolePlanner, e.promptInput(task, repo, nil))
	out := e.invokeWithRetry(pctx, task, repo, invocation{role: models.RolePlanner, system: system, user: user})
	if out.Failed() {
		return e.failTask(task.ID, out.ErrorKind, out.ErrorMessage)
	}

	plan := out.Output.Plan
	if plan == nil {
		return e.failSystem(task.ID, models.ErrKindInvalidPlan, "planner returned no plan")
	}
	if err := plan.Validate(); err != nil {
		return e.failSystem(task.ID, models.ErrKindInvalidPlan, fmt.Sprintf("invalid plan: %v", err))
	}
	g, err := graph.FromPlan(plan)
	if err != nil {
		if errors.Is(err, graph.ErrCycleDetected) {
			return e.failSystem(task.ID, models.ErrKindCyclicPlan, "cyclic plan")
		}
		return e.failSystem(task.ID, models.ErrKindInvalidPlan, fmt.Sprintf("invalid plan: %v", err))
	}

	title := out.Output.UITitle
	applied, err := e.store.SetTaskPlan(task.ID, plan, title, e.now())
	if err != nil {
		return err
	}
	if !applied {
		return errYield
	}

	e.publish(task.ID, models.EventPlanReady, models.PlanReadyPayload{
		Title:          title,
		Summary:        plan.Summary,
		Steps:          len(plan.Steps),
		Confidence:     out.Output.Confidence,
		RequiresReview: out.Output.RequiresReview,
	})

	if out.Output.Confidence < e.cfg.AutoApproveThreshold || out.Output.RequiresReview {
		if err := e.store.SetTaskReview(task.ID, true, e.now()); err != nil {
			return err
		}
		if _, err := e.advance(task.ID, models.TaskStatusPlanning, models.TaskStatusPlanReview, ""); err != nil {
			return err
		}
		log.Printf("[engine] task %s: plan held for review (confidence %.2f)", task.ID, out.Output.Confidence)
		return errYield
	}

	topo, err := g.TopologicalOrder()
	if err != nil {
		return e.failSystem(task.ID, models.ErrKindCyclicPlan, "cyclic plan")
	}
	firstRole := g.Step(topo[0]).Persona
	_, err = e.advance(task.ID, models.TaskStatusPlanning, models.TaskStatusExecuting, firstRole)
	return err
}

func (e *Engine) runExecuting(ctx context.Context, task *models.Task, repo *models.Repository) error {
	if task.Plan == nil {
		return e.failSystem(task.ID, models.ErrKindInvalidPlan, "executing with no plan")
	}
	g, err := graph.FromPlan(task.Plan)
	if err != nil {
		if errors.Is(err, graph.ErrCycleDetected) {
			return e.failSystem(task.ID, models.ErrKindCyclicPlan, "cyclic plan")
		}
		return e.failSystem(task.ID, models.ErrKindInvalidPlan, fmt.Sprintf("invalid plan: %v", err))
	}
	topo, err := g.TopologicalOrder()
	if err != nil {
		return e.failSystem(task.ID, models.ErrKindCyclicPlan, "cyclic plan")
	}

	// All steps done: this is a re-entry after a fix child finished.
	if task.CurrentStep >= len(topo) {
		return e.evaluateChildren(task)
	}

	pctx, cancel := context.WithTimeout(ctx, e.cfg.PhaseTimeout)
	defer cancel()

	for idx := task.CurrentStep; idx < len(topo); idx++ {
		fresh, err := e.store.GetTask(task.ID)
		if err != nil {
			return err
		}
		if fresh == nil || fresh.Status != models.TaskStatusExecuting {
			return errYield
		}
		if pctx.Err() != nil {
			return e.failSystem(task.ID, models.ErrKindTimeout,
				fmt.Sprintf("execute phase timed out after %s", e.cfg.PhaseTimeout))
		}

		step := g.Step(topo[idx])
		if err := e.store.SetTaskStep(task.ID, idx, step.Persona, e.now()); err != nil {
			return err
		}
		e.publishStatus(task.ID, models.TaskStatusExecuting, idx+1)
		log.Printf("[engine] task %s: step %d/%d (%s): %s", task.ID, idx+1, len(topo), step.Persona, step.Description)

		system, user := agent.BuildPrompts(step.Persona, e.promptInput(task, repo, step))
		out := e.invokeWithRetry(pctx, task, repo, invocation{
			role:      step.Persona,
			system:    system,
			user:      user,
			declared:  step.FilesAffected,
			stepOrder: step.Order,
		})
		if out.Failed() {
			return e.failTask(task.ID, out.ErrorKind, out.ErrorMessage)
		}
		if err := e.store.SetTaskStep(task.ID, idx+1, step.Persona, e.now()); err != nil {
			return err
		}
	}

	return e.enterTesting(task)
}

func (e *Engine) runTesting(ctx context.Context, task *models.Task, repo *models.Repository) error {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.PhaseTimeout)
	defer cancel()

	system, user := agent.BuildPrompts(models.RoleQA, e.promptInput(task, repo, nil))
	out := e.invokeWithRetry(pctx, task, repo, invocation{role: models.RoleQA, system: system, user: user})
	if out.Failed() {
		return e.failTask(task.ID, out.ErrorKind, out.ErrorMessage)
	}

	report := out.Output.TestReport
	if report == nil {
		report = &agent.TestReport{Status: agent.TestNone}
	}

	switch report.Status {
	case agent.TestPassed:
		log.Printf("[engine] task %s: tests passed", task.ID)
		_, err := e.advance(task.ID, models.TaskStatusTesting, models.TaskStatusDocumenting, models.RoleDocs)
		return err
	case agent.TestNone:
		log.Printf("[engine] task %s: no tests executed, spawning write-tests child", task.ID)
		return e.spawnChild(task, writeTestsChild(task, report))
	default:
		log.Printf("[engine] task %s: tests failed, spawning fix child", task.ID)
		return e.spawnChild(task, fixChild(task, report))
	}
}

func (e *Engine) runDocumenting(ctx context.Context, task *models.Task, repo *models.Repository) error {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.PhaseTimeout)
	defer cancel()

	system, user := agent.BuildPrompts(models.RoleDocs, e.promptInput(task, repo, nil))
	out := e.invokeWithRetry(pctx, task, repo, invocation{role: models.RoleDocs, system: system, user: user})
	if out.Failed() {
		return e.failTask(task.ID, out.ErrorKind, out.ErrorMessage)
	}

	applied, err := e.store.CompleteTask(task.ID, models.TaskStatusDocumenting, e.now())
	if err != nil {
		return err
	}
	if !applied {
		return errYield
	}

	title := task.Title
	if fresh, err := e.store.GetTask(task.ID); err == nil && fresh != nil {
		title = fresh.Title
	}
	count, err := e.store.CountVerifiedFileEvents(task.ID)
	if err != nil {
		log.Printf("[engine] task %s: count verified files: %v", task.ID, err)
		count = 0
	}
	e.publish(task.ID, models.EventComplete, models.CompletePayload{Title: title, FilesVerified: count})
	e.publishStatus(task.ID, models.TaskStatusCompleted, 0)
	log.Printf("[engine] task %s completed (%d verified file events)", task.ID, count)
	return errYield
}

// promptInput assembles the facts every role's prompt interpolates.
func (e *Engine) promptInput(task *models.Task, repo *models.Repository, step *models.PlanStep) agent.PromptInput {
	in := agent.PromptInput{
		Request:     task.UserRequest,
		RepoName:    repo.Name,
		TestCommand: repo.DefaultTestCommand,
		Plan:        task.Plan,
		Step:        step,
	}
	if repo.Kind != "" && repo.Kind != models.RepoKindUnknown {
		in.ProjectKind = string(repo.Kind)
	}
	if e.knowledge != nil {
		notes, err := e.knowledge.Notes(e.rootID(task))
		if err != nil {
			log.Printf("[engine] task %s: load notes: %v", task.ID, err)
		} else {
			in.Notes = notes
		}
	}
	return in
}

// noteOutcome leaves a blackboard note for later agents of the tree.
func (e *Engine) noteOutcome(task *models.Task, role models.AgentRole, out agent.Outcome) {
	if e.knowledge == nil || out.Failed() || out.Output.UITitle == "" {
		return
	}
	note := out.Output.UITitle
	if out.Output.UISubtitle != "" {
		note += ": " + out.Output.UISubtitle
	}
	if err := e.knowledge.AddNote(e.rootID(task), task.ID, role, note); err != nil {
		log.Printf("[engine] task %s: record note: %v", task.ID, err)
	}
}
