package engine

import (
	"fmt"
	"log"
	"strings"

	"github.com/antigravity-dev/gravity/internal/agent"
	"github.com/antigravity-dev/gravity/pkg/models"
	"github.com/google/uuid"
)

const maxChildTitle = 80

// childSpec is the synthesized request for a fix or write-tests child.
type childSpec struct {
	title   string
	request string
}

// fixChild synthesizes a child task from the QA failure report.
func fixChild(task *models.Task, report *agent.TestReport) childSpec {
	summary := firstLine(report.Diagnostics)
	if summary == "" {
		summary = "failing tests"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The test suite fails after this change: %s\n\n", task.UserRequest)
	if report.Command != "" {
		fmt.Fprintf(&b, "Test command: %s\n\n", report.Command)
	}
	if report.Diagnostics != "" {
		fmt.Fprintf(&b, "Failure output:\n%s\n\n", report.Diagnostics)
	}
	b.WriteString("Fix the code so the tests pass. Do not weaken or delete the failing tests.")

	return childSpec{title: clampTitle("Fix: "+summary, maxChildTitle), request: b.String()}
}

// writeTestsChild synthesizes a child task when QA executed zero tests.
func writeTestsChild(task *models.Task, report *agent.TestReport) childSpec {
	subject := task.Title
	if subject == "" {
		subject = task.UserRequest
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The change %q finished but the test phase executed zero tests.\n\n", clampTitle(subject, maxChildTitle))
	if report.Command != "" {
		fmt.Fprintf(&b, "Test command: %s\n\n", report.Command)
	}
	b.WriteString("Write tests covering the implemented behavior and make sure they run under the project's test command.")

	return childSpec{title: clampTitle("Write tests: "+subject, maxChildTitle), request: b.String()}
}

// spawnChild burns one fix retry and creates a pending child task. The
// parent returns to executing and yields until the child is terminal.
func (e *Engine) spawnChild(task *models.Task, spec childSpec) error {
	if task.Depth >= e.cfg.MaxFixDepth {
		return e.failSystem(task.ID, models.ErrKindFixBudget,
			fmt.Sprintf("fix depth limit (%d) reached", e.cfg.MaxFixDepth))
	}
	if task.RetryCount >= e.cfg.MaxFixRetries {
		return e.failSystem(task.ID, models.ErrKindFixBudget,
			fmt.Sprintf("fix budget (%d) exhausted", e.cfg.MaxFixRetries))
	}
	retry, err := e.store.IncrementTaskRetry(task.ID)
	if err != nil {
		return err
	}

	now := e.now()
	child := &models.Task{
		ID:          uuid.NewString(),
		ParentID:    task.ID,
		RepoID:      task.RepoID,
		UserRequest: spec.request,
		Title:       spec.title,
		Status:      models.TaskStatusPending,
		Depth:       task.Depth + 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateTask(child); err != nil {
		return err
	}

	if task.Status != models.TaskStatusExecuting {
		applied, err := e.store.TransitionTask(task.ID, task.Status, models.TaskStatusExecuting, e.now())
		if err != nil {
			return err
		}
		if applied {
			e.publishStatus(task.ID, models.TaskStatusExecuting, 0)
		}
	}
	log.Printf("[engine] task %s: spawned child %s (%q, retry %d/%d)",
		task.ID, child.ID, spec.title, retry, e.cfg.MaxFixRetries)
	return errYield
}

// evaluateChildren decides the parent's next move once every plan step
// is done: wait for running children, re-test after a completed child,
// or respawn after a failed one.
func (e *Engine) evaluateChildren(task *models.Task) error {
	children, err := e.store.ListTasksByParent(task.ID)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return e.enterTesting(task)
	}
	for i := range children {
		if !children[i].Status.Terminal() {
			return errYield
		}
	}

	latest := children[len(children)-1]
	if latest.Status == models.TaskStatusCompleted {
		log.Printf("[engine] task %s: child %s completed, re-entering testing", task.ID, latest.ID)
		return e.enterTesting(task)
	}

	log.Printf("[engine] task %s: child %s failed (%s), respawning", task.ID, latest.ID, latest.ErrorKind)
	return e.spawnChild(task, childSpec{title: latest.Title, request: latest.UserRequest})
}

func (e *Engine) enterTesting(task *models.Task) error {
	_, err := e.advance(task.ID, models.TaskStatusExecuting, models.TaskStatusTesting, models.RoleQA)
	return err
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}

func clampTitle(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
