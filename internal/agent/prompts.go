package agent

import (
	"fmt"
	"strings"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// PromptInput carries the task facts the prompt builders interpolate.
type PromptInput struct {
	// Request is the user's free-text engineering request.
	Request string
	// RepoName and ProjectKind describe the checkout the agent works in.
	RepoName    string
	ProjectKind string
	// TestCommand is the detected test entrypoint, empty if unknown.
	TestCommand string
	// Plan and Step scope the work for execution-phase roles.
	Plan *models.Plan
	Step *models.PlanStep
	// Notes are shared findings earlier agents left for later ones.
	Notes []string
	// Diagnostics carries the failure excerpt a fix task must address.
	Diagnostics string
}

// BuildPrompts returns the system and user prompt for one invocation.
func BuildPrompts(role models.AgentRole, in PromptInput) (system, user string) {
	switch role {
	case models.RolePlanner:
		return plannerPrompts(in)
	case models.RoleQA:
		return qaPrompts(in)
	case models.RoleDocs:
		return docsPrompts(in)
	default:
		return coderPrompts(role, in)
	}
}

const outputEnvelope = `When your work is done, send a final message containing ONLY a JSON object with this exact structure (no other text):
{
  "ui_title": "Short headline of what you did (max 60 chars)",
  "ui_subtitle": "One-line elaboration",
  "technical_reasoning": "What you did and why",
  "confidence_score": 0.85,
  "requires_review": false%s
}
Set confidence_score honestly in [0,1]. Set requires_review true if a human should look before this work is trusted.`

var plannerSystem = `You are the planning agent of an autonomous engineering pipeline. You decompose a user request into an ordered, dependency-linked plan that specialist agents execute one step at a time.

You have read-only tools (read_file, list_directory, search_files). Inspect the repository before planning: real file paths, real frameworks, real conventions.

Plan rules:
- Steps are numbered from 1. "dependencies" lists step orders that must finish first and may only reference lower numbers.
- Assign each step one persona: coder_be (backend code), coder_fe (frontend code), coder_infra (build, CI, config, and any NEW documentation files), qa (verification beyond the standard test phase), docs (edits to EXISTING documentation).
- Creating a new file is coder work, never docs work. The docs persona only edits files that already exist.
- "files_affected" must name the repository-relative paths the step will touch. Be specific.
- Prefer few substantial steps over many trivial ones. Steps without a dependency between them may run concurrently.
- estimated_complexity scores the whole task from 1 (trivial) to 10 (major).
- List real risks. An empty list means you checked and found none.` + "\n\n" + plannerEnvelope

var plannerEnvelope = fmt.Sprintf(outputEnvelope, `,
  "plan": {
    "summary": "One-paragraph approach",
    "steps": [
      {
        "order": 1,
        "description": "What this step accomplishes",
        "agent_persona": "coder_be",
        "dependencies": [],
        "files_affected": ["path/to/file.go"]
      }
    ],
    "estimated_complexity": 4,
    "affected_files": ["path/to/file.go"],
    "risks": ["Anything that could break"]
  }`)

func plannerPrompts(in PromptInput) (string, string) {
	var b strings.Builder
	writeRepoContext(&b, in)
	fmt.Fprintf(&b, "User request:\n%s\n", in.Request)
	writeNotes(&b, in.Notes)
	b.WriteString("\nInspect the repository, then return your plan.")
	return plannerSystem, b.String()
}

const coderSystemTemplate = `You are the %s agent of an autonomous engineering pipeline. You implement exactly one plan step in the repository checkout you are given.

%s

Working rules:
- Read a file before editing it. edit_file_snippet refuses edits on files you have not read this run.
- Every write is verified on disk after the tool reports success. A write that does not land fails the call.
- Stay inside the step: touch the files the step declares, plus whatever the change genuinely forces (imports, registrations).
- Leave the checkout compiling. If you run commands, run them from the repository root.
- Do not invent placeholder code. Implement the behavior the step describes.` + "\n\n"

var coderSpecialization = map[models.AgentRole]string{
	models.RoleCoderBackend:  "Your specialty is backend code: services, handlers, data access, domain logic.",
	models.RoleCoderFrontend: "Your specialty is frontend code: components, views, styles, client state.",
	models.RoleCoderInfra:    "Your specialty is infrastructure: build files, CI, configuration, scripts, and new documentation files.",
}

var coderEnvelope = fmt.Sprintf(outputEnvelope, "")

func coderPrompts(role models.AgentRole, in PromptInput) (string, string) {
	spec, ok := coderSpecialization[role]
	if !ok {
		spec = coderSpecialization[models.RoleCoderBackend]
	}
	system := fmt.Sprintf(coderSystemTemplate, role, spec) + coderEnvelope

	var b strings.Builder
	writeRepoContext(&b, in)
	fmt.Fprintf(&b, "User request:\n%s\n\n", in.Request)
	if in.Plan != nil && in.Plan.Summary != "" {
		fmt.Fprintf(&b, "Plan summary:\n%s\n\n", in.Plan.Summary)
	}
	if in.Step != nil {
		fmt.Fprintf(&b, "Your step (%d): %s\n", in.Step.Order, in.Step.Description)
		if len(in.Step.FilesAffected) > 0 {
			fmt.Fprintf(&b, "Declared files: %s\n", strings.Join(in.Step.FilesAffected, ", "))
		}
	}
	if in.Diagnostics != "" {
		fmt.Fprintf(&b, "\nThis is a fix task. The failure to address:\n%s\n", in.Diagnostics)
	}
	writeNotes(&b, in.Notes)
	b.WriteString("\nImplement the step now.")
	return system, b.String()
}

const qaSystem = `You are the QA agent of an autonomous engineering pipeline. You verify the work the coder agents just finished.

You may read files, search, list directories, and run commands. You cannot edit files.

Verification rules:
- Run the project's test suite. Prefer the detected test command when one is given.
- Classify the result semantically. A clean exit that executed zero tests (for example "collected 0 items" or "no test files") is "no_tests_executed", NEVER "passed".
- On failures, include the failing test names and the relevant output excerpt in diagnostics. The fix agent sees only what you report.
- Do not fix anything yourself.` + "\n\n"

var qaEnvelope = fmt.Sprintf(outputEnvelope, `,
  "test_report": {
    "status": "passed|failed|no_tests_executed",
    "command": "the command you ran",
    "diagnostics": "failure excerpt, empty when passed"
  }`)

func qaPrompts(in PromptInput) (string, string) {
	var b strings.Builder
	writeRepoContext(&b, in)
	fmt.Fprintf(&b, "User request:\n%s\n\n", in.Request)
	if in.Plan != nil && in.Plan.Summary != "" {
		fmt.Fprintf(&b, "What was implemented:\n%s\n", in.Plan.Summary)
	}
	writeNotes(&b, in.Notes)
	b.WriteString("\nRun the tests and report.")
	return qaSystem + qaEnvelope, b.String()
}

const docsSystem = `You are the documentation agent of an autonomous engineering pipeline. You update EXISTING documentation to reflect the work just completed.

You may read, search, list, and edit with edit_file_snippet. You cannot create or delete files; new documentation files are coder_infra work.

Documentation rules:
- Read the changed code first, then update README sections, usage examples, and configuration references that the change made stale.
- Keep edits surgical. Do not rewrite documents wholesale.
- If nothing needs updating, say so in your final output instead of forcing an edit.` + "\n\n"

var docsEnvelope = fmt.Sprintf(outputEnvelope, "")

func docsPrompts(in PromptInput) (string, string) {
	var b strings.Builder
	writeRepoContext(&b, in)
	fmt.Fprintf(&b, "User request:\n%s\n\n", in.Request)
	if in.Plan != nil {
		if in.Plan.Summary != "" {
			fmt.Fprintf(&b, "What was implemented:\n%s\n", in.Plan.Summary)
		}
		if len(in.Plan.AffectedFiles) > 0 {
			fmt.Fprintf(&b, "Files changed: %s\n", strings.Join(in.Plan.AffectedFiles, ", "))
		}
	}
	writeNotes(&b, in.Notes)
	b.WriteString("\nUpdate the documentation now.")
	return docsSystem + docsEnvelope, b.String()
}

func writeRepoContext(b *strings.Builder, in PromptInput) {
	if in.RepoName != "" {
		fmt.Fprintf(b, "Repository: %s\n", in.RepoName)
	}
	if in.ProjectKind != "" {
		fmt.Fprintf(b, "Project type: %s\n", in.ProjectKind)
	}
	if in.TestCommand != "" {
		fmt.Fprintf(b, "Test command: %s\n", in.TestCommand)
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
}

func writeNotes(b *strings.Builder, notes []string) {
	if len(notes) == 0 {
		return
	}
	b.WriteString("\nShared notes from earlier agents:\n")
	for _, note := range notes {
		fmt.Fprintf(b, "- %s\n", note)
	}
}
