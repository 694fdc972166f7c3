// Package agent drives role-specialized model invocations: one Runtime
// per run owns the request/tool-use cycle, enforces the role's tool
// allowlist and iteration budget, and returns a structured Outcome.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/antigravity-dev/gravity/internal/llm"
	"github.com/antigravity-dev/gravity/internal/tools"
	"github.com/antigravity-dev/gravity/internal/verify"
	"github.com/antigravity-dev/gravity/pkg/models"
)

const (
	// defaultMaxIterations bounds model round trips per invocation.
	defaultMaxIterations = 8
	// maxReprompts bounds how often a coder is sent back to finish its
	// declared files after it claims to be done.
	maxReprompts = 3
	// maxOutputTokens is the completion budget per model round trip.
	maxOutputTokens = 8192
	// toolResultTokenBudget caps one tool result in the transcript.
	toolResultTokenBudget = 4000
	// invocationResultLimit caps the result copy kept on the run record.
	invocationResultLimit = 500
)

// Messenger is the model surface the runtime drives.
type Messenger interface {
	Message(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
	ResolveModel(model string) anthropic.Model
}

var _ Messenger = (*llm.Client)(nil)

// StreamEvent is a progress notification during an invocation.
type StreamEvent struct {
	Type    string // "text", "tool_use", "tool_result", "done", "error"
	Content string
	Tool    string
	Input   json.RawMessage
}

// Tool choice modes for one model round trip.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
	ToolChoiceTool     = "tool"
)

// ToolChoice constrains how the model may use tools on a round trip.
// The zero value leaves the choice to the model.
type ToolChoice struct {
	Mode string
	// Name is the forced tool when Mode is ToolChoiceTool.
	Name string
}

// Request describes one agent invocation.
type Request struct {
	// TaskID and RunID stamp verified events with their origin.
	TaskID string
	RunID  string
	// Role selects postcondition policy: coders must touch their declared
	// files, the planner must return a plan, QA must report tests.
	Role models.AgentRole
	// SystemPrompt and UserPrompt seed the transcript.
	SystemPrompt string
	UserPrompt   string
	// Model overrides the client default when non-empty.
	Model string
	// AllowedTools is the role's tool allowlist, empty for all registered.
	AllowedTools []string
	// ToolChoice constrains tool use on every round trip; the runtime
	// escalates to required on re-prompt turns regardless.
	ToolChoice ToolChoice
	// DeclaredFiles are the paths the plan step expects verified writes on.
	DeclaredFiles []string
	// MaxIterations bounds model round trips, 0 for the default.
	MaxIterations int
	// CallTimeout bounds one model round trip, 0 for none.
	CallTimeout time.Duration
	// ReviewThreshold forces the review flag below this confidence.
	ReviewThreshold float64
	// ForceReview forces the review flag regardless of confidence.
	ForceReview bool
}

// Runtime executes agent invocations against one repository checkout.
type Runtime struct {
	client     Messenger
	verifier   *verify.Verifier
	registry   *tools.Registry
	onStream   func(StreamEvent)
	onVerified func(models.VerifiedFileEvent)

	debugLog func(format string, args ...interface{})
}

// New creates a runtime over one run's verifier and registry.
func New(client Messenger, verifier *verify.Verifier, registry *tools.Registry) *Runtime {
	return &Runtime{
		client:   client,
		verifier: verifier,
		registry: registry,
	}
}

// SetStreamHandler sets a callback for progress events.
func (r *Runtime) SetStreamHandler(fn func(StreamEvent)) {
	r.onStream = fn
}

// SetVerifiedHandler sets a callback invoked for each verified file
// effect as it is confirmed, before the outcome is returned.
func (r *Runtime) SetVerifiedHandler(fn func(models.VerifiedFileEvent)) {
	r.onVerified = fn
}

// SetDebugLog sets an optional debug logger.
func (r *Runtime) SetDebugLog(fn func(format string, args ...interface{})) {
	r.debugLog = fn
}

func (r *Runtime) emit(ev StreamEvent) {
	if r.onStream != nil {
		r.onStream(ev)
	}
}

func (r *Runtime) debug(format string, args ...interface{}) {
	if r.debugLog != nil {
		r.debugLog(format, args...)
	}
}

// Run drives the invocation to completion. Failures never surface as Go
// errors: the outcome carries the error kind and message so the engine
// can decide between retry, fix child, and task failure.
func (r *Runtime) Run(ctx context.Context, req Request) Outcome {
	start := time.Now()
	out := Outcome{}

	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	allowed := make(map[string]bool, len(req.AllowedTools))
	for _, name := range req.AllowedTools {
		allowed[name] = true
	}
	defs := r.registry.Definitions(req.AllowedTools...)

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
	}

	reprompts := 0
	choice := req.ToolChoice
	var finalText string
	var lastCommandOutput string
	lastCommandFailed := false

	for {
		if out.Iterations >= maxIter {
			return r.fail(out, start, models.ErrKindMaxIterations,
				fmt.Sprintf("iteration budget (%d) exhausted", maxIter))
		}
		out.Iterations++

		if err := ctx.Err(); err != nil {
			return r.fail(out, start, cancelKind(err), err.Error())
		}

		resp, err := r.call(ctx, req, messages, defs, choice)
		if err != nil {
			r.emit(StreamEvent{Type: "error", Content: err.Error()})
			return r.fail(out, start, cancelKind(err), fmt.Sprintf("model call: %v", err))
		}
		// An escalated choice lasts one round trip.
		choice = req.ToolChoice
		out.TokensIn += resp.Usage.InputTokens
		out.TokensOut += resp.Usage.OutputTokens

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion
		var textOutput string

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				textOutput += variant.Text
				r.emit(StreamEvent{Type: "text", Content: variant.Text})
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				r.emit(StreamEvent{Type: "tool_use", Tool: variant.Name, Input: variant.Input})
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))

				res, events := r.execute(ctx, req, allowed, variant.Name, variant.Input)
				out.Events = append(out.Events, events...)
				if r.onVerified != nil {
					for _, ev := range events {
						r.onVerified(ev)
					}
				}
				out.ToolCalls = append(out.ToolCalls, models.ToolInvocation{
					Name:       variant.Name,
					Args:       string(variant.Input),
					Result:     truncateForRecord(res.Content),
					IsError:    res.IsError,
					DurationMS: res.Duration.Milliseconds(),
				})
				if variant.Name == tools.ToolRunCommand {
					lastCommandOutput = res.Content
					lastCommandFailed = res.IsError
				}
				r.emit(StreamEvent{Type: "tool_result", Tool: variant.Name, Content: truncateForRecord(res.Content)})

				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, llm.TruncateTokens(res.Content, toolResultTokenBudget), res.IsError))
			}
		}

		if resp.StopReason == anthropic.StopReasonEndTurn {
			if req.Role.Coder() {
				residual := unmetDeclared(req.DeclaredFiles, out.Events)
				if len(residual) > 0 || !hasVerifiedWrite(out.Events) {
					if reprompts < maxReprompts {
						reprompts++
						r.debug("[agent] %s re-prompt %d/%d, residual=%v", req.Role, reprompts, maxReprompts, residual)
						messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
						messages = append(messages,
							anthropic.NewUserMessage(anthropic.NewTextBlock(residualPrompt(residual))))
						// Force tool use on the retry turn.
						choice = ToolChoice{Mode: ToolChoiceRequired}
						continue
					}
					return r.fail(out, start, models.ErrKindAgentFailed,
						fmt.Sprintf("no verified writes on declared files after %d re-prompts: %s",
							maxReprompts, strings.Join(residual, ", ")))
				}
			}
			finalText = textOutput
			r.emit(StreamEvent{Type: "done"})
			break
		}

		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		if len(toolResultBlocks) > 0 {
			messages = append(messages, anthropic.NewUserMessage(toolResultBlocks...))
		}
	}

	var output Output
	if err := llm.UnmarshalLenient(finalText, &output); err != nil {
		return r.fail(out, start, models.ErrKindInvalidOutput,
			fmt.Sprintf("parse agent output: %v", err))
	}
	normalizeOutput(&output, req)

	if req.Role == models.RolePlanner && output.Plan == nil {
		return r.fail(out, start, models.ErrKindInvalidOutput, "planner returned no plan")
	}
	if req.Role == models.RoleQA {
		reconcileTestReport(&output, lastCommandOutput, lastCommandFailed)
	}

	out.Status = StatusOK
	out.Output = output
	out.Duration = time.Since(start)
	return out
}

// call issues one model round trip under the per-call timeout.
func (r *Runtime) call(ctx context.Context, req Request, messages []anthropic.MessageParam, defs []anthropic.ToolUnionParam, choice ToolChoice) (*anthropic.Message, error) {
	callCtx := ctx
	if req.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.CallTimeout)
		defer cancel()
	}
	return r.client.Message(callCtx, anthropic.MessageNewParams{
		Model:      r.client.ResolveModel(req.Model),
		MaxTokens:  maxOutputTokens,
		System:     []anthropic.TextBlockParam{{Text: req.SystemPrompt}},
		Messages:   messages,
		Tools:      defs,
		ToolChoice: encodeToolChoice(choice),
	})
}

// encodeToolChoice maps a choice onto the SDK union. Auto stays unset,
// the provider default.
func encodeToolChoice(tc ToolChoice) anthropic.ToolChoiceUnionParam {
	switch tc.Mode {
	case ToolChoiceRequired:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	case ToolChoiceTool:
		if tc.Name == "" {
			return anthropic.ToolChoiceUnionParam{}
		}
		return anthropic.ToolChoiceParamOfTool(tc.Name)
	default:
		return anthropic.ToolChoiceUnionParam{}
	}
}

// execute runs one tool call through the allowlist and the verifier.
func (r *Runtime) execute(ctx context.Context, req Request, allowed map[string]bool, name string, input json.RawMessage) (tools.Result, []models.VerifiedFileEvent) {
	if len(allowed) > 0 && !allowed[name] {
		return tools.Result{
			Content: fmt.Sprintf("tool %q is not available to role %s", name, req.Role),
			IsError: true,
		}, nil
	}
	return r.verifier.Execute(ctx, req.TaskID, req.RunID, name, input)
}

func (r *Runtime) fail(out Outcome, start time.Time, kind models.ErrorKind, msg string) Outcome {
	out.Status = StatusFailed
	out.ErrorKind = kind
	out.ErrorMessage = msg
	out.Duration = time.Since(start)
	r.debug("[agent] failed: %s: %s", kind, msg)
	return out
}

// cancelKind distinguishes deadline and cancellation failures from plain
// model errors.
func cancelKind(err error) models.ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrKindTimeout
	case errors.Is(err, context.Canceled):
		return models.ErrKindCancelled
	default:
		return models.ErrKindAgentFailed
	}
}

// unmetDeclared returns the declared paths with no verified create or
// edit, preserving declaration order.
func unmetDeclared(declared []string, events []models.VerifiedFileEvent) []string {
	if len(declared) == 0 {
		return nil
	}
	touched := make(map[string]bool, len(events))
	for _, ev := range events {
		if ev.Action == models.FileActionCreate || ev.Action == models.FileActionEdit {
			touched[ev.Path] = true
		}
	}
	var unmet []string
	for _, path := range declared {
		if !touched[path] {
			unmet = append(unmet, path)
		}
	}
	return unmet
}

// hasVerifiedWrite reports whether any create or edit was confirmed.
func hasVerifiedWrite(events []models.VerifiedFileEvent) bool {
	for _, ev := range events {
		if ev.Action == models.FileActionCreate || ev.Action == models.FileActionEdit {
			return true
		}
	}
	return false
}

// residualPrompt tells a coder which declared files still lack verified
// writes.
func residualPrompt(residual []string) string {
	if len(residual) == 0 {
		return "You finished without any verified file changes. Apply your changes with the file tools before returning your final JSON output."
	}
	return fmt.Sprintf(
		"These declared files have no verified changes yet: %s. Finish them with the file tools, then return your final JSON output.",
		strings.Join(residual, ", "))
}

// normalizeOutput clamps model-reported fields and applies review policy.
func normalizeOutput(out *Output, req Request) {
	out.Confidence = clampConfidence(out.Confidence)
	if req.ForceReview || out.Confidence < req.ReviewThreshold {
		out.RequiresReview = true
	}
	if out.UITitle == "" {
		out.UITitle = fmt.Sprintf("%s finished", req.Role)
	}
}

// reconcileTestReport cross-checks the QA agent's claim against the last
// test command's actual output. A clean run that executed no tests is
// downgraded to no_tests_executed no matter what the agent reported.
func reconcileTestReport(out *Output, commandOutput string, commandFailed bool) {
	if out.TestReport == nil {
		out.TestReport = &TestReport{}
		if commandOutput == "" {
			out.TestReport.Status = TestNone
			return
		}
	}
	if commandOutput == "" {
		if out.TestReport.Status == "" {
			out.TestReport.Status = TestNone
		}
		return
	}

	parsed := ParseTestOutput(commandOutput, !commandFailed && !strings.Contains(commandOutput, "command failed"))
	switch {
	case out.TestReport.Status == "":
		out.TestReport.Status = parsed
	case parsed == TestNone && out.TestReport.Status == TestPassed:
		out.TestReport.Status = TestNone
	case parsed == TestFailed && out.TestReport.Status == TestPassed:
		out.TestReport.Status = TestFailed
	}
	if out.TestReport.Diagnostics == "" && out.TestReport.Status == TestFailed {
		// The fix child needs real excerpts, not the display truncation.
		out.TestReport.Diagnostics = llm.TruncateTokens(commandOutput, 1000)
	}
}

func truncateForRecord(s string) string {
	if len(s) > invocationResultLimit {
		return s[:invocationResultLimit] + "..."
	}
	return s
}
