// Package react implements the reasoning loop: think, act, observe, reason,
// until the model produces a final answer, the iteration bound is hit or the
// user stops the turn. The model's structured tags drive the control flow;
// tool calls are resolved, optionally confirmed, and dispatched sequentially
// so observations stay deterministically ordered.
package react

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/glowlab/deskagent/internal/chat"
	"github.com/glowlab/deskagent/internal/confirm"
	"github.com/glowlab/deskagent/internal/llm"
	"github.com/glowlab/deskagent/internal/logger"
	"github.com/glowlab/deskagent/internal/parser"
	"github.com/glowlab/deskagent/internal/tools"
)

const defaultMaxIterations = 5

// Events are the engine's lifecycle callbacks. All fields are optional.
type Events struct {
	OnReasoningUpdate func(text string)
	OnToolCall        func(record chat.ToolCallRecord)
	OnProgress        func(text string)
}

// Options configures an engine.
type Options struct {
	MaxIterations       int
	RequireConfirmation bool
	ConfirmMode         confirm.Mode
	ConfirmTimeout      time.Duration
	Events              Events
}

// Outcome is the terminal result of one engine run. Stopped marks a
// user-initiated stop, which is not an error.
type Outcome struct {
	Answer     string
	Trace      []chat.TraceEntry
	ToolCalls  []chat.ToolCallRecord
	Iterations int
	Stopped    bool
	// Usage accumulates token counts across every model call of the turn.
	Usage llm.Usage
}

// Engine runs one reasoning turn at a time.
type Engine struct {
	client      llm.Client
	resolver    *tools.Resolver
	coordinator *confirm.Coordinator
	opts        Options
	log         *logger.Logger

	stopRequested atomic.Bool
	cancelCurrent atomic.Pointer[context.CancelFunc]
}

// NewEngine wires the engine. coordinator may be nil when confirmation is
// disabled.
func NewEngine(client llm.Client, resolver *tools.Resolver, coordinator *confirm.Coordinator, opts Options) *Engine {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	if opts.ConfirmMode == "" {
		opts.ConfirmMode = confirm.ModeBatch
	}
	return &Engine{
		client:      client,
		resolver:    resolver,
		coordinator: coordinator,
		opts:        opts,
		log:         logger.WithPrefix("react"),
	}
}

// Stop requests cancellation of the running turn. The flag is checked before
// every model call and tool dispatch; an in-flight model call is cancelled
// through its context.
func (e *Engine) Stop() {
	e.stopRequested.Store(true)
	if cancel := e.cancelCurrent.Load(); cancel != nil {
		(*cancel)()
	}
}

// taskState is the mutable state of one run.
type taskState struct {
	iteration int
	trace     []chat.TraceEntry
	toolCalls []chat.ToolCallRecord
	usage     llm.Usage
	// transcript is the growing model conversation for this turn.
	transcript []chat.Message
}

func (s *taskState) addUsage(u *llm.Usage) {
	if u == nil {
		return
	}
	s.usage.InputTokens += u.InputTokens
	s.usage.OutputTokens += u.OutputTokens
}

func (s *taskState) addTrace(kind chat.TraceKind, content string) {
	s.trace = append(s.trace, chat.TraceEntry{
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
	})
}

func (s *taskState) outcome(answer string, stopped bool) *Outcome {
	return &Outcome{
		Answer:     answer,
		Trace:      s.trace,
		ToolCalls:  s.toolCalls,
		Iterations: s.iteration,
		Stopped:    stopped,
		Usage:      s.usage,
	}
}

// Run executes one reasoning turn. history is the already-selected context;
// systemPrompt describes the available tools and the tag protocol.
func (e *Engine) Run(ctx context.Context, systemPrompt, userMessage string, history []chat.Message) (*Outcome, error) {
	e.stopRequested.Store(false)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cancelCurrent.Store(&cancel)
	defer e.cancelCurrent.Store(nil)

	state := &taskState{}
	state.transcript = append(state.transcript, history...)
	state.transcript = append(state.transcript, chat.NewMessage(chat.RoleUser, userMessage))

	// Think: the initial model call. It may already contain the answer.
	parsed, partial, err := e.modelCall(runCtx, systemPrompt, state)
	if err != nil {
		if stopped := e.stoppedOutcome(state, partial); stopped != nil {
			return stopped, nil
		}
		return nil, err
	}
	state.addTrace(chat.TraceThought, parsed.Reasoning)
	e.emitReasoning(parsed.Reasoning)

	if parsed.HasFinalAnswer() && !parsed.HasAction() {
		return state.outcome(parsed.FinalAnswer, false), nil
	}

	for parsed.HasAction() && state.iteration < e.opts.MaxIterations {
		if e.stopRequested.Load() {
			return state.outcome(parsed.FinalAnswer, true), nil
		}
		state.iteration++
		e.emitProgress(fmt.Sprintf("iteration %d/%d", state.iteration, e.opts.MaxIterations))

		observation := e.act(runCtx, state, parsed.ActionPlan)
		state.addTrace(chat.TraceObservation, observation)

		if e.stopRequested.Load() {
			return state.outcome("", true), nil
		}

		// Reason over the observation.
		state.transcript = append(state.transcript, chat.NewMessage(chat.RoleTool, observation))
		parsed, partial, err = e.modelCall(runCtx, systemPrompt, state)
		if err != nil {
			if stopped := e.stoppedOutcome(state, partial); stopped != nil {
				return stopped, nil
			}
			return nil, err
		}
		state.addTrace(chat.TraceReasoning, parsed.Reasoning)
		e.emitReasoning(parsed.Reasoning)

		if parsed.HasFinalAnswer() && !parsed.HasAction() {
			return state.outcome(parsed.FinalAnswer, false), nil
		}
	}

	if parsed.HasFinalAnswer() {
		return state.outcome(parsed.FinalAnswer, false), nil
	}

	// Out of iterations or the model went quiet without an answer: one
	// closing call forces a best-effort summary.
	answer, err := e.forceSummary(runCtx, systemPrompt, state)
	if err != nil {
		if stopped := e.stoppedOutcome(state, ""); stopped != nil {
			return stopped, nil
		}
		return nil, err
	}
	return state.outcome(answer, false), nil
}

// act executes one action plan and returns the observation text. Plan and
// resolution failures become observations too, so the model can correct
// itself on the next reasoning step.
func (e *Engine) act(ctx context.Context, state *taskState, actionPlan string) string {
	state.addTrace(chat.TraceActionPlan, actionPlan)

	calls, err := parser.ParseActionPlan(actionPlan)
	if err != nil {
		e.log.Warn("unparseable action plan: %v", err)
		state.addTrace(chat.TraceErrorRecovery, err.Error())
		return "The action plan could not be parsed: " + err.Error() +
			"\nRespond with a valid JSON action plan or a final answer."
	}

	names := make([]string, len(calls))
	for i, call := range calls {
		names[i] = call.Tool
	}

	// All-or-nothing resolution: a single bad name rejects the whole batch
	// before anything runs.
	targets, err := e.resolver.ResolveAll(names)
	if err != nil {
		e.log.Warn("tool resolution failed: %v", err)
		state.addTrace(chat.TraceErrorRecovery, err.Error())
		return "Tool resolution failed: " + err.Error() +
			"\nRetry with one of the listed tool names or give a final answer."
	}

	parameters := make([]map[string]any, len(calls))
	for i, call := range calls {
		parameters[i] = call.Parameters
	}

	skipped := make([]string, len(calls))
	if e.opts.RequireConfirmation && e.coordinator != nil {
		pending := make([]confirm.PendingTool, len(targets))
		for i, target := range targets {
			pending[i] = confirm.PendingTool{
				Descriptor: target.Descriptor,
				Parameters: parameters[i],
			}
		}
		decision, err := e.coordinator.Ask(ctx, pending, e.opts.ConfirmMode, e.opts.ConfirmTimeout)
		if err != nil {
			for i := range skipped {
				skipped[i] = "skipped: turn cancelled while awaiting confirmation"
			}
		} else {
			for i, d := range decision.Tools {
				switch {
				case d.TimedOut:
					skipped[i] = "skipped: user did not confirm in time"
				case !d.Approved:
					skipped[i] = "skipped: rejected by user"
				default:
					// Confirmed; edited parameters replace the originals.
					parameters[i] = d.Parameters
				}
			}
		}
	}

	results := make([]callResult, len(calls))
	for i, target := range targets {
		record := chat.ToolCallRecord{
			ID:         uuid.NewString(),
			ToolName:   target.Descriptor.Name,
			Parameters: parameters[i],
			SessionID:  target.SessionID,
			Origin:     target.Origin,
			Timestamp:  time.Now(),
		}

		if skipped[i] != "" {
			record.Error = skipped[i]
			state.toolCalls = append(state.toolCalls, record)
			e.emitToolCall(record)
			results[i] = callResult{record: record}
			continue
		}

		if e.stopRequested.Load() {
			record.Error = "skipped: turn stopped"
			state.toolCalls = append(state.toolCalls, record)
			results[i] = callResult{record: record}
			continue
		}

		start := time.Now()
		res := e.resolver.Dispatch(ctx, target, parameters[i])
		record.DurationMs = time.Since(start).Milliseconds()
		record.Success = res.Success()
		if res.Success() {
			record.Result = res.Data
		} else {
			record.Error = res.Error
		}

		state.toolCalls = append(state.toolCalls, record)
		state.addTrace(chat.TraceActionResult, fmt.Sprintf("%s: %s", record.ToolName, res.Render()))
		e.emitToolCall(record)
		results[i] = callResult{record: record, rendered: res.Render()}
	}

	return renderObservation(results)
}

// modelCall sends the current transcript and parses the response. The
// partially streamed text is returned alongside the error so a stop still
// yields whatever was parsed.
func (e *Engine) modelCall(ctx context.Context, systemPrompt string, state *taskState) (parser.Parsed, string, error) {
	if e.stopRequested.Load() {
		return parser.Parsed{}, "", context.Canceled
	}

	var buf strings.Builder
	result, err := e.client.Stream(ctx, &llm.Request{
		SystemPrompt: systemPrompt,
		Messages:     state.transcript,
	}, func(chunk string) error {
		buf.WriteString(chunk)
		if e.opts.Events.OnReasoningUpdate != nil {
			streamed := parser.Parse(buf.String())
			if streamed.Reasoning != "" {
				e.opts.Events.OnReasoningUpdate(streamed.Reasoning)
			}
		}
		return nil
	})
	if err != nil {
		return parser.Parsed{}, buf.String(), err
	}
	state.addUsage(result.Usage)

	state.transcript = append(state.transcript, chat.NewMessage(chat.RoleAssistant, result.Text))
	return parser.Parse(result.Text), result.Text, nil
}

// forceSummary issues the closing call that turns the trace and tool history
// into a final answer.
func (e *Engine) forceSummary(ctx context.Context, systemPrompt string, state *taskState) (string, error) {
	if e.stopRequested.Load() {
		return "", context.Canceled
	}

	var sb strings.Builder
	sb.WriteString("The reasoning budget for this task is exhausted. ")
	sb.WriteString("Summarize what was learned and give your best final answer now, ")
	sb.WriteString("inside a <FINAL_ANSWER> tag. Do not request further tools.\n\n")
	sb.WriteString(renderHistorySummary(state.trace, state.toolCalls))

	state.transcript = append(state.transcript, chat.NewMessage(chat.RoleUser, sb.String()))
	result, err := e.client.Complete(ctx, &llm.Request{
		SystemPrompt: systemPrompt,
		Messages:     state.transcript,
	})
	if err != nil {
		return "", err
	}
	state.addUsage(result.Usage)

	parsed := parser.Parse(result.Text)
	if parsed.FinalAnswer != "" {
		return parsed.FinalAnswer, nil
	}
	return strings.TrimSpace(result.Text), nil
}

// stoppedOutcome converts a cancellation-caused failure into the non-error
// stopped outcome, keeping any partially parsed text. Other errors return
// nil and stay terminal.
func (e *Engine) stoppedOutcome(state *taskState, partialText string) *Outcome {
	if !e.stopRequested.Load() {
		return nil
	}
	partial := parser.Parse(partialText)
	answer := partial.FinalAnswer
	if partial.Reasoning != "" {
		state.addTrace(chat.TraceThought, partial.Reasoning)
	}
	return state.outcome(answer, true)
}

func (e *Engine) emitReasoning(text string) {
	if e.opts.Events.OnReasoningUpdate != nil && text != "" {
		e.opts.Events.OnReasoningUpdate(text)
	}
}

func (e *Engine) emitProgress(text string) {
	if e.opts.Events.OnProgress != nil {
		e.opts.Events.OnProgress(text)
	}
}

func (e *Engine) emitToolCall(record chat.ToolCallRecord) {
	if e.opts.Events.OnToolCall != nil {
		e.opts.Events.OnToolCall(record)
	}
}
