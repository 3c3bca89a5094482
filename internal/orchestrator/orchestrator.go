// Package orchestrator owns the conversation: it appends to the message log,
// decides between a direct model answer and the reasoning engine, keeps the
// running statistics and surfaces lifecycle events to the host UI.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glowlab/deskagent/internal/chat"
	"github.com/glowlab/deskagent/internal/confirm"
	"github.com/glowlab/deskagent/internal/llm"
	"github.com/glowlab/deskagent/internal/logger"
	"github.com/glowlab/deskagent/internal/parser"
	"github.com/glowlab/deskagent/internal/react"
	"github.com/glowlab/deskagent/internal/selector"
	"github.com/glowlab/deskagent/internal/store"
	"github.com/glowlab/deskagent/internal/token"
	"github.com/glowlab/deskagent/internal/tools"
)

const defaultStopGrace = 5 * time.Second

// Events are the host UI callbacks. All fields are optional; the orchestrator
// never blocks on them.
type Events struct {
	OnProgress                func(text string)
	OnReasoningUpdate         func(text string)
	OnToolCall                func(record chat.ToolCallRecord)
	OnToolConfirmationRequest func(req confirm.Request)
	OnMessage                 func(msg chat.Message)
	OnError                   func(err error)
}

// Options configures an orchestrator.
type Options struct {
	MaxIterations       int
	RequireConfirmation bool
	ConfirmMode         confirm.Mode
	ConfirmTimeout      time.Duration
	OutputReserveTokens int
	SafetyMarginTokens  int
	// StopGrace bounds how long a stop request may wait for the running
	// turn before state is forced back to idle.
	StopGrace time.Duration
	Events    Events
}

// Orchestrator drives one conversation. One turn runs at a time.
type Orchestrator struct {
	client      llm.Client
	model       llm.ModelConfig
	registry    *tools.Registry
	sessions    tools.SessionDirectory
	resolver    *tools.Resolver
	selector    *selector.Selector
	coordinator *confirm.Coordinator
	engine      *react.Engine
	store       *store.Store
	opts        Options
	log         *logger.Logger

	mu             sync.Mutex
	history        []chat.Message
	stats          Stats
	busy           bool
	turnDone       chan struct{}
	turnCancel     context.CancelFunc
	conversationID string
}

// New wires an orchestrator. sessions and persistence may be nil.
func New(client llm.Client, model llm.ModelConfig, registry *tools.Registry, sessions tools.SessionDirectory, persistence *store.Store, opts Options) *Orchestrator {
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	if opts.OutputReserveTokens <= 0 {
		opts.OutputReserveTokens = 4096
	}
	if opts.SafetyMarginTokens <= 0 {
		opts.SafetyMarginTokens = 512
	}

	o := &Orchestrator{
		client:   client,
		model:    model,
		registry: registry,
		sessions: sessions,
		resolver: tools.NewResolver(registry, sessions),
		selector: selector.New(),
		store:    persistence,
		opts:     opts,
		log:      logger.WithPrefix("orchestrator"),
	}

	o.coordinator = confirm.NewCoordinator(func(req confirm.Request) {
		if opts.Events.OnToolConfirmationRequest != nil {
			opts.Events.OnToolConfirmationRequest(req)
		}
	})

	o.engine = react.NewEngine(client, o.resolver, o.coordinator, react.Options{
		MaxIterations:       opts.MaxIterations,
		RequireConfirmation: opts.RequireConfirmation,
		ConfirmMode:         opts.ConfirmMode,
		ConfirmTimeout:      opts.ConfirmTimeout,
		Events: react.Events{
			OnReasoningUpdate: opts.Events.OnReasoningUpdate,
			OnToolCall:        opts.Events.OnToolCall,
			OnProgress:        opts.Events.OnProgress,
		},
	})

	return o
}

// Confirmations exposes the coordinator so the host UI can answer pending
// requests.
func (o *Orchestrator) Confirmations() *confirm.Coordinator {
	return o.coordinator
}

// AttachConversation loads an existing conversation from the store and makes
// it the active history.
func (o *Orchestrator) AttachConversation(id string) error {
	if o.store == nil {
		return fmt.Errorf("no persistence configured")
	}
	messages, err := o.store.Messages(id)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return fmt.Errorf("cannot switch conversation while a turn is running")
	}
	o.conversationID = id
	o.history = messages
	o.stats = Stats{}
	return nil
}

// History returns a copy of the conversation log.
func (o *Orchestrator) History() []chat.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]chat.Message, len(o.history))
	copy(out, o.history)
	return out
}

// Stats returns a snapshot of the running counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// SendMessage runs one full turn and returns the assistant message. Only
// provider failures and internal faults are returned as errors; stops, tool
// failures and rejections resolve into regular messages.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) (*chat.Message, error) {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return nil, fmt.Errorf("a turn is already running")
	}
	o.busy = true
	o.turnDone = make(chan struct{})
	turnDone := o.turnDone
	turnCtx, cancel := context.WithCancel(ctx)
	o.turnCancel = cancel

	userMsg := chat.NewMessage(chat.RoleUser, text)
	priorHistory := make([]chat.Message, len(o.history))
	copy(priorHistory, o.history)
	o.history = append(o.history, userMsg)
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.busy = false
		o.turnCancel = nil
		o.mu.Unlock()
		close(turnDone)
	}()

	o.persist(userMsg)
	o.emitMessage(userMsg)

	systemPrompt := buildSystemPrompt(o.registry, o.sessions)
	budget := selector.Budget{
		MaxContextTokens:    o.model.MaxContextTokens,
		SystemPromptTokens:  token.Estimate(systemPrompt),
		OutputReserveTokens: o.opts.OutputReserveTokens,
		SafetyMargin:        o.opts.SafetyMarginTokens,
	}
	selected := o.selector.Select(priorHistory, text, budget)

	start := time.Now()
	var assistantMsg chat.Message
	var usage llm.Usage

	if o.resolver.HasAnyTools() {
		outcome, err := o.engine.Run(turnCtx, systemPrompt, text, selected)
		if err != nil {
			return nil, o.failTurn(err)
		}
		usage = outcome.Usage

		content := outcome.Answer
		if outcome.Stopped {
			if content == "" {
				content = "(stopped)"
			} else {
				content += "\n\n(stopped)"
			}
		}
		assistantMsg = chat.NewMessage(chat.RoleAssistant, content)
		assistantMsg.ToolCalls = outcome.ToolCalls
		assistantMsg.ReasoningTrace = outcome.Trace
	} else {
		answer, u, err := o.directAnswer(turnCtx, systemPrompt, text, selected)
		usage = u
		switch {
		case err == nil:
			assistantMsg = chat.NewMessage(chat.RoleAssistant, answer)
		case turnCtx.Err() != nil:
			// Stopped mid-stream: keep whatever was received.
			if answer == "" {
				answer = "(stopped)"
			} else {
				answer += "\n\n(stopped)"
			}
			assistantMsg = chat.NewMessage(chat.RoleAssistant, answer)
		default:
			return nil, o.failTurn(err)
		}
	}

	latency := time.Since(start).Milliseconds()
	cost := estimateCost(o.model.Provider, usage.InputTokens, usage.OutputTokens)
	assistantMsg.DurationMs = latency
	assistantMsg.CostEstimate = cost

	o.mu.Lock()
	o.history = append(o.history, assistantMsg)
	o.stats.recordTurn(latency, usage.InputTokens, usage.OutputTokens, len(assistantMsg.ToolCalls), cost)
	o.mu.Unlock()

	o.persist(assistantMsg)
	o.emitMessage(assistantMsg)
	return &assistantMsg, nil
}

// directAnswer is the no-tools path: one streamed model call, tags stripped
// if the model emitted them anyway. On failure the partially streamed text is
// returned alongside the error.
func (o *Orchestrator) directAnswer(ctx context.Context, systemPrompt, text string, selected []chat.Message) (string, llm.Usage, error) {
	messages := append(append([]chat.Message{}, selected...), chat.NewMessage(chat.RoleUser, text))
	var buf strings.Builder
	result, err := o.client.Stream(ctx, &llm.Request{
		SystemPrompt: systemPrompt,
		Messages:     messages,
	}, func(chunk string) error {
		buf.WriteString(chunk)
		if o.opts.Events.OnProgress != nil {
			o.opts.Events.OnProgress(chunk)
		}
		return nil
	})
	if err != nil {
		return strings.TrimSpace(buf.String()), llm.Usage{}, err
	}

	var usage llm.Usage
	if result.Usage != nil {
		usage = *result.Usage
	}

	parsed := parser.Parse(result.Text)
	if parsed.FinalAnswer != "" {
		return parsed.FinalAnswer, usage, nil
	}
	return strings.TrimSpace(result.Text), usage, nil
}

// failTurn records a provider failure in the history and reports it.
func (o *Orchestrator) failTurn(err error) error {
	o.log.Error("turn failed: %v", err)

	errMsg := chat.NewMessage(chat.RoleAssistant, "The model request failed: "+err.Error())
	errMsg.IsError = true

	o.mu.Lock()
	o.history = append(o.history, errMsg)
	o.mu.Unlock()

	o.persist(errMsg)
	o.emitMessage(errMsg)
	if o.opts.Events.OnError != nil {
		o.opts.Events.OnError(err)
	}
	return err
}

// Stop cancels the running turn. If the turn does not unwind within the
// grace period, state is forced back to idle and a terminal force-stopped
// message is emitted so the UI never hangs on a stuck turn.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.busy {
		o.mu.Unlock()
		return
	}
	turnDone := o.turnDone
	turnCancel := o.turnCancel
	o.mu.Unlock()

	o.engine.Stop()
	if turnCancel != nil {
		turnCancel()
	}

	go func() {
		select {
		case <-turnDone:
		case <-time.After(o.opts.StopGrace):
			o.log.Warn("turn did not stop within %s, forcing idle", o.opts.StopGrace)
			o.mu.Lock()
			o.busy = false
			msg := chat.NewMessage(chat.RoleAssistant, "(force-stopped)")
			msg.IsError = true
			o.history = append(o.history, msg)
			o.mu.Unlock()
			o.persist(msg)
			o.emitMessage(msg)
		}
	}()
}

func (o *Orchestrator) persist(msg chat.Message) {
	if o.store == nil || o.conversationID == "" {
		return
	}
	if err := o.store.AppendMessage(o.conversationID, msg); err != nil {
		o.log.Warn("failed to persist message %s: %v", msg.ID, err)
	}
}

func (o *Orchestrator) emitMessage(msg chat.Message) {
	if o.opts.Events.OnMessage != nil {
		o.opts.Events.OnMessage(msg)
	}
}
