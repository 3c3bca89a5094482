// Package confirm implements the human-in-the-loop gate in front of tool
// execution. A request enters pending state, is surfaced to the host UI and
// resolves as confirmed, rejected or timed out; timeouts are wall-clock and
// never leave the reasoning loop waiting forever.
package confirm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glowlab/deskagent/internal/logger"
	"github.com/glowlab/deskagent/internal/tools"
)

// Mode selects how a multi-tool plan is gated.
type Mode string

const (
	// ModeBatch resolves the whole plan with a single confirm or reject.
	ModeBatch Mode = "batch"
	// ModeIndividual gates every call separately; rejecting one does not
	// block its siblings.
	ModeIndividual Mode = "individual"
)

// Outcome is the terminal state of a confirmation request.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeTimedOut  Outcome = "timed_out"
)

// PendingTool is one tool call awaiting confirmation.
type PendingTool struct {
	Descriptor tools.Descriptor
	Parameters map[string]any
}

// Request is handed to the host UI when confirmation is required.
type Request struct {
	ID      string
	Tools   []PendingTool
	Mode    Mode
	Timeout time.Duration
}

// ToolDecision is the per-call verdict inside a resolved request. Parameters
// carry user edits when present, otherwise the original values.
type ToolDecision struct {
	Approved   bool
	TimedOut   bool
	Parameters map[string]any
}

// Decision is the resolved form of a request.
type Decision struct {
	Outcome Outcome
	Tools   []ToolDecision
}

type pendingRequest struct {
	req       Request
	timer     *time.Timer
	done      chan Decision
	decisions []ToolDecision
	answered  []bool
	remaining int
}

// Coordinator tracks pending confirmation requests. One coordinator serves
// all turns; request ids keep them apart.
type Coordinator struct {
	log     *logger.Logger
	notify  func(Request)
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// NewCoordinator creates a coordinator. notify is invoked (outside the
// coordinator lock) whenever a new request enters pending state; a nil
// notify means requests can only resolve by timeout, which is almost
// certainly a wiring mistake in production but convenient in tests.
func NewCoordinator(notify func(Request)) *Coordinator {
	return &Coordinator{
		log:     logger.WithPrefix("confirm"),
		notify:  notify,
		pending: make(map[string]*pendingRequest),
	}
}

// SetNotify replaces the notification callback, for hosts that attach their
// UI after the coordinator is constructed.
func (c *Coordinator) SetNotify(notify func(Request)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = notify
}

// Ask surfaces the pending tools to the UI and blocks until the request is
// resolved or the context is cancelled. Context cancellation resolves all
// unanswered calls as rejected.
func (c *Coordinator) Ask(ctx context.Context, pendingTools []PendingTool, mode Mode, timeout time.Duration) (Decision, error) {
	if len(pendingTools) == 0 {
		return Decision{Outcome: OutcomeConfirmed}, nil
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	req := Request{
		ID:      uuid.NewString(),
		Tools:   pendingTools,
		Mode:    mode,
		Timeout: timeout,
	}

	p := &pendingRequest{
		req:       req,
		done:      make(chan Decision, 1),
		decisions: make([]ToolDecision, len(pendingTools)),
		answered:  make([]bool, len(pendingTools)),
		remaining: len(pendingTools),
	}
	for i, tool := range pendingTools {
		p.decisions[i].Parameters = tool.Parameters
	}

	c.mu.Lock()
	c.pending[req.ID] = p
	p.timer = time.AfterFunc(timeout, func() { c.expire(req.ID) })
	notify := c.notify
	c.mu.Unlock()

	c.log.Info("confirmation requested for %d tool(s), mode=%s, timeout=%s", len(pendingTools), mode, timeout)
	if notify != nil {
		notify(req)
	}

	select {
	case decision := <-p.done:
		return decision, nil
	case <-ctx.Done():
		c.cancel(req.ID)
		return Decision{}, ctx.Err()
	}
}

// Confirm approves a pending request in batch mode. editedParams, keyed by
// tool index, replaces the original parameters before dispatch.
func (c *Coordinator) Confirm(id string, editedParams map[int]map[string]any) error {
	return c.resolveBatch(id, true, editedParams)
}

// Reject declines a pending request in batch mode.
func (c *Coordinator) Reject(id string) error {
	return c.resolveBatch(id, false, nil)
}

// RespondTool answers a single call of an individual-mode request. The
// request resolves once every call has been answered.
func (c *Coordinator) RespondTool(id string, index int, approved bool, editedParams map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if !ok {
		return fmt.Errorf("no pending confirmation %s", id)
	}
	if p.req.Mode != ModeIndividual {
		return fmt.Errorf("confirmation %s is not in individual mode", id)
	}
	if index < 0 || index >= len(p.decisions) {
		return fmt.Errorf("tool index %d out of range", index)
	}
	if p.answered[index] {
		return fmt.Errorf("tool %d already answered", index)
	}

	p.answered[index] = true
	p.remaining--
	p.decisions[index].Approved = approved
	if approved && editedParams != nil {
		p.decisions[index].Parameters = editedParams
	}

	if p.remaining == 0 {
		c.finishLocked(id, p, outcomeFromDecisions(p.decisions))
	}
	return nil
}

func (c *Coordinator) resolveBatch(id string, approved bool, editedParams map[int]map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if !ok {
		return fmt.Errorf("no pending confirmation %s", id)
	}
	if p.req.Mode != ModeBatch {
		return fmt.Errorf("confirmation %s is not in batch mode", id)
	}

	outcome := OutcomeRejected
	for i := range p.decisions {
		p.decisions[i].Approved = approved
		if approved {
			if edited, ok := editedParams[i]; ok {
				p.decisions[i].Parameters = edited
			}
		}
	}
	if approved {
		outcome = OutcomeConfirmed
	}

	c.finishLocked(id, p, outcome)
	return nil
}

// expire resolves all unanswered calls as timed out.
func (c *Coordinator) expire(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if !ok {
		return
	}
	for i := range p.decisions {
		if !p.answered[i] {
			p.decisions[i].TimedOut = true
			p.decisions[i].Approved = false
		}
	}
	c.log.Warn("confirmation %s timed out after %s", id, p.req.Timeout)
	c.finishLocked(id, p, OutcomeTimedOut)
}

// cancel drops a request whose caller went away.
func (c *Coordinator) cancel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[id]; ok {
		p.timer.Stop()
		delete(c.pending, id)
	}
}

// finishLocked resolves and removes a pending request. Callers hold mu.
func (c *Coordinator) finishLocked(id string, p *pendingRequest, outcome Outcome) {
	p.timer.Stop()
	delete(c.pending, id)
	p.done <- Decision{Outcome: outcome, Tools: p.decisions}
}

// outcomeFromDecisions summarizes an individual-mode resolution: confirmed
// when at least one call was approved, rejected otherwise.
func outcomeFromDecisions(decisions []ToolDecision) Outcome {
	for _, d := range decisions {
		if d.Approved {
			return OutcomeConfirmed
		}
	}
	return OutcomeRejected
}
