package react

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowlab/deskagent/internal/chat"
	"github.com/glowlab/deskagent/internal/confirm"
	"github.com/glowlab/deskagent/internal/llm"
	"github.com/glowlab/deskagent/internal/tools"
)

// scriptedClient replays canned responses in order. Stream and Complete draw
// from the same script.
type scriptedClient struct {
	mu        sync.Mutex
	responses []string
	requests  []*llm.Request
}

func (c *scriptedClient) next(req *llm.Request) (*llm.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.responses) == 0 {
		return &llm.Result{Text: "<FINAL_ANSWER>script exhausted</FINAL_ANSWER>"}, nil
	}
	text := c.responses[0]
	c.responses = c.responses[1:]
	return &llm.Result{Text: text}, nil
}

func (c *scriptedClient) Complete(ctx context.Context, req *llm.Request) (*llm.Result, error) {
	return c.next(req)
}

func (c *scriptedClient) Stream(ctx context.Context, req *llm.Request, onChunk func(string) error) (*llm.Result, error) {
	res, err := c.next(req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil {
		if err := onChunk(res.Text); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (c *scriptedClient) ModelID() string { return "scripted" }

func newTestResolver(t *testing.T) *tools.Resolver {
	t.Helper()
	registry := tools.NewRegistry()
	registry.Register(tools.NewCalculatorTool())
	return tools.NewResolver(registry, nil)
}

func TestRunSingleToolCall(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"<REASONING>Need arithmetic.</REASONING>\n" +
			"<ACTION>{\"tool_calls\":[{\"tool\":\"calculator\",\"parameters\":{\"expression\":\"2+2\"}}]}</ACTION>",
		"<REASONING>The result is in.</REASONING>\n<FINAL_ANSWER>2+2 = 4</FINAL_ANSWER>",
	}}
	engine := NewEngine(client, newTestResolver(t), nil, Options{MaxIterations: 5})

	outcome, err := engine.Run(context.Background(), "system prompt", "what is 2+2?", nil)
	require.NoError(t, err)

	assert.Equal(t, "2+2 = 4", outcome.Answer)
	assert.False(t, outcome.Stopped)
	assert.Equal(t, 1, outcome.Iterations)
	require.Len(t, outcome.ToolCalls, 1)
	assert.Equal(t, "calculator", outcome.ToolCalls[0].ToolName)
	assert.True(t, outcome.ToolCalls[0].Success)
	assert.Equal(t, chat.OriginSystem, outcome.ToolCalls[0].Origin)

	// The observation fed back to the model carries the tool output.
	require.Len(t, client.requests, 2)
	last := client.requests[1].Messages
	require.NotEmpty(t, last)
	assert.Contains(t, last[len(last)-1].Content, "4")
}

func TestRunZeroIterationAnswer(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"<REASONING>Trivial.</REASONING>\n<FINAL_ANSWER>Paris</FINAL_ANSWER>",
	}}
	engine := NewEngine(client, newTestResolver(t), nil, Options{})

	outcome, err := engine.Run(context.Background(), "sys", "capital of France?", nil)
	require.NoError(t, err)

	assert.Equal(t, "Paris", outcome.Answer)
	assert.Zero(t, outcome.Iterations)
	assert.Empty(t, outcome.ToolCalls)
}

func TestRunMaxIterationsForcesSummary(t *testing.T) {
	action := "<REASONING>More math.</REASONING>\n" +
		"<ACTION>{\"tool_calls\":[{\"tool\":\"calculator\",\"parameters\":{\"expression\":\"1+1\"}}]}</ACTION>"
	client := &scriptedClient{responses: []string{
		action,
		action,
		action,
		"<FINAL_ANSWER>Best effort: 2</FINAL_ANSWER>",
	}}
	engine := NewEngine(client, newTestResolver(t), nil, Options{MaxIterations: 2})

	outcome, err := engine.Run(context.Background(), "sys", "loop forever", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.Iterations)
	assert.Equal(t, "Best effort: 2", outcome.Answer)
	assert.Len(t, outcome.ToolCalls, 2)

	// Think, two reason calls, then the closing summary call.
	require.Len(t, client.requests, 4)
	summaryReq := client.requests[3].Messages
	assert.Contains(t, summaryReq[len(summaryReq)-1].Content, "final answer")
}

func TestRunBatchRejectionRecordsNothing(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"<REASONING>Two steps.</REASONING>\n" +
			"<ACTION>{\"tool_calls\":[" +
			"{\"tool\":\"calculator\",\"parameters\":{\"expression\":\"1+1\"}}," +
			"{\"tool\":\"time_travel\",\"parameters\":{}}]}</ACTION>",
		"<REASONING>Adjusting.</REASONING>\n<FINAL_ANSWER>recovered</FINAL_ANSWER>",
	}}
	engine := NewEngine(client, newTestResolver(t), nil, Options{MaxIterations: 5})

	outcome, err := engine.Run(context.Background(), "sys", "do both", nil)
	require.NoError(t, err)

	// One bad name rejects the whole plan: nothing ran, not even the
	// resolvable calculator call.
	assert.Empty(t, outcome.ToolCalls)
	assert.Equal(t, "recovered", outcome.Answer)

	require.Len(t, client.requests, 2)
	reasonMsgs := client.requests[1].Messages
	feedback := reasonMsgs[len(reasonMsgs)-1].Content
	assert.Contains(t, feedback, "time_travel")
	assert.Contains(t, feedback, "calculator")

	var recovery bool
	for _, entry := range outcome.Trace {
		if entry.Kind == chat.TraceErrorRecovery {
			recovery = true
		}
	}
	assert.True(t, recovery)
}

func TestRunUnparseablePlanFeedsErrorBack(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"<REASONING>Go.</REASONING>\n<ACTION>this is not json</ACTION>",
		"<FINAL_ANSWER>gave up on tools</FINAL_ANSWER>",
	}}
	engine := NewEngine(client, newTestResolver(t), nil, Options{MaxIterations: 3})

	outcome, err := engine.Run(context.Background(), "sys", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "gave up on tools", outcome.Answer)
	assert.Empty(t, outcome.ToolCalls)
}

func TestRunStopMidLoop(t *testing.T) {
	action := "<REASONING>Step.</REASONING>\n" +
		"<ACTION>{\"tool_calls\":[{\"tool\":\"calculator\",\"parameters\":{\"expression\":\"3*3\"}}]}</ACTION>"
	client := &scriptedClient{responses: []string{action, action, action, action, action}}

	var engine *Engine
	engine = NewEngine(client, newTestResolver(t), nil, Options{
		MaxIterations: 5,
		Events: Events{
			OnToolCall: func(record chat.ToolCallRecord) {
				engine.Stop()
			},
		},
	})

	outcome, err := engine.Run(context.Background(), "sys", "keep going", nil)
	require.NoError(t, err)

	assert.True(t, outcome.Stopped)
	assert.Equal(t, 1, outcome.Iterations)
	// The first dispatch completed before the stop took effect.
	require.Len(t, outcome.ToolCalls, 1)
	assert.True(t, outcome.ToolCalls[0].Success)
	// Only the think call reached the model.
	assert.Len(t, client.requests, 1)
}

func TestRunConfirmationRejection(t *testing.T) {
	coordinator := confirm.NewCoordinator(nil)
	client := &scriptedClient{responses: []string{
		"<REASONING>Compute.</REASONING>\n" +
			"<ACTION>{\"tool_calls\":[{\"tool\":\"calculator\",\"parameters\":{\"expression\":\"2+2\"}}]}</ACTION>",
		"<FINAL_ANSWER>understood, not running it</FINAL_ANSWER>",
	}}

	engine := NewEngine(client, newTestResolver(t), coordinator, Options{
		MaxIterations:       3,
		RequireConfirmation: true,
		ConfirmMode:         confirm.ModeBatch,
		ConfirmTimeout:      5 * time.Second,
	})
	coordinator.SetNotify(func(req confirm.Request) {
		go func() {
			require.NoError(t, coordinator.Reject(req.ID))
		}()
	})

	outcome, err := engine.Run(context.Background(), "sys", "compute", nil)
	require.NoError(t, err)

	require.Len(t, outcome.ToolCalls, 1)
	record := outcome.ToolCalls[0]
	assert.False(t, record.Success)
	assert.Contains(t, record.Error, "skipped")
	assert.Nil(t, record.Result)
	assert.Equal(t, "understood, not running it", outcome.Answer)
}

func TestRunConfirmationWithEditedParameters(t *testing.T) {
	coordinator := confirm.NewCoordinator(nil)
	client := &scriptedClient{responses: []string{
		"<REASONING>Compute.</REASONING>\n" +
			"<ACTION>{\"tool_calls\":[{\"tool\":\"calculator\",\"parameters\":{\"expression\":\"2+2\"}}]}</ACTION>",
		"<FINAL_ANSWER>done</FINAL_ANSWER>",
	}}

	engine := NewEngine(client, newTestResolver(t), coordinator, Options{
		MaxIterations:       3,
		RequireConfirmation: true,
		ConfirmTimeout:      5 * time.Second,
	})
	coordinator.SetNotify(func(req confirm.Request) {
		go func() {
			edits := map[int]map[string]any{0: {"expression": "10*10"}}
			require.NoError(t, coordinator.Confirm(req.ID, edits))
		}()
	})

	outcome, err := engine.Run(context.Background(), "sys", "compute", nil)
	require.NoError(t, err)

	require.Len(t, outcome.ToolCalls, 1)
	record := outcome.ToolCalls[0]
	assert.True(t, record.Success)
	assert.Equal(t, "10*10", record.Parameters["expression"])
	assert.Equal(t, "100", record.Result)
}

func TestRenderObservationMultiTool(t *testing.T) {
	out := renderObservation([]callResult{
		{record: chat.ToolCallRecord{ToolName: "calculator", Success: true}, rendered: "4"},
		{record: chat.ToolCallRecord{ToolName: "web_fetch", Error: "error: boom"}},
	})
	assert.Contains(t, out, "[1] calculator")
	assert.Contains(t, out, "[2] web_fetch")
	assert.Contains(t, out, "boom")
}
