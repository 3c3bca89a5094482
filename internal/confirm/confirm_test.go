package confirm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowlab/deskagent/internal/tools"
)

func pendingCalc(expr string) []PendingTool {
	return []PendingTool{{
		Descriptor: tools.Descriptor{Name: "calculator"},
		Parameters: map[string]any{"expression": expr},
	}}
}

func TestBatchConfirm(t *testing.T) {
	var captured Request
	c := NewCoordinator(nil)
	c.SetNotify(func(req Request) {
		captured = req
		go func() {
			require.NoError(t, c.Confirm(req.ID, nil))
		}()
	})

	decision, err := c.Ask(context.Background(), pendingCalc("2+2"), ModeBatch, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, decision.Outcome)
	require.Len(t, decision.Tools, 1)
	assert.True(t, decision.Tools[0].Approved)
	assert.Equal(t, "2+2", decision.Tools[0].Parameters["expression"])
	assert.Equal(t, ModeBatch, captured.Mode)
}

func TestBatchConfirmWithEdits(t *testing.T) {
	c := NewCoordinator(nil)
	c.notify = func(req Request) {
		go func() {
			require.NoError(t, c.Confirm(req.ID, map[int]map[string]any{
				0: {"expression": "3+3"},
			}))
		}()
	}

	decision, err := c.Ask(context.Background(), pendingCalc("2+2"), ModeBatch, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, decision.Outcome)
	assert.Equal(t, "3+3", decision.Tools[0].Parameters["expression"])
}

func TestBatchReject(t *testing.T) {
	c := NewCoordinator(nil)
	c.notify = func(req Request) {
		go func() { require.NoError(t, c.Reject(req.ID)) }()
	}

	decision, err := c.Ask(context.Background(), pendingCalc("2+2"), ModeBatch, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, decision.Outcome)
	assert.False(t, decision.Tools[0].Approved)
	assert.False(t, decision.Tools[0].TimedOut)
}

func TestTimeoutResolvesApproximatelyOnTime(t *testing.T) {
	c := NewCoordinator(nil)
	timeout := 100 * time.Millisecond

	start := time.Now()
	decision, err := c.Ask(context.Background(), pendingCalc("2+2"), ModeBatch, timeout)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, decision.Outcome)
	assert.True(t, decision.Tools[0].TimedOut)
	assert.False(t, decision.Tools[0].Approved)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+500*time.Millisecond)
}

func TestIndividualMixedResponses(t *testing.T) {
	pending := []PendingTool{
		{Descriptor: tools.Descriptor{Name: "calculator"}, Parameters: map[string]any{"expression": "2+2"}},
		{Descriptor: tools.Descriptor{Name: "web_fetch"}, Parameters: map[string]any{"url": "https://example.test"}},
	}

	c := NewCoordinator(nil)
	c.notify = func(req Request) {
		go func() {
			require.NoError(t, c.RespondTool(req.ID, 0, true, nil))
			require.NoError(t, c.RespondTool(req.ID, 1, false, nil))
		}()
	}

	decision, err := c.Ask(context.Background(), pending, ModeIndividual, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, decision.Outcome)
	assert.True(t, decision.Tools[0].Approved)
	assert.False(t, decision.Tools[1].Approved)
	assert.False(t, decision.Tools[1].TimedOut)
}

func TestIndividualPartialAnswerThenTimeout(t *testing.T) {
	pending := []PendingTool{
		{Descriptor: tools.Descriptor{Name: "a"}},
		{Descriptor: tools.Descriptor{Name: "b"}},
	}

	c := NewCoordinator(nil)
	c.notify = func(req Request) {
		go func() { require.NoError(t, c.RespondTool(req.ID, 0, true, nil)) }()
	}

	decision, err := c.Ask(context.Background(), pending, ModeIndividual, 80*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, decision.Outcome)
	assert.True(t, decision.Tools[0].Approved)
	assert.True(t, decision.Tools[1].TimedOut)
}

func TestAskContextCancelled(t *testing.T) {
	c := NewCoordinator(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Ask(ctx, pendingCalc("2+2"), ModeBatch, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)

	c.mu.Lock()
	assert.Empty(t, c.pending)
	c.mu.Unlock()
}

func TestRespondErrors(t *testing.T) {
	c := NewCoordinator(nil)

	assert.Error(t, c.Confirm("missing", nil))
	assert.Error(t, c.Reject("missing"))
	assert.Error(t, c.RespondTool("missing", 0, true, nil))

	c.notify = func(req Request) {
		go func() {
			assert.Error(t, c.RespondTool(req.ID, 0, true, nil)) // batch mode
			assert.NoError(t, c.Confirm(req.ID, nil))
		}()
	}
	decision, err := c.Ask(context.Background(), pendingCalc("1"), ModeBatch, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, decision.Outcome)
}

func TestEmptyPlanAutoConfirms(t *testing.T) {
	c := NewCoordinator(nil)
	decision, err := c.Ask(context.Background(), nil, ModeBatch, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, decision.Outcome)
}
