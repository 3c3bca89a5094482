package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowlab/deskagent/internal/chat"
)

type fakeDirectory struct {
	sessions    []chat.Session
	descriptors []Descriptor
	callErr     error
	calls       []string
}

func (d *fakeDirectory) EnabledSessions() []chat.Session { return d.sessions }
func (d *fakeDirectory) Descriptors() []Descriptor       { return d.descriptors }

func (d *fakeDirectory) CallTool(ctx context.Context, sessionID, toolName string, params map[string]any) (any, error) {
	d.calls = append(d.calls, sessionID+"/"+toolName)
	if d.callErr != nil {
		return nil, d.callErr
	}
	return "ok", nil
}

type echoTool struct{ name string }

func (t *echoTool) Name() string               { return t.name }
func (t *echoTool) Description() string        { return "echoes input" }
func (t *echoTool) Parameters() map[string]any { return nil }
func (t *echoTool) Execute(ctx context.Context, params map[string]any) *Result {
	return &Result{Data: params["text"]}
}

func newTestResolver(dir SessionDirectory) *Resolver {
	reg := NewRegistry()
	reg.Register(&echoTool{name: "echo"})
	return NewResolver(reg, dir)
}

func TestResolveSystemTool(t *testing.T) {
	r := newTestResolver(nil)

	target, err := r.Resolve("echo")
	require.NoError(t, err)
	assert.Equal(t, chat.OriginSystem, target.Origin)
	assert.Equal(t, chat.SystemSessionID, target.SessionID)
}

func TestResolveForbiddenNames(t *testing.T) {
	r := newTestResolver(nil)

	for _, name := range []string{
		"multi_tool_use.parallel",
		"MULTI_TOOL_USE.PARALLEL",
		"tool_use.echo",
		"parallel_tool_use",
		"Parallel_Tool_Use",
	} {
		_, err := r.Resolve(name)
		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr, "name %q", name)
		assert.Equal(t, ErrForbidden, resErr.Kind, "name %q", name)
	}
}

func TestResolveStripsNamespace(t *testing.T) {
	r := newTestResolver(nil)

	target, err := r.Resolve("functions.echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", target.Descriptor.Name)
}

func TestResolveMCPToolBySessionMembership(t *testing.T) {
	dir := &fakeDirectory{
		sessions: []chat.Session{{ID: "s1", DisplayName: "calc server"}},
		descriptors: []Descriptor{
			{Name: "calculator", Origin: chat.OriginMCP, SessionID: "s1"},
		},
	}
	r := newTestResolver(dir)

	target, err := r.Resolve("calculator")
	require.NoError(t, err)
	assert.Equal(t, chat.OriginMCP, target.Origin)
	assert.Equal(t, "s1", target.SessionID)
}

func TestResolveSystemWinsOverMCP(t *testing.T) {
	dir := &fakeDirectory{
		sessions: []chat.Session{{ID: "s1"}},
		descriptors: []Descriptor{
			{Name: "echo", Origin: chat.OriginMCP, SessionID: "s1"},
		},
	}
	r := newTestResolver(dir)

	target, err := r.Resolve("echo")
	require.NoError(t, err)
	assert.Equal(t, chat.OriginSystem, target.Origin)
}

func TestResolveOrphanedMCPTool(t *testing.T) {
	dir := &fakeDirectory{
		sessions: nil, // session disabled
		descriptors: []Descriptor{
			{Name: "calculator", Origin: chat.OriginMCP, SessionID: "s1"},
		},
	}
	r := newTestResolver(dir)

	_, err := r.Resolve("calculator")
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, ErrOrphaned, resErr.Kind)
}

func TestResolveUnknownListsAvailable(t *testing.T) {
	dir := &fakeDirectory{
		sessions: []chat.Session{{ID: "s1"}},
		descriptors: []Descriptor{
			{Name: "calculator", Origin: chat.OriginMCP, SessionID: "s1"},
		},
	}
	r := newTestResolver(dir)

	_, err := r.Resolve("no_such_tool")
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, ErrUnknown, resErr.Kind)
	assert.Equal(t, "no_such_tool", resErr.RequestedName)
	assert.ElementsMatch(t, []string{"echo", "calculator"}, resErr.Available)
}

func TestResolveAllRejectsWholeBatch(t *testing.T) {
	r := newTestResolver(nil)

	targets, err := r.ResolveAll([]string{"echo", "missing"})
	assert.Nil(t, targets)
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "missing", resErr.RequestedName)
}

func TestDispatchMCPError(t *testing.T) {
	dir := &fakeDirectory{
		sessions: []chat.Session{{ID: "s1"}},
		descriptors: []Descriptor{
			{Name: "calculator", Origin: chat.OriginMCP, SessionID: "s1"},
		},
		callErr: errors.New("server unavailable"),
	}
	r := newTestResolver(dir)

	target, err := r.Resolve("calculator")
	require.NoError(t, err)

	res := r.Dispatch(context.Background(), target, map[string]any{"expression": "2+2"})
	assert.False(t, res.Success())
	assert.Contains(t, res.Error, "server unavailable")
	assert.Equal(t, []string{"s1/calculator"}, dir.calls)
}

func TestAvailableNamesExcludesDisabledSessions(t *testing.T) {
	dir := &fakeDirectory{
		sessions: []chat.Session{{ID: "s1"}},
		descriptors: []Descriptor{
			{Name: "a_tool", Origin: chat.OriginMCP, SessionID: "s1"},
			{Name: "b_tool", Origin: chat.OriginMCP, SessionID: "s2"},
		},
	}
	r := newTestResolver(dir)

	assert.Equal(t, []string{"a_tool", "echo"}, r.AvailableNames())
}

func TestValidateParams(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{"type": "string"},
		},
		"required": []any{"expression"},
	}

	require.NoError(t, ValidateParams(schema, map[string]any{"expression": "2+2"}))

	err := ValidateParams(schema, map[string]any{"expression": 42})
	assert.Error(t, err)

	err = ValidateParams(schema, map[string]any{})
	assert.Error(t, err)

	require.NoError(t, ValidateParams(nil, map[string]any{"anything": true}))
}

func TestRegistryInvokeValidates(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewCalculatorTool())

	res := reg.Invoke(context.Background(), "calculator", map[string]any{"expression": 42})
	assert.False(t, res.Success())
	assert.Contains(t, res.Error, "invalid parameters")
}

func TestResultRender(t *testing.T) {
	tests := []struct {
		res  *Result
		want string
	}{
		{&Result{Data: "text"}, "text"},
		{&Result{Data: map[string]any{"n": 4}}, `{"n":4}`},
		{&Result{Error: "boom"}, "error: boom"},
		{&Result{}, "(no output)"},
	}
	for i, tt := range tests {
		assert.Equal(t, tt.want, tt.res.Render(), fmt.Sprintf("case %d", i))
	}
}
