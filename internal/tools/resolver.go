package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/glowlab/deskagent/internal/chat"
	"github.com/glowlab/deskagent/internal/logger"
)

// SessionDirectory is the view of the MCP session manager the resolver needs:
// which sessions are enabled, which descriptors they expose, and how to call
// a tool on one of them.
type SessionDirectory interface {
	EnabledSessions() []chat.Session
	Descriptors() []Descriptor
	CallTool(ctx context.Context, sessionID, toolName string, params map[string]any) (any, error)
}

// ResolutionErrorKind classifies why a tool name could not be resolved.
type ResolutionErrorKind string

const (
	// ErrForbidden marks hallucinated meta-tool names that must never be
	// dispatched.
	ErrForbidden ResolutionErrorKind = "forbidden"
	// ErrUnknown marks names present in neither registry.
	ErrUnknown ResolutionErrorKind = "unknown"
	// ErrOrphaned marks MCP tools whose owning session is not enabled.
	ErrOrphaned ResolutionErrorKind = "orphaned"
)

// ResolutionError reports a failed tool lookup. It carries the full list of
// currently available names so the model can self-correct on the next
// reasoning step.
type ResolutionError struct {
	Kind          ResolutionErrorKind
	RequestedName string
	Available     []string
}

func (e *ResolutionError) Error() string {
	switch e.Kind {
	case ErrForbidden:
		return fmt.Sprintf("tool %q is a forbidden pseudo-tool name; available tools: %s",
			e.RequestedName, strings.Join(e.Available, ", "))
	case ErrOrphaned:
		return fmt.Sprintf("tool %q exists but no enabled session provides it; available tools: %s",
			e.RequestedName, strings.Join(e.Available, ", "))
	default:
		return fmt.Sprintf("unknown tool %q; available tools: %s",
			e.RequestedName, strings.Join(e.Available, ", "))
	}
}

// forbiddenNamePatterns are hallucinated meta-tool names some models emit
// when they try to invoke their vendor's parallel tool-calling machinery.
// Matched case-insensitively as substrings, before namespace stripping.
var forbiddenNamePatterns = []string{
	"multi_tool_use.",
	"tool_use.",
	"parallel_tool_use",
}

// ResolvedTarget is a tool name bound to a concrete executable target.
type ResolvedTarget struct {
	Descriptor Descriptor
	SessionID  string
	Origin     chat.Origin
}

// Resolver binds requested tool names to system tools or MCP session tools.
// The system registry always wins on a name collision.
type Resolver struct {
	system   *Registry
	sessions SessionDirectory
	log      *logger.Logger
}

// NewResolver creates a resolver over a system registry and an optional
// session directory. A nil directory means no MCP tools are available.
func NewResolver(system *Registry, sessions SessionDirectory) *Resolver {
	return &Resolver{
		system:   system,
		sessions: sessions,
		log:      logger.WithPrefix("resolver"),
	}
}

// Resolve maps a requested tool name to an executable target.
func (r *Resolver) Resolve(requested string) (*ResolvedTarget, error) {
	name := strings.TrimSpace(requested)
	lower := strings.ToLower(name)

	for _, pattern := range forbiddenNamePatterns {
		if strings.Contains(lower, pattern) {
			r.log.Warn("rejected forbidden tool name %q", requested)
			return nil, &ResolutionError{
				Kind:          ErrForbidden,
				RequestedName: requested,
				Available:     r.AvailableNames(),
			}
		}
	}

	// Models sometimes prefix tool names with a vendor namespace, e.g.
	// "functions.search". The registries only know the bare name.
	if idx := strings.LastIndex(name, "."); idx != -1 && idx < len(name)-1 {
		name = name[idx+1:]
	}

	if tool, ok := r.system.Get(name); ok {
		return &ResolvedTarget{
			Descriptor: Descriptor{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
				Origin:      chat.OriginSystem,
				SessionID:   chat.SystemSessionID,
			},
			SessionID: chat.SystemSessionID,
			Origin:    chat.OriginSystem,
		}, nil
	}

	if r.sessions != nil {
		if target, err := r.resolveMCP(name, requested); target != nil || err != nil {
			return target, err
		}
	}

	return nil, &ResolutionError{
		Kind:          ErrUnknown,
		RequestedName: requested,
		Available:     r.AvailableNames(),
	}
}

func (r *Resolver) resolveMCP(name, requested string) (*ResolvedTarget, error) {
	var match *Descriptor
	for _, desc := range r.sessions.Descriptors() {
		if desc.Name == name {
			d := desc
			match = &d
			break
		}
	}
	if match == nil {
		return nil, nil
	}

	// Ownership is decided by session membership, never by name: the
	// descriptor must come from a currently enabled session.
	for _, sess := range r.sessions.EnabledSessions() {
		if sess.ID == match.SessionID {
			return &ResolvedTarget{
				Descriptor: *match,
				SessionID:  sess.ID,
				Origin:     chat.OriginMCP,
			}, nil
		}
	}

	return nil, &ResolutionError{
		Kind:          ErrOrphaned,
		RequestedName: requested,
		Available:     r.AvailableNames(),
	}
}

// ResolveAll resolves every name in a multi-tool plan. If any single name
// fails, the whole batch is rejected with that name's error; partial
// execution of an unvalidated batch is disallowed.
func (r *Resolver) ResolveAll(names []string) ([]*ResolvedTarget, error) {
	targets := make([]*ResolvedTarget, 0, len(names))
	for _, name := range names {
		target, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// Dispatch executes a resolved target, normalizing system and MCP result
// shapes into one Result.
func (r *Resolver) Dispatch(ctx context.Context, target *ResolvedTarget, params map[string]any) *Result {
	switch target.Origin {
	case chat.OriginSystem:
		return r.system.Invoke(ctx, target.Descriptor.Name, params)
	case chat.OriginMCP:
		if r.sessions == nil {
			return Errorf("no session directory configured")
		}
		data, err := r.sessions.CallTool(ctx, target.SessionID, target.Descriptor.Name, params)
		if err != nil {
			return &Result{Error: err.Error()}
		}
		return &Result{Data: data}
	default:
		return Errorf("unknown tool origin %q", target.Origin)
	}
}

// AvailableNames lists every currently resolvable tool name, system tools
// and MCP tools combined, sorted and de-duplicated.
func (r *Resolver) AvailableNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, desc := range r.system.Descriptors() {
		if _, ok := seen[desc.Name]; !ok {
			seen[desc.Name] = struct{}{}
			names = append(names, desc.Name)
		}
	}
	if r.sessions != nil {
		enabled := make(map[string]struct{})
		for _, sess := range r.sessions.EnabledSessions() {
			enabled[sess.ID] = struct{}{}
		}
		for _, desc := range r.sessions.Descriptors() {
			if _, ok := enabled[desc.SessionID]; !ok {
				continue
			}
			if _, ok := seen[desc.Name]; !ok {
				seen[desc.Name] = struct{}{}
				names = append(names, desc.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// HasAnyTools reports whether at least one tool is currently resolvable.
func (r *Resolver) HasAnyTools() bool {
	return len(r.AvailableNames()) > 0
}
