package tools

import (
	"context"
	"strings"
	"time"
)

// CurrentTimeTool reports the current wall-clock time, optionally in a
// requested IANA time zone.
type CurrentTimeTool struct {
	now func() time.Time
}

func NewCurrentTimeTool() *CurrentTimeTool {
	return &CurrentTimeTool{now: time.Now}
}

func (t *CurrentTimeTool) Name() string { return "current_time" }

func (t *CurrentTimeTool) Description() string {
	return "Get the current date and time. Optionally pass an IANA timezone name such as \"Asia/Shanghai\"."
}

func (t *CurrentTimeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone name, defaults to the host timezone",
			},
		},
	}
}

func (t *CurrentTimeTool) Execute(ctx context.Context, params map[string]any) *Result {
	now := t.now()

	if tz := strings.TrimSpace(GetStringParam(params, "timezone", "")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Errorf("unknown timezone %q", tz)
		}
		now = now.In(loc)
	}

	return &Result{Data: map[string]any{
		"datetime": now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
		"timezone": now.Location().String(),
		"unix":     now.Unix(),
	}}
}
