package builtin

import (
	"context"
	"fmt"
	"time"
)

type dateTimeTool struct {
	loc *time.Location
	now func() time.Time
}

// newDateTimeTool reports the current time in loc (UTC when nil).
func newDateTimeTool(loc *time.Location) *dateTimeTool {
	if loc == nil {
		loc = time.UTC
	}
	return &dateTimeTool{loc: loc, now: time.Now}
}

func (t *dateTimeTool) Name() string { return "get_current_datetime" }

func (t *dateTimeTool) Description() string {
	return "Get the current date, time, and day of week in the household's timezone."
}

func (t *dateTimeTool) Parameters() map[string]any {
	return objectSchema(map[string]any{})
}

func (t *dateTimeTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	now := t.now().In(t.loc)
	return fmt.Sprintf("Current date and time:\n  Date: %s\n  Time: %s\n  Day:  %s\n  Timezone: %s",
		now.Format("2006-01-02"), now.Format("15:04:05"), now.Weekday(), t.loc), nil
}
