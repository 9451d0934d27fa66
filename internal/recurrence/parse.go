package recurrence

import (
	"fmt"
	"strconv"
	"strings"

	"playtestbot/internal/model"
)

// ParseWeekday accepts an English day name ("Friday", "fri"), case-insensitive.
func ParseWeekday(s string) (model.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if len(name) >= 3 {
		for d := model.Monday; d <= model.Sunday; d++ {
			if strings.HasPrefix(d.String(), name) {
				return d, nil
			}
		}
	}
	return 0, fmt.Errorf("recurrence: unknown weekday %q", s)
}

// ParseClock parses a local start time written as "1900" or "19:00".
func ParseClock(s string) (model.Clock, error) {
	v := strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	if len(v) != 4 {
		return model.Clock{}, fmt.Errorf("recurrence: start time %q is not HHMM", s)
	}
	h, err := strconv.Atoi(v[0:2])
	if err != nil {
		return model.Clock{}, fmt.Errorf("recurrence: start time %q: %w", s, err)
	}
	m, err := strconv.Atoi(v[2:4])
	if err != nil {
		return model.Clock{}, fmt.Errorf("recurrence: start time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return model.Clock{}, fmt.Errorf("recurrence: start time %q out of range", s)
	}
	return model.Clock{Hour: h, Minute: m}, nil
}
