package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseWallTime accepts Go durations ("90m", "2h") and scheduler clock
// values ("MM:SS", "HH:MM:SS", "D-HH:MM:SS").
func ParseWallTime(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("wall time is empty")
	}
	if !strings.Contains(value, ":") && !strings.Contains(value, "-") {
		d, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("parse wall time %q: %w", value, err)
		}
		if d <= 0 {
			return 0, fmt.Errorf("wall time %q must be positive", value)
		}
		return d, nil
	}

	var days int
	clock := value
	if before, after, ok := strings.Cut(value, "-"); ok {
		n, err := strconv.Atoi(before)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("parse wall time %q: invalid day count", value)
		}
		days = n
		clock = after
	}

	parts := strings.Split(clock, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("parse wall time %q: expected [D-]HH:MM:SS or MM:SS", value)
	}
	nums := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("parse wall time %q: invalid field %q", value, part)
		}
		nums[i] = n
	}
	var hours, minutes, seconds int
	if len(nums) == 3 {
		hours, minutes, seconds = nums[0], nums[1], nums[2]
	} else {
		minutes, seconds = nums[0], nums[1]
	}
	total := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second
	if total <= 0 {
		return 0, fmt.Errorf("wall time %q must be positive", value)
	}
	return total, nil
}

// FormatWallTime renders a duration in the scheduler clock format
// ("D-HH:MM:SS" when at least a day, otherwise "HH:MM:SS").
func FormatWallTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Round(time.Second) / time.Second)
	days := total / 86400
	total %= 86400
	hours := total / 3600
	total %= 3600
	minutes := total / 60
	seconds := total % 60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
