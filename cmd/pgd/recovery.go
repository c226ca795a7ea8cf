package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/pgd/pkg/engineerr"
)

var relativeTargetRe = regexp.MustCompile(`^(-?\d+)\s+(minute|minutes|hour|hours|day|days)(\s+ago)?$`)

// parseRelativeTarget parses "<integer> <unit> [ago]" recovery targets
// (spec §6: units minutes/hours/days; a leading minus sign is
// equivalent to a trailing "ago").
func parseRelativeTarget(s string) (time.Time, error) {
	m := relativeTargetRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, engineerr.User(fmt.Sprintf("invalid recovery target %q: expected ISO-8601 or \"<integer> <unit> [ago]\"", s), nil)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, engineerr.User(fmt.Sprintf("invalid recovery target %q", s), err)
	}
	ago := n < 0 || m[3] != ""
	if n < 0 {
		n = -n
	}

	var d time.Duration
	switch m[2] {
	case "minute", "minutes":
		d = time.Duration(n) * time.Minute
	case "hour", "hours":
		d = time.Duration(n) * time.Hour
	case "day", "days":
		d = time.Duration(n) * 24 * time.Hour
	}

	now := time.Now().UTC()
	if ago {
		return now.Add(-d), nil
	}
	return now.Add(d), nil
}
