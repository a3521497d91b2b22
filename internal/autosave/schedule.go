package autosave

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Trigger is a parsed autosave schedule: either a cron expression or a
// fixed interval.
//
// Accepted forms:
//
//	*/5 * * * *   cron, 5 or 6 fields
//	@hourly       cron descriptor, including "@every 10m"
//	5m, 1h30m     Go duration
//	00:10         HH:MM interval (ten minutes)
//
// A "cron:" prefix forces cron; "interval:" or "every:" forces an interval.
type Trigger struct {
	Cron  string        // set for cron triggers
	Every time.Duration // set for interval triggers
	Form  string        // "cron", "duration" or "hhmm"
}

// IsInterval reports whether t fires on a fixed interval.
func (t Trigger) IsInterval() bool { return t.Every > 0 }

// Spec returns the expression handed to the cron scheduler.
func (t Trigger) Spec() string {
	if t.IsInterval() {
		return "@every " + t.Every.String()
	}
	return t.Cron
}

var (
	hhmmRe = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

	errEmptySchedule = errors.New("schedule required")
	errNonPositive   = errors.New("interval must be > 0")
)

// ParseSchedule parses raw into a Trigger.
func ParseSchedule(raw string) (Trigger, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Trigger{}, errEmptySchedule
	}
	if rest, ok := cutPrefixFold(s, "cron:"); ok {
		if rest == "" {
			return Trigger{}, fmt.Errorf("cron: %w", errEmptySchedule)
		}
		return Trigger{Cron: rest, Form: "cron"}, nil
	}
	for _, p := range []string{"interval:", "every:"} {
		if rest, ok := cutPrefixFold(s, p); ok {
			return parseEvery(rest)
		}
	}

	if s[0] == '@' || strings.ContainsAny(s, " \t") {
		return Trigger{Cron: s, Form: "cron"}, nil
	}
	t, err := parseEvery(s)
	if err != nil && !errors.Is(err, errNonPositive) {
		return Trigger{}, fmt.Errorf("invalid schedule %q: use cron like '*/5 * * * *', HH:MM like '00:10' or a duration like '5m'", raw)
	}
	return t, err
}

// parseEvery parses an HH:MM or Go duration interval.
func parseEvery(v string) (Trigger, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Trigger{}, fmt.Errorf("interval: %w", errEmptySchedule)
	}

	var (
		d    time.Duration
		form string
	)
	if m := hhmmRe.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Trigger{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d, form = time.Duration(hh)*time.Hour+time.Duration(mm)*time.Minute, "hhmm"
	} else {
		pd, err := time.ParseDuration(v)
		if err != nil {
			return Trigger{}, fmt.Errorf("invalid interval %q: use HH:MM or a duration like '5m'", v)
		}
		d, form = pd, "duration"
	}
	if d <= 0 {
		return Trigger{}, errNonPositive
	}
	return Trigger{Every: d, Form: form}, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}
