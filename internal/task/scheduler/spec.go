package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

func (k SpecKind) String() string {
	if k == SpecInterval {
		return "interval"
	}
	return "cron"
}

// Spec is a parsed schedule string.
//
// Accepted forms:
//   - cron: "*/30 * * * *", "@hourly", "@every 30m"
//   - duration: "30m", "1h30m"
//   - HH:MM interval: "00:30" (30 minutes), "02:15"
//
// "cron:" forces cron parsing; "interval:" and "every:" force an interval.
type Spec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // cron, duration or hhmm
}

func (s Spec) String() string {
	if s.Kind == SpecInterval {
		return "every " + s.Every.String()
	}
	return s.Cron
}

// schedule turns the spec into something robfig/cron can run.
func (s Spec) schedule(p cron.Parser) (cron.Schedule, error) {
	if s.Kind == SpecInterval {
		return cron.Every(s.Every), nil
	}
	return p.Parse(s.Cron)
}

// SecondOptional accepts both 5-field and 6-field cron specs.
var defaultParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule parses raw into a cron or interval spec. Cron expressions
// are validated.
func ParseSchedule(raw string) (Spec, error) {
	sp, err := parseSpec(raw)
	if err != nil {
		return Spec{}, err
	}
	if sp.Kind == SpecInterval && sp.Every < time.Second {
		return Spec{}, fmt.Errorf("interval %s is shorter than 1s", sp.Every)
	}
	if _, err := sp.schedule(defaultParser); err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", sp.Cron, err)
	}
	return sp, nil
}

func parseSpec(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Spec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return Spec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
	}
	for _, prefix := range []string{"interval:", "every:"} {
		if rest, ok := strings.CutPrefix(low, prefix); ok {
			d, src, err := parseInterval(rest)
			if err != nil {
				return Spec{}, err
			}
			return Spec{Kind: SpecInterval, Every: d, Source: src}, nil
		}
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return Spec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}
	if d, src, err := parseInterval(s); err == nil {
		return Spec{Kind: SpecInterval, Every: d, Source: src}, nil
	}
	return Spec{}, fmt.Errorf("invalid schedule %q (use cron like '*/30 * * * *', HH:MM like '00:30', or a duration like '30m')", raw)
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, "", fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, "", fmt.Errorf("interval must be > 0")
		}
		return d, "hhmm", nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q (use HH:MM or a duration like '30m')", v)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "duration", nil
}
