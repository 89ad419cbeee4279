package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

const cronPrefix = "cron:"

// cronParser accepts 5-field expressions, an optional leading seconds
// field, and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.SecondOptional | cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// schedules caches parsed cron expressions.
var (
	schedulesMu sync.RWMutex
	schedules   = make(map[string]cronlib.Schedule)
)

func parseSchedule(expr string) (cronlib.Schedule, error) {
	schedulesMu.RLock()
	sched, ok := schedules[expr]
	schedulesMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: cron %q: %v", ErrInvalidExpression, expr, err)
	}

	schedulesMu.Lock()
	schedules[expr] = sched
	schedulesMu.Unlock()
	return sched, nil
}

// Repeat is a parsed repeat expression. Two forms exist:
//
//	R[n]/[start/]period[/end]   ISO-8601 repeating interval
//	[R[n]/]cron:<expr>          cron cycle
//
// Times is the number of occurrences left including the one the current
// timer row represents; -1 means unbounded.
type Repeat struct {
	Times  int
	Start  *time.Time
	Period Duration
	End    *time.Time
	Cron   string

	schedule cronlib.Schedule
}

// IsRepeat reports whether expr is a repeat expression rather than a
// single date or duration.
func IsRepeat(expr string) bool {
	if strings.HasPrefix(expr, cronPrefix) {
		return true
	}
	if len(expr) < 2 || expr[0] != 'R' {
		return false
	}
	return expr[1] == '/' || (expr[1] >= '0' && expr[1] <= '9')
}

// ParseRepeat parses a repeat expression.
func ParseRepeat(expr string) (Repeat, error) {
	r := Repeat{Times: -1}
	rest := expr

	if strings.HasPrefix(expr, "R") {
		head, tail, ok := strings.Cut(expr, "/")
		if !ok || tail == "" {
			return r, fmt.Errorf("%w: repeat %q", ErrInvalidExpression, expr)
		}
		if head != "R" {
			n, err := strconv.Atoi(head[1:])
			if err != nil || n < 0 {
				return r, fmt.Errorf("%w: repeat count in %q", ErrInvalidExpression, expr)
			}
			r.Times = n
		}
		rest = tail
	} else if !strings.HasPrefix(expr, cronPrefix) {
		return r, fmt.Errorf("%w: repeat %q", ErrInvalidExpression, expr)
	}

	if strings.HasPrefix(rest, cronPrefix) {
		r.Cron = strings.TrimSpace(strings.TrimPrefix(rest, cronPrefix))
		sched, err := parseSchedule(r.Cron)
		if err != nil {
			return r, err
		}
		r.schedule = sched
		return r, nil
	}

	parts := strings.Split(rest, "/")
	if len(parts) > 3 {
		return r, fmt.Errorf("%w: repeat %q", ErrInvalidExpression, expr)
	}

	periodAt := 0
	if !strings.HasPrefix(parts[0], "P") {
		start, err := ParseDate(parts[0])
		if err != nil {
			return r, err
		}
		r.Start = &start
		periodAt = 1
	}
	if periodAt >= len(parts) {
		return r, fmt.Errorf("%w: repeat %q has no period", ErrInvalidExpression, expr)
	}
	period, err := ParseDuration(parts[periodAt])
	if err != nil {
		return r, err
	}
	if period.IsZero() {
		return r, fmt.Errorf("%w: repeat %q has a zero period", ErrInvalidExpression, expr)
	}
	r.Period = period

	switch rem := parts[periodAt+1:]; len(rem) {
	case 0:
	case 1:
		end, err := ParseDate(rem[0])
		if err != nil {
			return r, err
		}
		r.End = &end
	default:
		return r, fmt.Errorf("%w: repeat %q", ErrInvalidExpression, expr)
	}
	return r, nil
}

// First returns the first occurrence not before now.
func (r Repeat) First(now time.Time) time.Time {
	if r.schedule != nil {
		return r.schedule.Next(now)
	}
	if r.Start != nil {
		return *r.Start
	}
	return r.Period.AddTo(now)
}

// Next returns the occurrence following candidate.
func (r Repeat) Next(candidate time.Time) time.Time {
	if r.schedule != nil {
		return r.schedule.Next(candidate)
	}
	return r.Period.AddTo(candidate)
}

// Bounded reports whether r carries an occurrence counter.
func (r Repeat) Bounded() bool { return r.Times >= 0 }

// String formats r back to its expression form.
func (r Repeat) String() string {
	var b strings.Builder
	if r.Bounded() {
		b.WriteString("R")
		b.WriteString(strconv.Itoa(r.Times))
		b.WriteByte('/')
	} else if r.Cron == "" {
		b.WriteString("R/")
	}
	if r.Cron != "" {
		b.WriteString(cronPrefix)
		b.WriteString(r.Cron)
		return b.String()
	}
	if r.Start != nil {
		b.WriteString(FormatDate(*r.Start))
		b.WriteByte('/')
	}
	b.WriteString(r.Period.String())
	if r.End != nil {
		b.WriteByte('/')
		b.WriteString(FormatDate(*r.End))
	}
	return b.String()
}
