package calendar

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrInvalidExpression is returned for malformed dates, durations and
	// repeat expressions.
	ErrInvalidExpression = errors.New("calendar: invalid expression")

	// ErrRejected is returned by ResolveNextDueDate when the repeat chain
	// has no further occurrence: its counter is exhausted or the next date
	// lies past the end date.
	ErrRejected = errors.New("calendar: next due date rejected")
)

// TimerDefinition is the timer declared on a process element. Exactly one
// of Date, Duration and Cycle is expected; EndDate optionally bounds a
// cycle. Each field may reference a variable as ${name}.
type TimerDefinition struct {
	Date     string `json:"date,omitempty"`
	Duration string `json:"duration,omitempty"`
	Cycle    string `json:"cycle,omitempty"`
	EndDate  string `json:"end_date,omitempty"`
}

// Timer is a resolved TimerDefinition ready to be stored on a timer row.
type Timer struct {
	DueDate       time.Time
	Repeat        string
	EndDate       *time.Time
	MaxIterations int
}

// Calendar evaluates timer expressions.
type Calendar interface {
	// ResolveDueDate resolves a date, duration or repeat expression to its
	// first due date.
	ResolveDueDate(expr string, now time.Time) (time.Time, error)

	// ResolveEndDate resolves an end-date expression (date or duration).
	ResolveEndDate(expr string, now time.Time) (time.Time, error)

	// ResolveTimer resolves a full definition.
	ResolveTimer(def TimerDefinition, now time.Time) (Timer, error)

	// ResolveNextDueDate returns the occurrence after candidate and the
	// repeat expression the next timer row carries. It returns ErrRejected
	// when the chain ends.
	ResolveNextDueDate(repeat string, maxIterations int, endDate *time.Time, candidate time.Time) (time.Time, string, error)

	// ValidateDueDate reports whether a timer due at due may still fire.
	ValidateDueDate(repeat string, maxIterations int, endDate *time.Time, due time.Time) bool
}

// Standard is the default Calendar. It is stateless apart from the shared
// cron schedule cache and safe for concurrent use.
type Standard struct{}

// New returns the default calendar.
func New() *Standard { return &Standard{} }

var _ Calendar = (*Standard)(nil)

// ResolveDueDate implements Calendar.
func (*Standard) ResolveDueDate(expr string, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "":
		return time.Time{}, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	case IsRepeat(expr):
		r, err := ParseRepeat(expr)
		if err != nil {
			return time.Time{}, err
		}
		return r.First(now).UTC(), nil
	case strings.HasPrefix(expr, "P"):
		d, err := ParseDuration(expr)
		if err != nil {
			return time.Time{}, err
		}
		return d.AddTo(now).UTC(), nil
	}
	return ParseDate(expr)
}

// ResolveEndDate implements Calendar.
func (c *Standard) ResolveEndDate(expr string, now time.Time) (time.Time, error) {
	if IsRepeat(strings.TrimSpace(expr)) {
		return time.Time{}, fmt.Errorf("%w: end date %q is a repeat", ErrInvalidExpression, expr)
	}
	return c.ResolveDueDate(expr, now)
}

// ResolveTimer implements Calendar.
func (c *Standard) ResolveTimer(def TimerDefinition, now time.Time) (Timer, error) {
	var t Timer
	var err error

	switch {
	case def.Cycle != "":
		r, perr := ParseRepeat(strings.TrimSpace(def.Cycle))
		if perr != nil {
			return t, perr
		}
		t.DueDate = r.First(now).UTC()
		t.Repeat = r.String()
		if r.Bounded() {
			t.MaxIterations = r.Times
		}
		if r.End != nil {
			t.EndDate = r.End
		}
	case def.Date != "":
		t.DueDate, err = c.ResolveDueDate(def.Date, now)
	case def.Duration != "":
		if !strings.HasPrefix(strings.TrimSpace(def.Duration), "P") {
			return t, fmt.Errorf("%w: duration %q", ErrInvalidExpression, def.Duration)
		}
		t.DueDate, err = c.ResolveDueDate(def.Duration, now)
	default:
		return t, fmt.Errorf("%w: timer definition has no date, duration or cycle", ErrInvalidExpression)
	}
	if err != nil {
		return t, err
	}

	if def.EndDate != "" {
		end, err := c.ResolveEndDate(def.EndDate, now)
		if err != nil {
			return t, err
		}
		t.EndDate = &end
	}
	if t.EndDate != nil && t.DueDate.After(*t.EndDate) {
		return t, fmt.Errorf("%w: due date %s is after end date %s",
			ErrInvalidExpression, FormatDate(t.DueDate), FormatDate(*t.EndDate))
	}
	return t, nil
}

// ResolveNextDueDate implements Calendar.
func (c *Standard) ResolveNextDueDate(repeat string, maxIterations int, endDate *time.Time, candidate time.Time) (time.Time, string, error) {
	r, err := ParseRepeat(repeat)
	if err != nil {
		return time.Time{}, "", err
	}
	if r.Bounded() && r.Times <= 1 {
		return time.Time{}, "", ErrRejected
	}

	next := r.Next(candidate).UTC()
	if !c.ValidateDueDate(repeat, maxIterations, endDate, next) {
		return time.Time{}, "", ErrRejected
	}

	if r.Bounded() {
		r.Times--
	}
	if r.Cron == "" {
		r.Start = &next
	}
	return next, r.String(), nil
}

// ValidateDueDate implements Calendar.
func (*Standard) ValidateDueDate(repeat string, maxIterations int, endDate *time.Time, due time.Time) bool {
	if endDate != nil && due.After(*endDate) {
		return false
	}
	if repeat == "" {
		return true
	}
	r, err := ParseRepeat(repeat)
	if err != nil {
		return false
	}
	if r.End != nil && due.After(*r.End) {
		return false
	}
	if r.Bounded() && (r.Times == 0 || (maxIterations > 0 && r.Times > maxIterations)) {
		return false
	}
	return true
}

var variableRef = regexp.MustCompile(`\$\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}`)

// Expand replaces ${name} references in expr with values from lookup.
// time.Time values are formatted as ISO-8601 instants. An unresolved
// reference is an error.
func Expand(expr string, lookup func(name string) (any, bool)) (string, error) {
	var missing []string
	out := variableRef.ReplaceAllStringFunc(expr, func(ref string) string {
		name := variableRef.FindStringSubmatch(ref)[1]
		v, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
			return ref
		}
		switch val := v.(type) {
		case time.Time:
			return FormatDate(val)
		case *time.Time:
			if val == nil {
				missing = append(missing, name)
				return ref
			}
			return FormatDate(*val)
		case fmt.Stringer:
			return val.String()
		default:
			return fmt.Sprint(val)
		}
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: unresolved variables %s", ErrInvalidExpression, strings.Join(missing, ", "))
	}
	return out, nil
}
