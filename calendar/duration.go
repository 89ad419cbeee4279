package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is an ISO-8601 duration such as P1DT2H or PT30S. Calendar
// parts (years, months, days, weeks) are applied with time.AddDate so they
// follow the calendar rather than a fixed number of hours.
type Duration struct {
	Years, Months, Weeks, Days int
	Clock                      time.Duration
}

// ParseDuration parses an ISO-8601 duration. Fractions are accepted on
// the seconds field only.
func ParseDuration(s string) (Duration, error) {
	var d Duration
	if len(s) < 2 || s[0] != 'P' {
		return d, fmt.Errorf("%w: duration %q", ErrInvalidExpression, s)
	}

	inTime := false
	num := ""
	seen, timeSeen := false, false
	for _, r := range s[1:] {
		switch {
		case r >= '0' && r <= '9', r == '.':
			num += string(r)
			continue
		case r == 'T':
			if inTime || num != "" {
				return d, fmt.Errorf("%w: duration %q", ErrInvalidExpression, s)
			}
			inTime = true
			continue
		}
		if num == "" {
			return d, fmt.Errorf("%w: duration %q", ErrInvalidExpression, s)
		}
		if err := d.set(r, num, inTime); err != nil {
			return d, fmt.Errorf("%w: duration %q: %v", ErrInvalidExpression, s, err)
		}
		num = ""
		seen = true
		timeSeen = timeSeen || inTime
	}
	if num != "" || !seen || (inTime && !timeSeen) {
		return d, fmt.Errorf("%w: duration %q", ErrInvalidExpression, s)
	}
	return d, nil
}

func (d *Duration) set(unit rune, num string, inTime bool) error {
	if unit == 'S' && inTime {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return err
		}
		d.Clock += time.Duration(f * float64(time.Second))
		return nil
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return err
	}
	switch {
	case inTime && unit == 'H':
		d.Clock += time.Duration(n) * time.Hour
	case inTime && unit == 'M':
		d.Clock += time.Duration(n) * time.Minute
	case !inTime && unit == 'Y':
		d.Years = n
	case !inTime && unit == 'M':
		d.Months = n
	case !inTime && unit == 'W':
		d.Weeks = n
	case !inTime && unit == 'D':
		d.Days = n
	default:
		return fmt.Errorf("unexpected unit %q", unit)
	}
	return nil
}

// AddTo returns t shifted forward by d.
func (d Duration) AddTo(t time.Time) time.Time {
	return t.AddDate(d.Years, d.Months, d.Weeks*7+d.Days).Add(d.Clock)
}

// IsZero reports whether d moves no time at all.
func (d Duration) IsZero() bool {
	return d.Years == 0 && d.Months == 0 && d.Weeks == 0 && d.Days == 0 && d.Clock == 0
}

// String formats d back to ISO-8601.
func (d Duration) String() string {
	var b strings.Builder
	b.WriteByte('P')
	writePart(&b, d.Years, 'Y')
	writePart(&b, d.Months, 'M')
	writePart(&b, d.Weeks, 'W')
	writePart(&b, d.Days, 'D')
	if d.Clock != 0 {
		b.WriteByte('T')
		rem := d.Clock
		h := rem / time.Hour
		rem -= h * time.Hour
		m := rem / time.Minute
		rem -= m * time.Minute
		writePart(&b, int(h), 'H')
		writePart(&b, int(m), 'M')
		if rem != 0 {
			b.WriteString(strconv.FormatFloat(rem.Seconds(), 'f', -1, 64))
			b.WriteByte('S')
		}
	}
	if b.Len() == 1 {
		return "PT0S"
	}
	return b.String()
}

func writePart(b *strings.Builder, n int, unit byte) {
	if n == 0 {
		return
	}
	b.WriteString(strconv.Itoa(n))
	b.WriteByte(unit)
}

// dateLayouts are tried in order when parsing instants. Layouts without a
// zone are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDate parses an ISO-8601 instant.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidExpression, s)
}

// FormatDate formats t the way repeat expressions store instants.
func FormatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
