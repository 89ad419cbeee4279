// Package calendar evaluates timer expressions: ISO-8601 instants,
// durations, repeating intervals and cron cycles.
//
// A repeating timer carries its remaining occurrence count in the repeat
// expression itself. Each call to ResolveNextDueDate returns the next due
// date together with the decremented expression:
//
//	R3/2026-01-01T00:00:00Z/PT1H  fires, next is  R2/2026-01-01T01:00:00Z/PT1H
//	R1/2026-01-01T02:00:00Z/PT1H  fires, next is  rejected (ErrRejected)
//
// so a timer declared R3 fires exactly three times. Cron cycles use the
// robfig/cron parser and may be bounded the same way: R5/cron:0 9 * * 1-5.
package calendar
