// Package acquire runs the three background loops of the executor:
//
//   - TimerAcquirer locks due timers and moves them to the executable
//     collection.
//   - AsyncAcquirer locks due executable jobs and submits them to the
//     dispatcher.
//   - ExpiredResetter clears locks that expired without the job
//     finishing, so a crashed node's work becomes acquirable again.
//
// Each loop runs one cycle, sleeps the wait the cycle returned and
// repeats until Stop is called or its context ends. Stop is observed at
// the top of a cycle and during the sleep, never in the middle of a
// cycle. A failing cycle is logged and followed by the default wait; the
// loop itself keeps running.
//
// Losing a race for a row to another node is expected and logged at
// debug level.
package acquire
