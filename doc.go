// Package asyncexec provides the asynchronous job execution core of a
// process engine: timer and async-continuation acquisition from a shared
// store, a bounded worker pool, exclusive per-instance locking, retries and
// dead-lettering, across many nodes competing for the same rows.
//
// asyncexec is a library. Pick a store, register job handlers by handler
// type, and start an engine:
//
//	s := memory.New()
//	eng, err := engine.New(asyncexec.DefaultConfig(), s)
//	eng.Registry().Register("send-mail", sendMail)
//	eng.Start(ctx)
//	defer eng.Shutdown(ctx)
//
// # Architecture
//
// A logical job lives in exactly one of four collections: executable,
// timer, suspended and dead-letter. Moving between them is always an insert
// into the target plus a revision-checked delete from the source inside one
// [job.Tx]. Nodes coordinate only through those revision checks; losing a
// race surfaces as [ErrOptimisticLock] and is never treated as a failure.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package asyncexec
