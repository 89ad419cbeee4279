// Package relayhook relays executor lifecycle events to external
// subscribers. When registered as an extension it publishes a typed event
// (asyncexec.job.executed, asyncexec.job.dead_lettered, etc.) at every
// lifecycle point through a [Publisher].
//
// [RedisStream] publishes to a Redis stream with XADD, so any number of
// consumer groups can follow job progress:
//
//	pub := relayhook.NewRedisStream(client, "asyncexec:events")
//	hook := relayhook.New(pub)
//	engine.WithExtension(hook)
//
// To restrict which events are emitted:
//
//	hook := relayhook.New(pub,
//	    relayhook.WithEvents(
//	        relayhook.EventJobExecuted,
//	        relayhook.EventJobDeadLettered,
//	    ),
//	)
package relayhook
