// Package dlq provides inspection, requeue and purging of dead-letter
// jobs: jobs whose retry budget ran out.
//
// Dead-letter rows keep the job ID, handler configuration, execution
// references and the last exception, so an operator can see why a job
// gave up before deciding what to do with it.
//
// # Service
//
//	svc := dlq.NewService(store, eng.Manager())
//
//	jobs, _ := svc.List(ctx, dlq.ListOpts{Limit: 50})
//	n, _ := svc.Count(ctx, dlq.ListOpts{ProcessInstanceID: "pi-1"})
//
// # Requeue
//
// Requeue moves a dead-letter job back to the executable collection under
// the same ID with a fresh retry budget. The acquisition loops pick it up
// on their next pass.
//
// # Purge
//
// Purge deletes dead-letter jobs created before a cutoff, one page per
// transaction.
package dlq
