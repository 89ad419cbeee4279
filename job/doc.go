// Package job defines the job entity, its four collections, the unit of
// work used to change them, and the handler registry.
//
// # Collections
//
// A [Job] lives in exactly one collection, named by its [Kind]:
//
//	timer ──due──▶ executable ──success──▶ (deleted)
//	  ▲                │
//	  └──retry─────────┤
//	                   └──retries exhausted──▶ deadletter ──requeue──▶ executable
//	executable/timer ◀──activate── suspended ◀──suspend── executable/timer
//
// Moving between collections is always an insert of the converted row
// ([ToExecutable], [ToTimer], [ToSuspended], [ToDeadLetter]) plus a
// revision-checked delete of the source, inside one [Tx].
//
// # Optimistic locking
//
// Every row carries a Revision. [Tx.UpdateJob] and [Tx.DeleteJob] fail with
// asyncexec.ErrOptimisticLock when the stored revision moved on, which is
// how competing nodes detect that they lost a race.
//
// # Handlers
//
// [Registry] maps handler types to [Handler] funcs. [Definition] adds a
// typed wrapper that JSON decodes the handler configuration:
//
//	job.RegisterDefinition(reg, job.NewDefinition("send-mail",
//	    func(ctx context.Context, tx job.Tx, j *job.Job, cfg MailConfig) error {
//	        return mailer.Send(cfg.To, cfg.Subject)
//	    },
//	))
package job
