// Package postgres implements the job store on PostgreSQL using pgx/v5 with
// raw SQL and embedded migrations.
//
// Each job kind has its own table with an identical layout. Updates and
// deletes carry the row revision in their WHERE clause, so a write that
// lost a race affects zero rows and surfaces as
// asyncexec.ErrOptimisticLock. Inserts use ON CONFLICT DO NOTHING so a
// duplicate does not abort the surrounding transaction.
//
// Transactions run at READ COMMITTED. Serialization failures and
// deadlocks reported by the server are mapped to
// asyncexec.ErrOptimisticLock as well.
package postgres
