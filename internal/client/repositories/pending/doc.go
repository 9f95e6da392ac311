// Package pending is the durable store of the PendingOperation queue.
//
// # Overview
//
// Every mutation that could not be applied remotely is written here before
// the caller sees its optimistic result, so it survives a process restart.
// Entries are keyed by a locally unique queue-entry id and ordered by an
// autoincrement sequence; the sequence is the replay order.
//
// # Statuses
//
// Only "pending" entries are replayed. An entry the remote store refused is
// marked "rejected"; one that ran out of retry attempts is marked
// "exhausted". Neither is deleted automatically: they stay visible until the
// user discards them or requeues them with ResetExhausted.
//
// Key Types
//
//   - type Repository        - interface used by the sync coordinator
//   - type SQLiteRepository  - SQLite implementation over dbx.DBTX
//
// Typical Usage
//
//	repo := pending.NewSQLiteRepository(db)
//	_ = repo.Enqueue(ctx, &op)
//	ops, _ := repo.ListReplayable(ctx)
//	_ = repo.Delete(ctx, op.EntryID)
package pending
