// Package rowlockipc implements an inter-process row- and table-lock
// registry for an embedded relational database engine: a set of
// mmap-backed hash tables, one per database file, that unrelated
// processes attaching the same database coordinate through instead of
// through in-process synchronization primitives.
//
// A [Handle] is a single process's view of one database's lock state.
// Construct one with [Init] and release it with [Handle.Finish]. Row
// locks are acquired and released with [Handle.LockRecord] and
// [Handle.UnlockRecord]; table locks with [Handle.LockTable],
// [Handle.QueryTableLock], and [Handle.UnlockTable].
//
// If a process holding locks dies mid-operation, the next Handle to
// acquire the affected mutex notices the abandoned critical section and
// sweeps the dead owner's locks automatically before proceeding. A
// process that dies between operations, holding locks but not
// mid-write, is not detected this way: its locks survive until something
// else removes them. [SweepRecordsForProcess] and [SweepTablesForProcess]
// perform that removal, for use by an external process-liveness sweeper;
// this package does not decide for itself when a live-looking process is
// actually dead.
package rowlockipc
