// Package store persists one trace record per bridge request.
//
// A trace captures what happened to a request after the stream closed:
// terminal state, error code, worker exit code, relayed event count, and
// duration. Traces are append-only and queried newest-first for the
// read-only traces API. SQLite (modernc.org/sqlite) is the only
// implementation; the schema is created automatically.
package store
