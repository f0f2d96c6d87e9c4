// Package timeouts defines shared timeout constants used across packages.
// Centralizing these values prevents drift between the library defaults and
// the CLI defaults.
package timeouts

import "time"

// WatchTrace caps how long a trace watch blocks before reporting a timeout.
const WatchTrace = 30 * time.Second

// WatchBackoff is the default interval between trace resolution polls.
const WatchBackoff = 250 * time.Millisecond

// SQLiteBusy is how long a SQLite connection waits on a locked database
// before failing the statement.
const SQLiteBusy = 5 * time.Second

// FinishSegment bounds the write that resolves a segment after its handler
// returned, which runs detached from the handler's context.
const FinishSegment = 5 * time.Second

// Shutdown limits how long telemetry flushing may take on exit.
const Shutdown = 5 * time.Second

// Command caps a single CLI invocation.
const Command = time.Minute
