// Package sqlite implements the event log, trace store and segment store on
// a single SQLite database file.
//
// Writers serialize on BEGIN IMMEDIATE transactions. Conditional writes rely
// on primary keys and on UPDATE statements guarded by resolution = 'pending',
// so no row leaves the pending state twice.
package sqlite
