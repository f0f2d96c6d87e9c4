// Package trace tracks one externally initiated request across the bounded
// contexts expected to react to it.
//
// A trace starts pending with a fixed set of expected contexts. Each context
// reports success or failure once; the trace resolves when every expected
// context has reported, to success only if all of them succeeded. Reports
// from contexts outside the expected set are kept for diagnosis and never
// affect the outcome. A trace resolves exactly once.
package trace
