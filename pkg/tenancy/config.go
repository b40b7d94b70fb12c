// Package tenancy provides program-scoped context resolution and middleware
// for the testhub server. Every entity in the test engine belongs to exactly
// one transformation program; tenancy keeps each request inside that boundary.
// It supports single-program (backward compatible) and per-request program
// resolution modes.
package tenancy

// Mode controls how the program context is resolved.
type Mode string

const (
	// ModeSingle uses the "default" program for all requests (backward compat).
	ModeSingle Mode = "single"
	// ModeProgram requires a program key per request (multi-program platform).
	ModeProgram Mode = "program"
)
