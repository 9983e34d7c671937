// Package session models a debugging session: one connection to a
// debuggee at a time, the dispatcher draining its events, the breakpoints
// and current context bound to it, and the session-level events listeners
// observe.
//
// A Manager owns a set of sessions, tracks which one is current, and saves
// and restores them through a persist.Store.
package session
