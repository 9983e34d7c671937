// Package breakpoint implements breakpoints for a Java debuggee: class
// name patterns, the per-kind payloads, resolution of patterns into live
// event requests, hit accounting, conditions and monitors, and the
// registry that owns breakpoints and their group tree.
//
// A breakpoint on a class that is not loaded yet subscribes to
// class-prepare events and resolves once a matching class appears. While
// a debuggee is connected the registry listens on the event dispatcher at
// breakpoint priority, and answers each event its breakpoints requested
// with a resume vote.
package breakpoint
