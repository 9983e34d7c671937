// Package jdi defines the virtual machine abstraction consumed by the
// debugging core.
//
// The interfaces mirror the shape of a Java Debug Interface binding: a
// Connection yields a VirtualMachine, which exposes threads, loaded
// reference types, a blocking EventQueue and an EventRequestManager used to
// subscribe to breakpoints, exceptions, class preparation and so on.
//
// Nothing in this package talks to a real VM. Wire-level bindings live
// behind these interfaces; the jditest subpackage provides an in-memory
// implementation used by tests and by the demo command.
//
// # Events
//
// Events are delivered as an EventSet: one or more Event values sharing a
// suspend policy. Event is a tagged variant; switch on Event.Kind to decide
// which fields are populated:
//
//	switch ev.Kind {
//	case jdi.EventBreakpoint, jdi.EventStep:
//	    // ev.Thread, ev.Location
//	case jdi.EventClassPrepare:
//	    // ev.Thread, ev.Type
//	case jdi.EventVMDisconnect:
//	    // terminal
//	}
//
// # Errors
//
// Operations against a VM that has gone away return ErrVMDisconnected.
// Callers performing cleanup should treat it as routine.
package jdi
