// Package dispatch drains a debuggee's event queue and routes each event
// through an ordered chain of listeners.
//
// One Dispatcher exists per live connection. It owns a single goroutine
// that blocks on jdi.EventQueue.Remove, so every listener, and everything
// a listener triggers (breakpoint resolution, conditions, monitors), runs
// on that goroutine and never races the next event of the same session.
//
// # Listener order
//
// Listeners are grouped by Priority and, inside a priority, called in
// registration order:
//
//	PriorityStepper -> PriorityBreakpoint -> PrioritySession -> PriorityNormal
//
// A listener returns resume=false to keep the debuggee suspended; the
// chain stops at the first such listener. The votes of every event in a
// set are AND-ed: if all say resume, the set is resumed, otherwise the
// suspend handler receives the first event that stopped.
//
// # Failure isolation
//
// A listener that returns an error or panics is reported and skipped; the
// remaining listeners still run. A listener that returns
// jdi.ErrVMDisconnected ends the chain for that event without being
// reported, since the debuggee is going away anyway.
//
// # Termination
//
// A VM disconnect event, or the queue reporting it is closed, stops the
// goroutine. The disconnect handler runs exactly once, after which Done
// is closed. Nothing else can stop the goroutine: there is no cancellation
// of a blocked queue read, so callers close the connection instead.
//
// # Usage
//
//	d := dispatch.New(vm.EventQueue(),
//	    dispatch.WithSuspendHandler(session.suspended),
//	    dispatch.WithDisconnectHandler(session.disconnected),
//	)
//	d.Register(registry, dispatch.PriorityBreakpoint)
//	if err := d.Start(); err != nil {
//	    return err
//	}
package dispatch
