package jdi

// Connection is an established link to a debuggee VM.
type Connection interface {
	// VM returns the connected virtual machine.
	VM() VirtualMachine

	// IsConnected reports whether the link is still up.
	IsConnected() bool

	// IsRemote reports whether the debuggee was attached to rather than
	// launched. A remote debuggee is not owned by the debugger.
	IsRemote() bool

	// Disconnect releases the link. It is safe to call more than once.
	Disconnect() error
}

// VirtualMachine mirrors a running debuggee.
type VirtualMachine interface {
	Name() string

	// Suspend increments the VM-wide suspend count of every thread.
	Suspend() error

	// Resume decrements the VM-wide suspend count of every thread.
	Resume() error

	AllThreads() ([]ThreadReference, error)

	// ClassesByName returns every loaded type with the given name, one per
	// defining class loader.
	ClassesByName(name string) ([]ReferenceType, error)

	AllClasses() ([]ReferenceType, error)

	EventQueue() EventQueue
	EventRequestManager() EventRequestManager

	// Dispose detaches from the debuggee and leaves it running.
	Dispose() error

	// Exit terminates the debuggee with the given status.
	Exit(code int) error
}

// EventQueue is the debuggee's stream of event sets.
type EventQueue interface {
	// Remove blocks until the next event set is available. It returns
	// ErrVMDisconnected once the queue is closed.
	Remove() (EventSet, error)
}

// EventSet is a group of events reported together by the VM.
type EventSet interface {
	Events() []*Event
	SuspendPolicy() SuspendPolicy

	// Resume resumes the threads suspended by this set.
	Resume() error
}

// ReferenceType is a loaded class or interface.
type ReferenceType interface {
	Name() string

	// ClassLoader identifies the defining loader; 0 is the bootstrap loader.
	ClassLoader() uint64

	IsPrepared() bool

	// SourceName returns the source file name, or ErrAbsentInformation.
	SourceName() (string, error)

	// LocationsOfLine returns the executable locations on a line. It
	// returns ErrAbsentInformation when the type has no line table.
	LocationsOfLine(line int) ([]Location, error)

	MethodsByName(name string) ([]Method, error)

	// FieldByName returns nil when the type declares no such field.
	FieldByName(name string) (Field, error)

	NestedTypes() ([]ReferenceType, error)
}

// Method is a method declared by a reference type.
type Method interface {
	Name() string
	DeclaringType() ReferenceType
	ArgumentTypeNames() []string

	// Location returns the first executable location, or nil for
	// abstract and native methods.
	Location() Location
}

// Field is a field declared by a reference type.
type Field interface {
	Name() string
	DeclaringType() ReferenceType
}

// ThreadReference mirrors a debuggee thread.
type ThreadReference interface {
	ID() uint64
	Name() string
	IsSuspended() bool

	// FrameCount returns ErrIncompatibleThreadState if the thread runs.
	FrameCount() (int, error)

	// Frame returns the frame at index, 0 being the top of the stack.
	Frame(index int) (StackFrame, error)
}

// StackFrame is one activation record of a suspended thread.
type StackFrame interface {
	Thread() ThreadReference
	Location() Location
}

// Location is an executable code position.
type Location interface {
	DeclaringType() ReferenceType
	MethodName() string
	LineNumber() int
	CodeIndex() int64
}

// SameLocation reports whether a and b denote the same code position.
// Two nil locations are the same; nil and non-nil never are.
func SameLocation(a, b Location) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a == b {
		return true
	}
	return a.DeclaringType() == b.DeclaringType() &&
		a.MethodName() == b.MethodName() &&
		a.LineNumber() == b.LineNumber() &&
		a.CodeIndex() == b.CodeIndex()
}
