// Package script lets breakpoint conditions and monitors be written in
// Lua.
//
// Scripts run in a sandboxed gopher-lua state: only the base, table,
// string and math libraries are open, and code loading functions are
// removed. Every call is bounded by a timeout. A script sees two tables:
//
//	event   kind, thread, class, method, line, exception, caught,
//	        field, type, classname
//	bp      number, kind, hits, description, group
//
// Monitors that ask for the thread also get stack, a list of
// "Class.method:line" strings, top frame first. print writes to the log.
//
// A condition is an expression ("bp.hits > 3 and event.thread == 'main'")
// or a chunk that returns a value; Lua truthiness decides the result.
package script
