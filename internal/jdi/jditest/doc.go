// Package jditest provides an in-memory virtual machine implementing the
// jdi interfaces.
//
// Tests drive the VM explicitly: define and load classes, start threads,
// hit lines, throw exceptions. Each action posts an event set to the VM's
// queue only when an enabled request matches, the way a real VM would.
//
//	vm := jditest.NewVM("test")
//	main := vm.AddThread("main")
//	foo := jditest.NewClass("pkg.Foo", jditest.Lines("run", 40, 41, 42))
//	vm.LoadClass(foo)
//	set := vm.HitLine(main, foo, 42)
//
// WaitIdle blocks until the consumer of the queue has finished with every
// posted set, which makes dispatcher-driven assertions deterministic.
package jditest
