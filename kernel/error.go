// Package kernel holds types and helpers shared by every kernel subsystem:
// the error type used throughout the core (since the heap allocator cannot
// be assumed available when an error needs to be constructed), and the
// panic path that halts the machine.
package kernel

// Error describes a kernel-level error. Kernel errors are defined as
// package-level *Error values rather than created with errors.New so that
// low-level code (allocators, the VM walker) can report failures before
// the heap allocator they would otherwise need is itself available.
type Error struct {
	// Module is the subsystem that raised the error (e.g. "buddy", "vmm").
	Module string
	// Message is a short, human-readable description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Module + ": " + e.Message
}

// haltFn is called once Panic has finished printing. It is a variable
// (rather than a direct call) so tests can observe a panic without
// actually parking the hart.
var haltFn = func() {}

// SetHaltFn installs the function Panic calls after printing a fatal
// error. The boot path installs riscv.Halt; tests install a no-op or a
// function that records that it was called.
func SetHaltFn(fn func()) {
	haltFn = fn
}

// printFn is the console output hook Panic writes through. Left nil
// until the boot path installs console.Printf, so a panic before the
// console exists still halts instead of dereferencing a nil func.
var printFn func(format string, args ...interface{})

// SetPrintFn installs the formatter Panic uses to report what happened.
func SetPrintFn(fn func(format string, args ...interface{})) {
	printFn = fn
}

// Panic reports e and halts the hart. It accepts a *Error, a plain error,
// or a string so call sites don't need to wrap every ad hoc failure in an
// *Error just to reach Panic.
func Panic(e interface{}) {
	if printFn != nil {
		switch v := e.(type) {
		case *Error:
			printFn("panic: [%s] %s\n", v.Module, v.Message)
		case error:
			printFn("panic: %s\n", v.Error())
		case string:
			printFn("panic: %s\n", v)
		default:
			printFn("panic: unknown error value\n")
		}
	}
	haltFn()
}
