// Fatal-path handling for pmm and slab: both call this instead of returning
// an error once a condition makes further progress impossible (a missing
// memory map, freeing the zero frame, slab pool exhaustion, an unowned
// object passed to Kfree).
package kfmt

import (
	"kfs/kernel"
	"kfs/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// asKernelError normalizes whatever was passed to Panic into a *kernel.Error,
// reusing errRuntimePanic as scratch storage for a plain Go error. Any other
// value (including nil) yields a nil *kernel.Error. For a string it returns
// isString == true, and Panic re-enters through panicString instead.
func asKernelError(e interface{}) (err *kernel.Error, isString bool) {
	switch t := e.(type) {
	case *kernel.Error:
		return t, false
	case string:
		return nil, true
	case error:
		errRuntimePanic.Message = t.Error()
		return errRuntimePanic, false
	default:
		return nil, false
	}
}

// Panic prints the supplied error (if any) to the current output sink and
// halts the CPU; it never returns. It also serves as the redirection target
// for calls to the builtin panic() (resolved via runtime.gopanic).
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	err, isString := asKernelError(e)
	if isString {
		panicString(e.(string))
		return
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***\n-----------------------------------\n")

	cpuHaltFn()
}

// panicString is the redirect target for runtime.throw, which always hands
// Panic a plain string rather than a *kernel.Error.
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
