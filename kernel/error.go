// Package kernel holds the handful of types every other kernel package
// depends on: the Error type that pmm and slab hand to their panic sink on
// the fatal path, and the Memset/Memcopy primitives used before any
// allocator exists.
package kernel

// Error is the value pmm and slab pass to kfmt.Panic on a fatal condition,
// used instead of a stdlib error. Every kernel error is a package-level *Error variable rather
// than a value built with errors.New, because errors.New would need the Go
// allocator, which is not available at the point most of these sentinels
// are declared.
type Error struct {
	// Module names the subsystem that raised the error (e.g. "pmm").
	Module string

	// Message describes what went wrong.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// FromModule reports whether e originated in the named subsystem. It exists
// so callers checking provenance (tests asserting a panic came from "pmm"
// and not "slab", for instance) don't need to reach into the struct fields
// directly.
func (e *Error) FromModule(module string) bool {
	return e != nil && e.Module == module
}
