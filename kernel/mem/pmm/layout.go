package pmm

import (
	"reflect"
	"unsafe"
)

// pageDescSize is the in-memory size of a single Page descriptor, including
// whatever padding the compiler inserts.
const pageDescSize = unsafe.Sizeof(Page{})

// sliceAtUint32 overlays a []uint32 of the given length on top of the memory
// starting at addr. Used to place the frame bitmap directly in physical
// memory rather than inside the Go heap, which does not exist yet when Init
// runs.
func sliceAtUint32(addr uintptr, words int) []uint32 {
	return *(*[]uint32)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  words,
		Cap:  words,
	}))
}

// sliceAtPage overlays a []Page of the given length on top of the memory
// starting at addr, for the same reason as sliceAtUint32.
func sliceAtPage(addr uintptr, pages int) []Page {
	return *(*[]Page)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  pages,
		Cap:  pages,
	}))
}
