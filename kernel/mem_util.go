// Package-level byte-range primitives used directly on physical addresses,
// before any allocator exists to hand out a []byte backed by real Go memory.
// pmm's AllocPages(..., GFPZero) and slab's freeSlab scrub step both bottom
// out here (as kernel.Memset, aliased to zeroMemory/zeroRange in those
// packages so tests can swap in a no-op).
package kernel

import (
	"reflect"
	"unsafe"
)

// rawBytes overlays a Go []byte of the given length directly on top of the
// memory starting at addr, with no bounds checking beyond what the caller
// already guarantees (pmm/slab only ever call this on frames they own).
func rawBytes(addr, size uintptr) []byte {
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  int(size),
		Cap:  int(size),
	}))
}

// Memset fills size bytes at addr with value. Rather than looping byte by
// byte, it seeds the first byte and then doubles the filled span with each
// copy, so a PageSize-aligned fill only costs log2(size) copy calls.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	dst := rawBytes(addr, size)
	dst[0] = value
	for filled := uintptr(1); filled < size; filled *= 2 {
		copy(dst[filled:], dst[:filled])
	}
}

// Memcopy copies size bytes from src to dst. The two ranges must not
// overlap; callers that need overlap-safe semantics should not use this.
func Memcopy(src, dst uintptr, size uintptr) {
	if size == 0 {
		return
	}

	copy(rawBytes(dst, size), rawBytes(src, size))
}
