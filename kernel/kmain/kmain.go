// Package kmain wires together the kernel's boot-time initialization
// sequence: the physical memory manager and the slab object allocator built
// on top of it.
package kmain

import (
	"kfs/kernel"
	"kfs/kernel/kfmt"
	"kfs/kernel/mem/pmm"
	"kfs/kernel/slab"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the kernel entrypoint, invoked by the rt0 assembly stub after it
// has set up a minimal stack. It is passed the physical address of the
// bootloader-supplied multiboot info payload, along with the physical
// address range occupied by the loaded kernel image.
//
// Kmain is not expected to return.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	pmm.Init(multibootInfoPtr, kernelStart, kernelEnd)
	slab.Init()

	kfmt.PrefixedPrintf("[kmain] ", "initialization complete\n")

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}
