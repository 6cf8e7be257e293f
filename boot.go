package main

import "kfs/kernel/kmain"

// multibootInfoPtr, kernelStart and kernelEnd are overwritten by the rt0
// assembly stub before main runs: multibootInfoPtr receives the bootloader's
// info pointer, kernelStart/kernelEnd receive the physical address range of
// the loaded kernel image as provided by the linker script.
var (
	multibootInfoPtr       uintptr
	kernelStart, kernelEnd uintptr
)

// main hands off to the kernel entrypoint. Referencing the three linker-
// populated globals here (rather than passing literal zeros) keeps the
// compiler from concluding that kmain.Kmain is unreachable and stripping it
// from the generated object file.
//
// main is invoked by the rt0 assembly code after it sets up the GDT and a
// minimal g0 struct that lets Go code run on the 4K stack the assembly code
// allocated. It is not expected to return; if it does, the rt0 code halts
// the CPU.
func main() {
	kmain.Kmain(multibootInfoPtr, kernelStart, kernelEnd)
}
