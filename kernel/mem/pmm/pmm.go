package pmm

import (
	"kfs/kernel"
	"kfs/kernel/kfmt"
	"kfs/kernel/mem"
	"kfs/kernel/multiboot"
)

// GFPFlag controls how AllocPages/GetZeroedPage behave.
type GFPFlag uint8

const (
	// GFPKernel must be set for any allocation request to succeed. Its
	// purpose is to make call sites self-documenting and to leave room for a
	// future GFPUser-style flag without changing the AllocPages signature.
	GFPKernel GFPFlag = 1 << 0

	// GFPZero requests that the returned frames be zero-filled before
	// AllocPages returns.
	GFPZero GFPFlag = 1 << 1
)

const bitsPerWord = 32

var (
	errNoMemoryMap = &kernel.Error{Module: "pmm", Message: "bootloader did not provide a memory map"}
	errFreeFrame0  = &kernel.Error{Module: "pmm", Message: "attempted to free the reserved zero frame"}

	// bitmap holds one bit per representable frame; a set bit means the
	// frame is not currently available for allocation.
	bitmap []uint32

	// memMap holds one Page descriptor per representable frame. memMap[i].PFN
	// is always i.
	memMap []Page

	memTotal     mem.Size
	memAvailable mem.Size
	maxPages     uint32
	usedPages    uint32

	// placeBitmap and placeMemMap overlay the bitmap/memory-map array on top
	// of physical memory. Tests replace them with plain heap allocations so
	// that Init's bookkeeping logic can be exercised without poking raw
	// addresses that are not mapped into the test process.
	placeBitmap = sliceAtUint32
	placeMemMap = sliceAtPage

	// zeroMemory backs the GFPZero path. Tests replace it with a no-op so
	// that synthetic addresses used to drive Init's bookkeeping don't need
	// to be real, writable memory.
	zeroMemory = kernel.Memset

	// panicFn is mocked by tests so that fatal-path assertions don't chain
	// into kfmt.Panic's call to the (assembly-backed) CPU halt primitive.
	panicFn = kfmt.Panic
)

// Init builds the frame bitmap and memory-map array from the Multiboot
// memory map and reserves the kernel image, the bitmap itself, the
// memory-map array and the zero frame. mbootInfoPtr is the physical address
// of the Multiboot info structure; kernelStart/kernelEnd bound the loaded
// kernel image.
func Init(mbootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(mbootInfoPtr)
	if !multiboot.HasMemoryMap() {
		panicFn(errNoMemoryMap)
		return
	}

	memTotal, memAvailable = 0, 0
	multiboot.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		kfmt.PrefixedPrintf("[pmm] ", "region [0x%16x - 0x%16x] size: %12d type: %s\n",
			entry.PhysAddress, entry.PhysAddress+entry.Length, entry.Length, entry.Type.String())

		memTotal += mem.Size(entry.Length)
		if entry.Type == multiboot.MemAvailable {
			memAvailable += mem.Size(entry.Length)
		}
		return true
	})

	maxPages = uint32(memTotal / mem.PageSize)
	usedPages = maxPages

	bitmapWords := (maxPages + bitsPerWord - 1) / bitsPerWord
	bitmapBytes := uintptr(bitmapWords) * 4

	bitmapAddr := alignUp(kernelEnd, uintptr(mem.PageSize))
	mapAddr := alignUp(bitmapAddr+bitmapBytes, 8)

	bitmap = placeBitmap(bitmapAddr, int(bitmapWords))
	memMap = placeMemMap(mapAddr, int(maxPages))

	for i := range bitmap {
		bitmap[i] = 0xFFFFFFFF
	}
	for i := range memMap {
		memMap[i] = Page{PFN: uint32(i), CacheIndex: noCache}
	}

	multiboot.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		if entry.Type != multiboot.MemAvailable {
			return true
		}
		markFree(entry.PhysAddress, entry.PhysAddress+entry.Length)
		return true
	})

	markUsed(uint64(kernelStart), uint64(kernelEnd))
	markUsed(uint64(bitmapAddr), uint64(bitmapAddr)+uint64(bitmapBytes))
	markUsed(uint64(mapAddr), uint64(mapAddr)+uint64(maxPages)*uint64(pageDescSize))

	markUsed(0, uint64(mem.PageSize))
	memMap[0].Flags |= PageReserved

	kfmt.PrefixedPrintf("[pmm] ", "stats: free: %d/%d pages, available: %dKb, total: %dKb\n",
		maxPages-usedPages, maxPages, uint64(memAvailable/mem.Kb), uint64(memTotal/mem.Kb))
}

// alignUp rounds addr up to the next multiple of align (align must be a
// power of two).
func alignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

func isSet(pfn uint32) bool {
	return bitmap[pfn/bitsPerWord]&(1<<(pfn%bitsPerWord)) != 0
}

func setBit(pfn uint32) {
	bitmap[pfn/bitsPerWord] |= 1 << (pfn % bitsPerWord)
}

func clearBit(pfn uint32) {
	bitmap[pfn/bitsPerWord] &^= 1 << (pfn % bitsPerWord)
}

// markUsed sets every bit covering [from, to) that is not already set and
// adjusts usedPages accordingly.
func markUsed(from, to uint64) {
	startPFN := uint32(from / uint64(mem.PageSize))
	endPFN := uint32((to + uint64(mem.PageSize) - 1) / uint64(mem.PageSize))
	for pfn := startPFN; pfn < endPFN && pfn < maxPages; pfn++ {
		if !isSet(pfn) {
			setBit(pfn)
			usedPages++
		}
	}
}

// markFree clears every bit covering [from, to) that is currently set and
// adjusts usedPages accordingly. The region is conservatively rounded
// inwards so that partially-covered boundary frames stay reserved.
func markFree(from, to uint64) {
	startPFN := uint32((from + uint64(mem.PageSize) - 1) / uint64(mem.PageSize))
	endPFN := uint32(to / uint64(mem.PageSize))
	for pfn := startPFN; pfn < endPFN && pfn < maxPages; pfn++ {
		if isSet(pfn) {
			clearBit(pfn)
			usedPages--
		}
	}
}

// AllocPages reserves 1<<order consecutive free frames and returns the
// descriptor for the first one, or nil if the request cannot be satisfied.
func AllocPages(mask GFPFlag, order uint32) *Page {
	if mask&GFPKernel == 0 {
		return nil
	}

	n := uint32(1) << order
	if maxPages-usedPages <= n {
		return nil
	}

	pfn, ok := findFreeRun(n)
	if !ok {
		return nil
	}

	for i := uint32(0); i < n; i++ {
		setBit(pfn + i)
	}
	usedPages += n

	page := &memMap[pfn]
	if mask&GFPZero != 0 {
		zeroMemory(page.Addr(), 0, uintptr(n)*uintptr(mem.PageSize))
	}

	return page
}

// findFreeRun locates the first run of n consecutive clear bits.
func findFreeRun(n uint32) (uint32, bool) {
	for wordIdx := range bitmap {
		if bitmap[wordIdx] == 0xFFFFFFFF {
			continue
		}

		for bit := uint32(0); bit < bitsPerWord; bit++ {
			pfn := uint32(wordIdx)*bitsPerWord + bit
			if pfn >= maxPages {
				break
			}
			if isSet(pfn) {
				continue
			}
			if runIsFree(pfn, n) {
				return pfn, true
			}
		}
	}
	return 0, false
}

func runIsFree(pfn, n uint32) bool {
	if pfn+n > maxPages {
		return false
	}
	for i := uint32(0); i < n; i++ {
		if isSet(pfn + i) {
			return false
		}
	}
	return true
}

// GetZeroedPage allocates a single zero-filled page. GFPZero must be set in
// mask.
func GetZeroedPage(mask GFPFlag) *Page {
	if mask&GFPZero == 0 {
		return nil
	}
	return AllocPages(mask, 0)
}

// FreePages releases 1<<order consecutive frames starting at addr. Freeing
// the zero frame is a fatal error.
func FreePages(addr uintptr, order uint32) {
	pfn := uint32(addr >> mem.PageShift)
	if pfn == 0 {
		panicFn(errFreeFrame0)
		return
	}

	n := uint32(1) << order
	for i := uint32(0); i < n; i++ {
		clearBit(pfn + i)
	}
	usedPages -= n
}

// GetPage returns the page descriptor for the frame containing addr.
func GetPage(addr uintptr) *Page {
	return &memMap[addr>>mem.PageShift]
}

// SetPageCacheIndex records that the page containing addr is now backing a
// slab owned by cache index.
func SetPageCacheIndex(addr uintptr, index int8) {
	GetPage(addr).CacheIndex = index
}

// ClearPageCacheIndex marks the page containing addr as no longer backing
// any slab.
func ClearPageCacheIndex(addr uintptr) {
	GetPage(addr).CacheIndex = noCache
}

// Stats returns the current frame accounting, primarily for tests and
// diagnostics tooling.
func Stats() (total, available mem.Size, pagesTotal, pagesUsed uint32) {
	return memTotal, memAvailable, maxPages, usedPages
}
