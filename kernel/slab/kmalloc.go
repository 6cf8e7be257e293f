package slab

import (
	"kfs/kernel/kfmt"
	"kfs/kernel/mem"
	"kfs/kernel/mem/pmm"
)

// sizeClasses lists the nominal object sizes served by kmalloc, smallest
// first. Each entry gets its own Cache, named "kmalloc-<size>" (with
// "kmalloc-1k" and "kmalloc-2k" for the two largest).
var sizeClasses = [...]uint32{8, 16, 32, 64, 128, 256, 512, 1024, 2048}

var (
	caches [len(sizeClasses)]Cache

	// slabPool is the fixed array of slab descriptors shared by every
	// cache. A descriptor is either free (available to be claimed by any
	// cache) or owned by exactly one cache's list/freelist.
	slabPool []slab

	// poolCursor is the process-wide, monotonically increasing search
	// position into slabPool used when no cache has a spare slab to reclaim.
	poolCursor int
)

// Init allocates the slab descriptor pool and its backing pages, then
// creates the nine kmalloc size-class caches. It panics if the physical
// memory manager cannot supply the required pages.
func Init() {
	poolPage := pmm.AllocPages(pmm.GFPKernel, 0)
	if poolPage == nil {
		panicFn(errSlabPoolOOM)
		return
	}

	poolSize := int(mem.PageSize) / int(slabDescSize)
	slabPool = placeSlabPool(poolPage.Addr(), poolSize)
	poolCursor = 0

	for i := range slabPool {
		page := pmm.GetZeroedPage(pmm.GFPKernel | pmm.GFPZero)
		if page == nil {
			panicFn(errSlabPoolOOM)
			return
		}

		slabPool[i] = slab{sMem: page.Addr(), isFree: true}
	}

	names := [len(sizeClasses)]string{
		"kmalloc-8", "kmalloc-16", "kmalloc-32", "kmalloc-64", "kmalloc-128",
		"kmalloc-256", "kmalloc-512", "kmalloc-1k", "kmalloc-2k",
	}
	for i, size := range sizeClasses {
		caches[i].create(names[i], size, 0)
	}

	kfmt.PrefixedPrintf("[slab] ", "stats: caches ready: %d, pool slabs: %d\n", len(caches), len(slabPool))
}

// claimPoolSlab advances poolCursor until it finds a free descriptor in
// slabPool, claims it and returns it, or returns nil if none remain.
func claimPoolSlab() *slab {
	for poolCursor < len(slabPool) {
		s := &slabPool[poolCursor]
		if s.isFree {
			s.isFree = false
			return s
		}
		poolCursor++
	}
	return nil
}

// cacheIndexForSize returns the index into sizeClasses/caches that serves
// size, or -1 if size exceeds the largest size class.
func cacheIndexForSize(size uint32) int {
	rounded := mem.RoundUpPow2(size)
	if rounded < 8 {
		rounded = 8
	}

	for i, class := range sizeClasses {
		if rounded == class {
			return i
		}
	}
	return -1
}

// Kmalloc returns a pointer to a newly allocated object of at least size
// bytes, or 0 if size exceeds the largest size class (2048 bytes) or flags
// does not include pmm.GFPKernel.
func Kmalloc(size uint32, flags pmm.GFPFlag) uintptr {
	if size > 2048 {
		return 0
	}
	if flags&pmm.GFPKernel == 0 {
		return 0
	}

	index := cacheIndexForSize(size)
	if index < 0 {
		return 0
	}

	return caches[index].Alloc(flags)
}

// Kfree returns obj, previously returned by Kmalloc, to its owning cache.
// It panics if obj does not belong to any live cache.
func Kfree(obj uintptr) {
	page := pmm.GetPage(obj)
	if page.CacheIndex < 0 {
		panicFn(errObjNotFound)
		return
	}

	caches[page.CacheIndex].Free(obj)
}
