// Package slab implements a fixed-size object allocator on top of the
// physical memory manager (kfs/kernel/mem/pmm). A small, static set of
// caches — one per power-of-two size class — each carve the pages they are
// given into equal-sized objects and hand them out through an intrusive
// per-slab free list.
package slab

import (
	"kfs/kernel"
	"kfs/kernel/kfmt"
	"kfs/kernel/mem"
	"kfs/kernel/mem/pmm"
	"reflect"
	"unsafe"
)

const nameLen = 16

// slabDescSize is the in-memory size of a single slab descriptor.
const slabDescSize = unsafe.Sizeof(slab{})

var (
	errSlabPoolOOM  = &kernel.Error{Module: "slab", Message: "no slab descriptors or backing pages available"}
	errObjNotFound  = &kernel.Error{Module: "slab", Message: "object does not belong to any slab in this cache"}
	panicFn         = kfmt.Panic

	// writeNext/readNext manipulate the intrusive free-list next-pointer
	// stored in the first machine word of a free object slot. Tests replace
	// them with a map-backed simulation so free-list threading can be
	// exercised without writing through synthetic, non-dereferenceable
	// addresses.
	writeNext = func(addr, next uintptr) { *(*uintptr)(unsafe.Pointer(addr)) = next }
	readNext  = func(addr uintptr) uintptr { return *(*uintptr)(unsafe.Pointer(addr)) }

	// zeroRange backs the "scrub a drained slab" step in freeSlab. Tests
	// replace it with a no-op for the same reason.
	zeroRange = kernel.Memset

	// placeSlabPool overlays the array of slab descriptors on top of
	// physical memory. Tests replace it with a plain heap allocation.
	placeSlabPool = sliceAtSlab
)

// slab describes a single page carved into fixed-size objects for one
// cache. Descriptors live in a pool allocated once at Init and are recycled
// across caches as they are claimed and released.
type slab struct {
	next, prev *slab
	sMem       uintptr
	freeList   uintptr // head of the intrusive free list, 0 = empty/unthreaded
	inuse      uint32
	isFree     bool
}

// slabList is an intrusive doubly-linked list of slabs, threaded through
// slab.next/slab.prev. nextFree always points at the slab most recently
// touched by an alloc or a claim, matching the reference allocator's
// "most recently used" probing order.
type slabList struct {
	head, nextFree *slab
	size           int
}

// pushBack appends s after the current nextFree (or starts the list if
// empty) and makes it the new nextFree.
func (l *slabList) pushBack(s *slab) {
	if l.head == nil {
		l.head, l.nextFree = s, s
		s.prev, s.next = nil, nil
	} else {
		s.prev = l.nextFree
		s.next = nil
		l.nextFree.next = s
		l.nextFree = s
	}
	l.size++
}

// remove unlinks s from the list. s must belong to l.
func (l *slabList) remove(s *slab) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		l.head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	}
	if l.nextFree == s {
		l.nextFree = s.prev
	}
	s.next, s.prev = nil, nil
	l.size--
}

// Cache is a pool of slabs serving objects of one fixed, power-of-two size.
type Cache struct {
	list, freelist slabList
	gfporder       uint32
	objsize        uint32
	objnum         uint32
	flags          uint8
	name           [nameLen]byte
}

// create initializes a Cache for the given nominal object size, rounded up
// to the next power of two.
func (c *Cache) create(name string, size uint32, flags uint8) {
	c.list = slabList{}
	c.freelist = slabList{}
	c.objsize = mem.RoundUpPow2(size)
	c.gfporder = mem.Log2Ceil(c.objsize)
	c.objnum = uint32(mem.PageSize) >> c.gfporder
	c.flags = flags

	n := copy(c.name[:nameLen-1], name)
	c.name[n] = 0
}

// Name returns the cache's display name.
func (c *Cache) Name() string {
	n := 0
	for n < nameLen && c.name[n] != 0 {
		n++
	}
	return string(c.name[:n])
}

// ObjSize returns the size, in bytes, of objects served by this cache.
func (c *Cache) ObjSize() uint32 { return c.objsize }

// threadFreeList lays out an intrusive free list across every object slot of
// a freshly claimed slab, in ascending address order.
func (c *Cache) threadFreeList(s *slab) {
	for i := uint32(0); i < c.objnum; i++ {
		slot := s.sMem + uintptr(i)*uintptr(c.objsize)
		var next uintptr
		if i+1 < c.objnum {
			next = s.sMem + uintptr(i+1)*uintptr(c.objsize)
		}
		writeNext(slot, next)
	}
	s.freeList = s.sMem
	s.inuse = 0
}

// Alloc returns a free object from this cache, or panics if the slab pool is
// exhausted. The object is not cleared: its first word still holds the
// free-list link it carried while unused.
func (c *Cache) Alloc(flags pmm.GFPFlag) uintptr {
	if c.list.size == 0 {
		c.allocSlab()
	}

	s := c.list.nextFree
	if s.freeList == 0 {
		c.allocSlab()
		s = c.list.nextFree
	}

	ptr := s.freeList
	s.freeList = readNext(ptr)
	s.inuse++

	return ptr
}

// allocSlab attaches a slab to this cache's in-use list, preferring a slab
// already returned to this cache's freelist over claiming a fresh one from
// the global pool.
func (c *Cache) allocSlab() {
	if c.freelist.head != nil {
		s := c.freelist.nextFree
		c.freelist.remove(s)
		// freeSlab zeroed s's backing page when it was drained, which wipes
		// the free-list links stored in the object slots themselves; the
		// chain must be rebuilt before this slab can serve allocations again.
		c.threadFreeList(s)
		c.list.pushBack(s)
		pmm.SetPageCacheIndex(s.sMem, c.index())
		return
	}

	s := claimPoolSlab()
	if s == nil {
		panicFn(errSlabPoolOOM)
		return
	}

	c.threadFreeList(s)
	c.list.pushBack(s)
	pmm.SetPageCacheIndex(s.sMem, c.index())
}

// freeSlab returns obj to s's free list and, if s is now fully drained and
// is not the slab currently being allocated from, returns s to this cache's
// freelist reserve.
func (c *Cache) freeSlab(s *slab, obj uintptr) {
	writeNext(obj, s.freeList)
	s.freeList = obj

	if s.inuse > 0 {
		s.inuse--
	}

	if s.inuse == 0 && c.list.nextFree != s {
		zeroRange(s.sMem, 0, uintptr(c.objnum)*uintptr(c.objsize))
		pmm.ClearPageCacheIndex(s.sMem)
		c.list.remove(s)
		c.freelist.pushBack(s)
	}
}

// Free returns obj, previously returned by Alloc, to its owning slab.
func (c *Cache) Free(obj uintptr) {
	pageAddr := (obj >> mem.PageShift) << mem.PageShift

	s := c.list.nextFree
	for i := c.list.size; i > 0; i-- {
		if s.sMem == pageAddr {
			c.freeSlab(s, obj)
			return
		}
		s = s.prev
	}

	panicFn(errObjNotFound)
}

// index returns this cache's position in the package-level cache table, used
// to populate pmm's Page.CacheIndex reverse map.
func (c *Cache) index() int8 {
	for i := range caches {
		if &caches[i] == c {
			return int8(i)
		}
	}
	return -1
}

// sliceAtSlab overlays a []slab of the given length on top of the memory
// starting at addr, mirroring pmm's layout helpers.
func sliceAtSlab(addr uintptr, n int) []slab {
	return *(*[]slab)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  n,
		Cap:  n,
	}))
}
