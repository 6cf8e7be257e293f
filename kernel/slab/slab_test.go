package slab

import (
	"encoding/binary"
	"kfs/kernel/mem"
	"kfs/kernel/mem/pmm"
	"kfs/kernel/multiboot"
	"testing"
	"unsafe"
)

// simMemory stands in for physical memory during tests: it backs the
// intrusive free-list next-pointers and the "zero a drained slab" step with
// a plain map, so slab bookkeeping can be exercised without dereferencing
// the synthetic page addresses pmm hands out in tests.
type simMemory struct {
	next map[uintptr]uintptr
}

func newSimMemory() *simMemory {
	return &simMemory{next: make(map[uintptr]uintptr)}
}

func (m *simMemory) writeNext(addr, next uintptr) { m.next[addr] = next }
func (m *simMemory) readNext(addr uintptr) uintptr { return m.next[addr] }
func (m *simMemory) zeroRange(addr uintptr, value byte, size uintptr) {
	for a := addr; a < addr+size; a++ {
		delete(m.next, a)
	}
}

// buildMultibootInfo mirrors the helper of the same name in the pmm package.
func buildMultibootInfo(entries [][3]uint64) []byte {
	const infoHeaderLen = 52

	mmap := make([]byte, 0, len(entries)*24)
	for _, e := range entries {
		var rec [24]byte
		binary.LittleEndian.PutUint32(rec[0:4], 20)
		binary.LittleEndian.PutUint64(rec[4:12], e[0])
		binary.LittleEndian.PutUint64(rec[12:20], e[1])
		binary.LittleEndian.PutUint32(rec[20:24], uint32(e[2]))
		mmap = append(mmap, rec[:]...)
	}

	buf := make([]byte, infoHeaderLen+len(mmap))
	binary.LittleEndian.PutUint32(buf[0:], 1<<6)
	binary.LittleEndian.PutUint32(buf[44:], uint32(len(mmap)))
	binary.LittleEndian.PutUint32(buf[48:], uint32(uintptr(unsafe.Pointer(&buf[infoHeaderLen]))))
	copy(buf[infoHeaderLen:], mmap)

	return buf
}

// setupTestSystem installs synthetic hooks into both pmm and slab and
// initializes pmm with a small, generous memory map so the slab pool has
// plenty of pages to claim. It registers a cleanup that restores every hook
// and returns the simulated memory backing the free-list links.
func setupTestSystem(t *testing.T) *simMemory {
	t.Helper()

	sim := newSimMemory()

	restorePMM := pmm.InstallTestHooks(pmm.TestHooks{
		PlaceBitmap: func(_ uintptr, words int) []uint32 { return make([]uint32, words) },
		PlaceMemMap: func(_ uintptr, pages int) []pmm.Page { return make([]pmm.Page, pages) },
		ZeroMemory:  func(addr uintptr, value byte, size uintptr) {},
		Panic:       func(e interface{}) {},
	})

	origWriteNext, origReadNext, origZeroRange, origPlacePool, origPanic := writeNext, readNext, zeroRange, placeSlabPool, panicFn
	writeNext = sim.writeNext
	readNext = sim.readNext
	zeroRange = sim.zeroRange
	placeSlabPool = func(_ uintptr, n int) []slab { return make([]slab, n) }
	panicFn = func(e interface{}) {}

	t.Cleanup(func() {
		restorePMM()
		writeNext, readNext, zeroRange, placeSlabPool, panicFn = origWriteNext, origReadNext, origZeroRange, origPlacePool, origPanic
		caches = [len(sizeClasses)]Cache{}
		slabPool = nil
		poolCursor = 0
	})

	buf := buildMultibootInfo([][3]uint64{
		{0x000000, 0x0A0000, uint64(multiboot.MemAvailable)},
		{0x0A0000, 0x060000, uint64(multiboot.MemReserved)},
		{0x100000, 0x700000, uint64(multiboot.MemAvailable)},
	})
	pmm.Init(uintptr(unsafe.Pointer(&buf[0])), 0x000000, 0x020000)

	return sim
}

func TestCacheCreate(t *testing.T) {
	var c Cache
	c.create("kmalloc-32", 32, 0)

	if got := c.ObjSize(); got != 32 {
		t.Errorf("expected objsize 32; got %d", got)
	}
	if got := c.objnum; got != uint32(mem.PageSize)/32 {
		t.Errorf("expected objnum %d; got %d", uint32(mem.PageSize)/32, got)
	}
	if got := c.Name(); got != "kmalloc-32" {
		t.Errorf("expected name %q; got %q", "kmalloc-32", got)
	}
}

func TestCacheCreateRoundsUpToPowerOfTwo(t *testing.T) {
	var c Cache
	c.create("kmalloc-odd", 20, 0)

	if got := c.ObjSize(); got != 32 {
		t.Errorf("expected rounded objsize 32; got %d", got)
	}
}

func TestInitCreatesAllSizeClasses(t *testing.T) {
	setupTestSystem(t)
	Init()

	if len(slabPool) == 0 {
		t.Fatal("expected a non-empty slab pool")
	}

	for i, class := range sizeClasses {
		if caches[i].ObjSize() != class {
			t.Errorf("cache %d: expected objsize %d; got %d", i, class, caches[i].ObjSize())
		}
	}
}

func TestAllocReturnsDistinctObjects(t *testing.T) {
	setupTestSystem(t)
	Init()

	c := &caches[2] // kmalloc-32

	seen := make(map[uintptr]bool)
	for i := 0; i < 50; i++ {
		ptr := c.Alloc(pmm.GFPKernel)
		if ptr == 0 {
			t.Fatalf("alloc %d: expected non-zero pointer", i)
		}
		if seen[ptr] {
			t.Fatalf("alloc %d: pointer %x was already handed out", i, ptr)
		}
		seen[ptr] = true
	}
}

func TestAllocStaysWithinSlabBounds(t *testing.T) {
	setupTestSystem(t)
	Init()

	c := &caches[0] // kmalloc-8
	ptr := c.Alloc(pmm.GFPKernel)

	s := c.list.nextFree
	if ptr < s.sMem || ptr >= s.sMem+uintptr(c.objnum)*uintptr(c.objsize) {
		t.Errorf("allocated object %x falls outside slab range [%x, %x)", ptr, s.sMem, s.sMem+uintptr(c.objnum)*uintptr(c.objsize))
	}
}

func TestFreeThenAllocReusesSlot(t *testing.T) {
	setupTestSystem(t)
	Init()

	c := &caches[2] // kmalloc-32

	p1 := c.Alloc(pmm.GFPKernel)
	c.Free(p1)
	p2 := c.Alloc(pmm.GFPKernel)

	if p1 != p2 {
		t.Errorf("expected freed slot %x to be reused; got %x", p1, p2)
	}
}

func TestAllocSlabOccupancyBounds(t *testing.T) {
	setupTestSystem(t)
	Init()

	c := &caches[4] // kmalloc-128

	for i := uint32(0); i < c.objnum+5; i++ {
		c.Alloc(pmm.GFPKernel)
	}

	for s := c.list.head; s != nil; s = s.next {
		if s.inuse == 0 || s.inuse > c.objnum {
			t.Errorf("slab inuse %d violates bounds (0, %d]", s.inuse, c.objnum)
		}
	}
	for s := c.freelist.head; s != nil; s = s.next {
		if s.inuse != 0 {
			t.Errorf("freelist slab has inuse %d; expected 0", s.inuse)
		}
	}
}

func TestFreeingEveryObjectReturnsSlabToFreelist(t *testing.T) {
	setupTestSystem(t)
	Init()

	c := &caches[3] // kmalloc-64

	objs := make([]uintptr, 0, c.objnum+1)
	for i := uint32(0); i < c.objnum+1; i++ {
		objs = append(objs, c.Alloc(pmm.GFPKernel))
	}

	// Drain the first slab completely while a second slab remains the
	// active (nextFree) one.
	firstSlab := c.list.head
	for _, obj := range objs {
		if (obj>>mem.PageShift)<<mem.PageShift == firstSlab.sMem {
			c.Free(obj)
		}
	}

	found := false
	for s := c.freelist.head; s != nil; s = s.next {
		if s == firstSlab {
			found = true
		}
	}
	if !found {
		t.Error("expected fully-drained slab to move to the freelist")
	}
}

func TestKmallocSizeClassRounding(t *testing.T) {
	setupTestSystem(t)
	Init()

	specs := []struct {
		size      uint32
		expObjLen uint32
	}{
		{1, 8},
		{8, 8},
		{9, 16},
		{64, 64},
		{100, 128},
		{2048, 2048},
	}

	for _, spec := range specs {
		ptr := Kmalloc(spec.size, pmm.GFPKernel)
		if ptr == 0 {
			t.Fatalf("size %d: expected successful allocation", spec.size)
		}

		page := pmm.GetPage(ptr)
		if page.CacheIndex < 0 {
			t.Fatalf("size %d: expected object's page to carry a cache index", spec.size)
		}
		if got := caches[page.CacheIndex].ObjSize(); got != spec.expObjLen {
			t.Errorf("size %d: expected serving cache objsize %d; got %d", spec.size, spec.expObjLen, got)
		}
	}
}

func TestKmallocRejectsOversizeRequest(t *testing.T) {
	setupTestSystem(t)
	Init()

	if ptr := Kmalloc(2049, pmm.GFPKernel); ptr != 0 {
		t.Error("expected Kmalloc(2049, ...) to return 0")
	}
}

func TestKmallocRejectsMissingKernelFlag(t *testing.T) {
	setupTestSystem(t)
	Init()

	if ptr := Kmalloc(64, 0); ptr != 0 {
		t.Error("expected Kmalloc without GFPKernel to return 0")
	}
}

func TestKmallocKfreeRoundTrip(t *testing.T) {
	setupTestSystem(t)
	Init()

	ptr := Kmalloc(32, pmm.GFPKernel)
	if ptr == 0 {
		t.Fatal("expected successful allocation")
	}

	Kfree(ptr)

	ptr2 := Kmalloc(32, pmm.GFPKernel)
	if ptr2 != ptr {
		t.Errorf("expected freed object to be reused; got %x, want %x", ptr2, ptr)
	}
}

func TestKfreePanicsOnUnknownPointer(t *testing.T) {
	setupTestSystem(t)
	Init()

	var gotPanic bool
	panicFn = func(e interface{}) { gotPanic = true }

	// Address 0 lies in the reserved zero frame, whose page never backs a
	// slab, so its CacheIndex is -1.
	Kfree(0)

	if !gotPanic {
		t.Error("expected Kfree on an object with no owning cache to invoke the panic sink")
	}
}
