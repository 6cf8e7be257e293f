package pmm

// TestHooks bundles the low-level physical-memory indirections that Init,
// AllocPages and FreePages rely on. It exists so that other packages' tests
// (notably kfs/kernel/slab) can drive pmm's bookkeeping logic without
// touching real, potentially unmapped physical addresses.
type TestHooks struct {
	PlaceBitmap func(addr uintptr, words int) []uint32
	PlaceMemMap func(addr uintptr, pages int) []Page
	ZeroMemory  func(addr uintptr, value byte, size uintptr)
	Panic       func(e interface{})
}

// InstallTestHooks overrides pmm's memory-placement and panic hooks and
// returns a function that restores the production defaults. Not for use
// outside tests.
func InstallTestHooks(h TestHooks) (restore func()) {
	origBitmap, origMemMap, origZero, origPanic := placeBitmap, placeMemMap, zeroMemory, panicFn

	if h.PlaceBitmap != nil {
		placeBitmap = h.PlaceBitmap
	}
	if h.PlaceMemMap != nil {
		placeMemMap = h.PlaceMemMap
	}
	if h.ZeroMemory != nil {
		zeroMemory = h.ZeroMemory
	}
	if h.Panic != nil {
		panicFn = h.Panic
	}

	return func() {
		placeBitmap, placeMemMap, zeroMemory, panicFn = origBitmap, origMemMap, origZero, origPanic
	}
}
