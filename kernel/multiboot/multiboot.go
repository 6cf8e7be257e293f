// Package multiboot provides read-only access to the Multiboot 1 info
// structure passed to the kernel by the bootloader. Only the fields required
// to build the physical memory map are exposed; everything else in the
// structure (boot device, module list, symbol tables) is left untouched.
package multiboot

import "unsafe"

// EntryType classifies a Multiboot memory map region.
type EntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable EntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// MemBadRAM indicates a memory region that failed a RAM check and must
	// never be used.
	MemBadRAM

	// Any value >= memUnknown is mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for EntryType.
func (t EntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	case MemBadRAM:
		return "bad RAM"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a single Multiboot memory region: its physical
// address, its length in bytes and its type.
type MemoryMapEntry struct {
	PhysAddress uint64
	Length      uint64
	Type        EntryType
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region
// present in the Multiboot memory map. The visitor must return true to keep
// scanning or false to abort early.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// Layout of the Multiboot 1 info structure (offsets in bytes). Only the
// fields this package needs are named; everything else is skipped over.
//
//	0   uint32 flags
//	4   uint32 mem_lower
//	8   uint32 mem_upper
//	12  uint32 boot_device
//	16  uint32 cmdline
//	20  uint32 mods_count
//	24  uint32 mods_addr
//	28  uint32 syms[4]
//	44  uint32 mmap_length
//	48  uint32 mmap_addr
//
// Each memory map entry is declared packed by the bootloader and laid out as:
//
//	0  uint32 size   (length of the entry that follows, excluding this field)
//	4  uint64 addr
//	12 uint64 len
//	20 uint32 type
const (
	offFlags      = 0
	offMmapLength = 44
	offMmapAddr   = 48

	// flagMemMapPresent is bit 6 of the info flags word; it is set by the
	// bootloader when mmap_addr/mmap_length are valid.
	flagMemMapPresent = 1 << 6

	mmapEntrySizeFieldLen = 4
	mmapEntryFixedLen     = 20 // addr(8) + len(8) + type(4), excluding the leading size field
)

var infoData uintptr

// SetInfoPtr records the physical address of the Multiboot info structure.
// It must be called once, before any other function in this package, with
// the pointer handed to the kernel entry point by the bootloader.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

func readU32(addr uintptr) uint32 { return *(*uint32)(unsafe.Pointer(addr)) }
func readU64(addr uintptr) uint64 { return *(*uint64)(unsafe.Pointer(addr)) }

// HasMemoryMap reports whether the bootloader populated the memory map
// fields of the Multiboot info structure (flags bit 6).
func HasMemoryMap() bool {
	return readU32(infoData+offFlags)&flagMemMapPresent != 0
}

// VisitMemRegions invokes visitor once for every entry in the Multiboot
// memory map, in the order the bootloader reported them. It returns false
// without visiting any entry if the memory map is not present (flags bit 6
// clear); callers that require the memory map must treat that as fatal.
func VisitMemRegions(visitor MemRegionVisitor) bool {
	if !HasMemoryMap() {
		return false
	}

	mmapAddr := uintptr(readU32(infoData + offMmapAddr))
	mmapLength := uintptr(readU32(infoData + offMmapLength))

	var entry MemoryMapEntry
	for curPtr, endPtr := mmapAddr, mmapAddr+mmapLength; curPtr < endPtr; {
		entrySize := readU32(curPtr)

		entry.PhysAddress = readU64(curPtr + 4)
		entry.Length = readU64(curPtr + 12)
		entry.Type = EntryType(readU32(curPtr + 20))
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(&entry) {
			return true
		}

		// entrySize does not include the size field itself.
		if entrySize == 0 {
			entrySize = mmapEntryFixedLen
		}
		curPtr += uintptr(entrySize) + mmapEntrySizeFieldLen
	}

	return true
}
