// Package vmm builds, mutates, duplicates, and tears down Sv39 user and
// kernel address spaces: page-table walks, single-page map/unmap, bulk
// section mapping for ELF segments, address-space duplication for fork,
// and full teardown.
package vmm

import (
	"unsafe"

	"rv64kernel/kernel"
	"rv64kernel/kernel/mem"
	"rv64kernel/kernel/riscv"
)

var (
	errAlreadyMapped = &kernel.Error{Module: "vmm", Message: "page already mapped"}
	errNotMapped     = &kernel.Error{Module: "vmm", Message: "page not mapped"}
	errInteriorUnmap = &kernel.Error{Module: "vmm", Message: "cannot unmap an interior page table entry"}
	errOOM           = &kernel.Error{Module: "vmm", Message: "out of physical frames"}
)

// FrameAllocator is the subset of pmm.Pool the VM manager needs; it is an
// interface (rather than a direct *pmm.Pool dependency) purely so tests can
// swap in a host-memory-backed fake without standing up a real physical
// window.
type FrameAllocator interface {
	Allocate(order mem.Order) (uintptr, *kernel.Error)
	Deallocate(addr uintptr, order mem.Order)
}

// Table is a pointer to the 512-entry root or interior page table at a
// given physical address.
type Table uintptr

func (t Table) entries() *[512]uint64 {
	return (*[512]uint64)(unsafe.Pointer(uintptr(t)))
}

func (t Table) entry(i uint64) *uint64 {
	return &t.entries()[i]
}

// CreateVoidPageTable allocates and zeroes a single page to serve as a new,
// empty root page table.
func CreateVoidPageTable(alloc FrameAllocator) (Table, *kernel.Error) {
	addr, err := alloc.Allocate(0)
	if err != nil {
		return 0, errOOM
	}
	mem.Memset(addr, 0, mem.PageSize)
	return Table(addr), nil
}

// Walk descends the three Sv39 levels for va and returns a pointer to the
// leaf PTE. When a level is missing and alloc is true, a zeroed child table
// is allocated and installed; otherwise Walk returns nil. It is fatal
// (kernel.Panic) for va to be outside the representable range (>= MAXVA);
// Walk returns the out-of-memory error if a child table cannot be
// allocated.
func Walk(root Table, va uint64, alloc bool, allocator FrameAllocator) (*uint64, *kernel.Error) {
	if va >= riscv.MAXVA {
		kernel.Panic(&kernel.Error{Module: "vmm", Message: "walk: va >= MAXVA"})
	}

	table := root
	for level := 2; level > 0; level-- {
		pte := table.entry(riscv.PX(uint(level), va))
		if riscv.PTEFlags(*pte).Has(riscv.PteV) {
			table = Table(riscv.PTE2PA(*pte))
			continue
		}
		if !alloc {
			return nil, nil
		}
		child, err := allocator.Allocate(0)
		if err != nil {
			return nil, errOOM
		}
		mem.Memset(child, 0, mem.PageSize)
		*pte = riscv.PA2PTE(uint64(child)) | uint64(riscv.PteV)
		table = Table(child)
	}
	return table.entry(riscv.PX(0, va)), nil
}

// MapPage installs a single leaf mapping va -> pa with the given
// permission bits. It is fatal (kernel.Panic) to map an already-valid
// leaf, matching the invariant that a user virtual address is mapped at
// most once.
func MapPage(root Table, va, pa uint64, perm riscv.PTEFlag, allocator FrameAllocator) *kernel.Error {
	va = riscv.PGRoundDown(va)
	pa = riscv.PGRoundDown(pa)

	pte, err := Walk(root, va, true, allocator)
	if err != nil {
		return err
	}
	if riscv.PTEFlags(*pte).Has(riscv.PteV) {
		kernel.Panic(errAlreadyMapped)
	}
	*pte = riscv.PA2PTE(pa) | uint64(perm) | uint64(riscv.PteV)
	return nil
}

// UnmapPage clears a valid leaf mapping without freeing its backing frame.
// It is fatal to unmap a non-existent mapping or an interior table entry.
func UnmapPage(root Table, va uint64) *kernel.Error {
	va = riscv.PGRoundDown(va)
	pte, err := Walk(root, va, false, nil)
	if err != nil {
		return err
	}
	if pte == nil || !riscv.PTEFlags(*pte).Has(riscv.PteV) {
		kernel.Panic(errNotMapped)
	}
	if riscv.PTEFlags(*pte) == riscv.PteV {
		kernel.Panic(errInteriorUnmap)
	}
	*pte = 0
	return nil
}

// PhysOf translates va to its mapped physical address, or returns
// (0, errNotMapped) if va has no valid leaf mapping.
func PhysOf(root Table, va uint64) (uint64, *kernel.Error) {
	pte, _ := Walk(root, va, false, nil)
	if pte == nil || !riscv.PTEFlags(*pte).Has(riscv.PteV) {
		return 0, errNotMapped
	}
	return riscv.PTE2PA(*pte) + riscv.PGOffset(va), nil
}

// Section describes one contiguous range of user virtual memory whose
// backing frames are owned by the task that mapped it (one per ELF
// PT_LOAD segment, plus the user stack).
type Section struct {
	Start uint64
	Size  uint64
}

// MapSectionForUser allocates one physical page per VA page covering
// [va, va+memSize), copies the len(src) bytes of src to [va, va+len(src))
// (the remainder, up to memSize, is left zeroed —
// the BSS tail of a PT_LOAD segment), and installs the mappings. On
// partial failure already-installed mappings are unwound and their frames
// released. Callers are responsible for recording the returned Section on
// the owning task.
func MapSectionForUser(root Table, va uint64, src []byte, memSize uint64, perm riscv.PTEFlag, allocator FrameAllocator) (Section, *kernel.Error) {
	start := riscv.PGRoundDown(va)
	size := riscv.PGRoundUp(va+memSize) - start

	pages := size / uint64(mem.PageSize)
	mapped := uint64(0)

	unwind := func() {
		for i := uint64(0); i < mapped; i++ {
			pageVA := start + i*uint64(mem.PageSize)
			if pa, err := PhysOf(root, pageVA); err == nil {
				allocator.Deallocate(uintptr(pa), 0)
			}
			_ = UnmapPage(root, pageVA)
		}
	}

	for i := uint64(0); i < pages; i++ {
		frame, err := allocator.Allocate(0)
		if err != nil {
			unwind()
			return Section{}, errOOM
		}
		mem.Memset(frame, 0, mem.PageSize)

		pageVA := start + i*uint64(mem.PageSize)
		// Copy bytes that fall within [va, va+len(src)) into this page.
		pageFileStart := int64(pageVA) - int64(va)
		pageFileEnd := pageFileStart + int64(mem.PageSize)
		if pageFileEnd > 0 && pageFileStart < int64(len(src)) {
			lo := pageFileStart
			if lo < 0 {
				lo = 0
			}
			hi := pageFileEnd
			if hi > int64(len(src)) {
				hi = int64(len(src))
			}
			if hi > lo {
				dstOff := uintptr(lo - pageFileStart)
				dst := unsafe.Slice((*byte)(unsafe.Pointer(frame+dstOff)), hi-lo)
				copy(dst, src[lo:hi])
			}
		}

		if err := MapPage(root, pageVA, uint64(frame), perm, allocator); err != nil {
			allocator.Deallocate(frame, 0)
			unwind()
			return Section{}, err
		}
		mapped++
	}

	return Section{Start: start, Size: size}, nil
}

// FreeMemory releases the backing frame for every page in [start, start+size)
// and unmaps it, but does not remove the Section bookkeeping — that is the
// caller's job (the task's section list).
func FreeMemory(root Table, start, size uint64, allocator FrameAllocator) {
	start = riscv.PGRoundDown(start)
	for off := uint64(0); off < size; off += uint64(mem.PageSize) {
		va := start + off
		if pa, err := PhysOf(root, va); err == nil {
			allocator.Deallocate(uintptr(pa), 0)
		}
		_ = UnmapPage(root, va)
	}
}

// FreePageTable recursively frees every interior table (levels 2 and 1)
// reachable from root, then the root table itself. Leaf frames are the
// caller's responsibility (freed via FreeMemory first).
func FreePageTable(root Table, allocator FrameAllocator) {
	freeLevel(root, 2, allocator)
	allocator.Deallocate(uintptr(root), 0)
}

func freeLevel(t Table, level int, allocator FrameAllocator) {
	if level == 0 {
		return
	}
	for i := uint64(0); i < 512; i++ {
		pte := *t.entry(i)
		flags := riscv.PTEFlags(pte)
		if !flags.Has(riscv.PteV) {
			continue
		}
		// A leaf at an interior level carries R/W/X bits; a pointer to
		// a child table carries only V.
		if flags&(riscv.PteR|riscv.PteW|riscv.PteX) != 0 {
			continue
		}
		child := Table(riscv.PTE2PA(pte))
		freeLevel(child, level-1, allocator)
		allocator.Deallocate(uintptr(child), 0)
	}
}

// CopyAllMemoryWithPageTable duplicates every section of src (including
// the stack) into dst: fresh backing frames are allocated, contents
// copied, and mappings installed in dst's table with the source's
// permissions. On any failure, every mapping and frame installed in dst
// during this call is fully unwound.
func CopyAllMemoryWithPageTable(dstRoot Table, sections []Section, srcRoot Table, perms []riscv.PTEFlag, allocator FrameAllocator) *kernel.Error {
	type installed struct {
		va uint64
	}
	var done []installed

	unwind := func() {
		for _, d := range done {
			if pa, err := PhysOf(dstRoot, d.va); err == nil {
				allocator.Deallocate(uintptr(pa), 0)
			}
			_ = UnmapPage(dstRoot, d.va)
		}
	}

	for si, sec := range sections {
		perm := perms[si]
		for off := uint64(0); off < sec.Size; off += uint64(mem.PageSize) {
			va := sec.Start + off
			srcPA, err := PhysOf(srcRoot, va)
			if err != nil {
				unwind()
				return err
			}

			dstFrame, aerr := allocator.Allocate(0)
			if aerr != nil {
				unwind()
				return errOOM
			}
			src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(srcPA))), mem.PageSize)
			dst := unsafe.Slice((*byte)(unsafe.Pointer(dstFrame)), mem.PageSize)
			copy(dst, src)

			if err := MapPage(dstRoot, va, uint64(dstFrame), perm, allocator); err != nil {
				allocator.Deallocate(dstFrame, 0)
				unwind()
				return err
			}
			done = append(done, installed{va: va})
		}
	}
	return nil
}
