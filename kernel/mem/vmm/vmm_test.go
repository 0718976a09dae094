package vmm

import (
	"testing"
	"unsafe"

	"rv64kernel/kernel"
	"rv64kernel/kernel/mem"
	"rv64kernel/kernel/riscv"
)

// fakeAllocator backs FrameAllocator with host-process memory instead of a
// real physical window, so the VM manager's page-table logic can be
// exercised without a booted kernel. Each "frame" is a page-aligned Go
// allocation; order is ignored beyond the order-0 page size this package
// actually requests.
type fakeAllocator struct {
	live map[uintptr][]byte
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{live: map[uintptr][]byte{}}
}

func (a *fakeAllocator) Allocate(order mem.Order) (uintptr, *kernel.Error) {
	size := uintptr(mem.PageSize) << uint(order)
	// Over-allocate so a page-aligned address can be carved out of it.
	buf := make([]byte, size+uintptr(mem.PageSize))
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
	a.live[aligned] = buf
	return aligned, nil
}

func (a *fakeAllocator) Deallocate(addr uintptr, order mem.Order) {
	delete(a.live, addr)
}

func TestMapPageThenPhysOf(t *testing.T) {
	alloc := newFakeAllocator()
	root, err := CreateVoidPageTable(alloc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame, err := alloc.Allocate(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	va := uint64(0x1000)
	if err := MapPage(root, va, uint64(frame), riscv.PteR|riscv.PteW|riscv.PteU, alloc); err != nil {
		t.Fatalf("MapPage failed: %v", err)
	}

	pa, err := PhysOf(root, va)
	if err != nil {
		t.Fatalf("PhysOf failed: %v", err)
	}
	if pa != uint64(frame) {
		t.Fatalf("expected PhysOf to return %#x, got %#x", frame, pa)
	}

	pte, err := Walk(root, va, false, nil)
	if err != nil || pte == nil {
		t.Fatalf("expected a leaf PTE, err=%v pte=%v", err, pte)
	}
	want := riscv.PteR | riscv.PteW | riscv.PteU | riscv.PteV
	if got := riscv.PTEFlags(*pte); got != want {
		t.Fatalf("expected flags %#x, got %#x", want, got)
	}
}

func TestUnmapThenWalkFindsNoValidLeaf(t *testing.T) {
	alloc := newFakeAllocator()
	root, _ := CreateVoidPageTable(alloc)
	frame, _ := alloc.Allocate(0)

	va := uint64(0x2000)
	if err := MapPage(root, va, uint64(frame), riscv.PteR|riscv.PteU, alloc); err != nil {
		t.Fatalf("MapPage failed: %v", err)
	}
	if err := UnmapPage(root, va); err != nil {
		t.Fatalf("UnmapPage failed: %v", err)
	}

	pte, err := Walk(root, va, false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pte != nil && riscv.PTEFlags(*pte).Has(riscv.PteV) {
		t.Fatal("expected the page to no longer be mapped")
	}
}

func TestMapSectionForUserCopiesAndZeroes(t *testing.T) {
	alloc := newFakeAllocator()
	root, _ := CreateVoidPageTable(alloc)

	src := []byte{1, 2, 3, 4}
	va := uint64(0x3000)
	sec, err := MapSectionForUser(root, va, src, uint64(mem.PageSize), riscv.PteR|riscv.PteW|riscv.PteU, alloc)
	if err != nil {
		t.Fatalf("MapSectionForUser failed: %v", err)
	}
	if sec.Start != va || sec.Size != uint64(mem.PageSize) {
		t.Fatalf("unexpected section %+v", sec)
	}

	pa, err := PhysOf(root, va)
	if err != nil {
		t.Fatalf("PhysOf failed: %v", err)
	}
	page := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(pa))), mem.PageSize)
	for i, want := range src {
		if page[i] != want {
			t.Fatalf("byte %d: expected %d, got %d", i, want, page[i])
		}
	}
	for i := len(src); i < int(mem.PageSize); i++ {
		if page[i] != 0 {
			t.Fatalf("byte %d: expected zero BSS tail, got %d", i, page[i])
			break
		}
	}
}

func TestFreeMemoryUnmapsEveryPage(t *testing.T) {
	alloc := newFakeAllocator()
	root, _ := CreateVoidPageTable(alloc)

	sec, err := MapSectionForUser(root, 0x4000, nil, uint64(mem.PageSize)*3, riscv.PteR|riscv.PteW|riscv.PteU, alloc)
	if err != nil {
		t.Fatalf("MapSectionForUser failed: %v", err)
	}

	FreeMemory(root, sec.Start, sec.Size, alloc)

	for off := uint64(0); off < sec.Size; off += uint64(mem.PageSize) {
		pte, _ := Walk(root, sec.Start+off, false, nil)
		if pte != nil && riscv.PTEFlags(*pte).Has(riscv.PteV) {
			t.Fatalf("expected page at offset %d to be unmapped", off)
		}
	}
}

func TestCopyAllMemoryWithPageTableProducesDisjointFrames(t *testing.T) {
	alloc := newFakeAllocator()
	srcRoot, _ := CreateVoidPageTable(alloc)
	dstRoot, _ := CreateVoidPageTable(alloc)

	src := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	perm := riscv.PteR | riscv.PteW | riscv.PteU
	sec, err := MapSectionForUser(srcRoot, 0x5000, src, uint64(mem.PageSize), perm, alloc)
	if err != nil {
		t.Fatalf("MapSectionForUser failed: %v", err)
	}

	err = CopyAllMemoryWithPageTable(dstRoot, []Section{sec}, srcRoot, []riscv.PTEFlag{perm}, alloc)
	if err != nil {
		t.Fatalf("CopyAllMemoryWithPageTable failed: %v", err)
	}

	srcPA, _ := PhysOf(srcRoot, sec.Start)
	dstPA, _ := PhysOf(dstRoot, sec.Start)
	if srcPA == dstPA {
		t.Fatal("expected dst to get a distinct physical frame from src")
	}

	dstPage := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(dstPA))), len(src))
	for i, want := range src {
		if dstPage[i] != want {
			t.Fatalf("byte %d: expected %d, got %d", i, want, dstPage[i])
		}
	}
}
