// Package heap implements the kernel's byte-granular allocator, carved out
// of buddy-allocated blocks. It backs the task table's kernel stacks and
// trap frames; list nodes and the scheduler's runqueue are allocated by
// the Go runtime, not here.
package heap

import (
	"unsafe"

	"rv64kernel/kernel"
	"rv64kernel/kernel/mem"
	"rv64kernel/kernel/mem/pmm"
)

var errOOM = &kernel.Error{Module: "heap", Message: "buddy allocator exhausted"}

// recordHeader precedes every live payload. owner lets Free locate the
// block to decrement its live count; size lets Free recompute whether this
// was the block's tail allocation (and so can be reclaimed by rewinding the
// cursor) without the caller telling us.
type recordHeader struct {
	size  uintptr
	owner *block
}

const headerSize = unsafe.Sizeof(recordHeader{})

// block is one buddy allocation segmented into bump-allocated records. No
// coalescing happens within a block; only the most recently placed record
// can be reclaimed cheaply by rewinding cursor.
type block struct {
	prev, next *block
	base       uintptr // start of the backing buddy allocation
	order      mem.Order
	cursor     uintptr // next free byte
	end        uintptr // base + block size
	live       int     // records not yet freed
}

// Heap is a kmalloc/kfree arena backed by a buddy Pool. The zero value
// (with a non-nil pool set via Init) is ready to use.
type Heap struct {
	pool  *pmm.Pool
	tail  *block // most recently allocated block; bump allocation grows here
	count int    // number of live blocks, for diagnostics
}

// Init attaches the heap to the buddy pool it should draw backing pages
// from.
func (h *Heap) Init(pool *pmm.Pool) {
	h.pool = pool
	h.tail = nil
}

func align8(x uintptr) uintptr { return (x + 7) &^ 7 }

// newBlock allocates a buddy block large enough to hold at least need bytes
// of payload plus the block and record headers, and links it in as the new
// tail.
func (h *Heap) newBlock(need uintptr) (*block, *kernel.Error) {
	required := mem.Size(unsafe.Sizeof(block{})) + mem.Size(need) + mem.Size(headerSize)
	order := required.Order()

	addr, err := h.pool.Allocate(order)
	if err != nil {
		return nil, errOOM
	}

	b := (*block)(unsafe.Pointer(addr))
	*b = block{
		base:   addr,
		order:  order,
		cursor: align8(addr + unsafe.Sizeof(block{})),
		end:    addr + uintptr(mem.PageSize<<uint(order)),
	}

	if h.tail != nil {
		h.tail.next = b
		b.prev = h.tail
	}
	h.tail = b
	h.count++
	return b, nil
}

// Kmalloc returns an 8-byte-aligned payload of the requested size, bumped
// from the tail block's free cursor. A new backing block is allocated when
// the current tail cannot hold the request. Returns nil on allocator
// exhaustion.
func (h *Heap) Kmalloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		size = 1
	}

	b := h.tail
	recordStart := uintptr(0)
	if b != nil {
		recordStart = align8(b.cursor)
	}
	if b == nil || recordStart+headerSize+size > b.end {
		var err *kernel.Error
		b, err = h.newBlock(size)
		if err != nil {
			return nil
		}
		recordStart = align8(b.cursor)
	}

	hdr := (*recordHeader)(unsafe.Pointer(recordStart))
	hdr.size = size
	hdr.owner = b

	payload := recordStart + headerSize
	b.cursor = payload + size
	b.live++

	return unsafe.Pointer(payload)
}

// Kfree releases a payload previously returned by Kmalloc. The owning
// block's live count is decremented; if the freed record was the last one
// bump-allocated (its end coincides with the block's cursor) the cursor is
// rewound so the space is reusable immediately. When a block's live count
// reaches zero it is unlinked and its backing buddy allocation returned.
func (h *Heap) Kfree(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	payload := uintptr(ptr)
	hdr := (*recordHeader)(unsafe.Pointer(payload - headerSize))
	b := hdr.owner

	if payload+hdr.size == b.cursor {
		b.cursor = payload - headerSize
	}
	b.live--

	if b.live > 0 {
		return
	}

	if b.prev != nil {
		b.prev.next = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	}
	if h.tail == b {
		h.tail = b.prev
	}
	h.count--

	h.pool.Deallocate(b.base, b.order)
}
