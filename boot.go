// Command rv64kernel is the supervisor-mode kernel image entry point.
// Kmain is invoked once, by the assembly _entry stub (outside this
// module's scope, along with the trampoline and the linker script that
// places it) after the hart has switched to supervisor mode with a
// stack but before any Go-level allocator exists. Everything Kmain does
// before pmm.Pool.Init runs must not touch the heap.
package main

import (
	"unsafe"

	"rv64kernel/kernel"
	"rv64kernel/kernel/console"
	"rv64kernel/kernel/devices/clint"
	"rv64kernel/kernel/devices/plic"
	"rv64kernel/kernel/devices/uart"
	"rv64kernel/kernel/mem"
	"rv64kernel/kernel/mem/pmm"
	"rv64kernel/kernel/mem/vmm"
	"rv64kernel/kernel/proc"
	"rv64kernel/kernel/riscv"
	"rv64kernel/kernel/sched"
	"rv64kernel/kernel/syscall"
	"rv64kernel/kernel/trap"
	"rv64kernel/kernel/userland"
)

// kernelEnd is the first physical address past the kernel's own image;
// everything above it up to pmm.KernelStart+pmm.WindowSize is free for
// the buddy pool. Implemented by a small assembly stub in boot_riscv64.s,
// which returns a fixed placeholder address rather than a linker-provided
// end-of-image symbol.
func kernelEndAddr() uintptr

// timerInterval is how many CLINT ticks the kernel lets a task run
// before forcing a reschedule.
const timerInterval = clint.Frequency / 100 // 10ms

var pool pmm.Pool

// Kmain brings every subsystem up in dependency order and then hands
// off to the scheduler, which never returns.
func Kmain() {
	uart.Init()
	console.Putc = uart.PutChar
	kernel.SetPrintFn(console.Printf)
	kernel.SetHaltFn(riscv.Halt)

	console.Printf("booting\n")

	pool.Init(kernelEndAddr())
	proc.Init(&pool)

	kernelRoot, err := buildKernelPageTable()
	if err != nil {
		kernel.Panic(err)
	}
	riscv.WriteSatp(riscv.MakeSatp(uint64(kernelRoot)))
	riscv.SfenceVMA()

	wireSyscalls()
	wireTrapHooks(kernelRoot)

	plic.SetPriority(uartIRQ, 1)
	plic.Enable(uartIRQ)
	plic.SetThreshold(0)
	clint.SetTimer(timerInterval)

	startInitTask()

	console.Printf("entering scheduler\n")
	sched.Run()
}

const uartIRQ = 10 // QEMU virt's fixed UART0 PLIC line

// buildKernelPageTable constructs the supervisor address space: an
// identity map (VA == PA) over the RAM window the buddy pool manages
// plus the UART, PLIC and CLINT MMIO windows, so kernel code that knows
// a physical address can dereference it directly as a pointer once satp
// is live.
func buildKernelPageTable() (vmm.Table, *kernel.Error) {
	root, err := vmm.CreateVoidPageTable(&pool)
	if err != nil {
		return 0, err
	}

	identityMap := func(base uint64, size uint64, perm riscv.PTEFlag) *kernel.Error {
		for off := uint64(0); off < size; off += uint64(mem.PageSize) {
			if merr := vmm.MapPage(root, base+off, base+off, perm, &pool); merr != nil {
				return merr
			}
		}
		return nil
	}

	rw := riscv.PteR | riscv.PteW
	rwx := riscv.PteR | riscv.PteW | riscv.PteX

	if err := identityMap(pmm.KernelStart, uint64(pmm.WindowSize), rwx); err != nil {
		return 0, err
	}
	if err := identityMap(uart.Base, uint64(mem.PageSize), rw); err != nil {
		return 0, err
	}
	if err := identityMap(plic.Base, 0x400000, rw); err != nil {
		return 0, err
	}
	if err := identityMap(clint.Base, 0x10000, rw); err != nil {
		return 0, err
	}

	return root, nil
}

// wireSyscalls installs every handler dependency the syscall package
// declares as a function variable, closing the loop between the
// table-dispatched gateway and the subsystems it drives.
func wireSyscalls() {
	syscall.Allocator = &pool
	syscall.ReadUserELF = userland.Lookup
	syscall.PutCharFn = uart.PutChar
	syscall.GetCharFn = uart.GetChar
	syscall.PowerOffFn = riscv.Halt
	syscall.ReadUserCString = readUserCString
	syscall.WriteUserStatus = writeUserStatus
}

func wireTrapHooks(kernelRoot vmm.Table) {
	trap.GrowUserStack = func(t *proc.Task, faultAddr uint64) bool {
		return proc.GrowStack(t, faultAddr, &pool)
	}
	trap.UserTrapReturnHook = func(t *proc.Task, satp uint64) {
		t.TrapFrame.KernelSATP = riscv.MakeSatp(uint64(kernelRoot))
		userTrapReturnAsm(t.TrapFrame, satp)
	}
}

// userTrapReturnAsm hands off to the trampoline: switches satp to the
// user address space, restores every general-purpose register from the
// trap frame, and sret's to t.TrapFrame.Epc. Implemented in
// boot_riscv64.s.
func userTrapReturnAsm(tf *proc.TrapFrame, satp uint64)

// readUserCString copies a NUL-terminated string out of t's user address
// space. The kernel's own page table identity-maps all of physical
// memory, so once a user virtual address is translated to a physical
// one it can be read directly.
func readUserCString(t *proc.Task, va uint64) (string, bool) {
	var buf []byte
	for i := 0; i < 256; i++ {
		pa, err := vmm.PhysOf(t.Pagetable, va+uint64(i))
		if err != nil {
			return "", false
		}
		b := *(*byte)(physPtr(uintptr(pa)))
		if b == 0 {
			return string(buf), true
		}
		buf = append(buf, b)
	}
	return "", false
}

func writeUserStatus(t *proc.Task, va uint64, status int) {
	pa, err := vmm.PhysOf(t.Pagetable, va)
	if err != nil {
		return
	}
	*(*int32)(physPtr(uintptr(pa))) = int32(status)
}

// physPtr turns a physical address into a Go pointer, valid only because
// the kernel page table identity-maps it.
func physPtr(pa uintptr) unsafe.Pointer { return unsafe.Pointer(pa) }

// startInitTask loads the built-in /init image as pid 1 and enqueues it,
// the one task the scheduler starts with everything else reachable only
// by fork from it.
func startInitTask() {
	t, err := proc.AllocTask()
	if err != nil {
		kernel.Panic(err)
	}

	image, ok := userland.Lookup(userland.InitPath)
	if !ok {
		kernel.Panic(&kernel.Error{Module: "boot", Message: "missing /init image"})
	}
	stackExecutable, lerr := proc.LoadELF(t, image, &pool)
	if lerr != nil {
		kernel.Panic(lerr)
	}
	if serr := proc.MapUserStack(t, stackExecutable, &pool); serr != nil {
		kernel.Panic(serr)
	}

	t.SetName(userland.InitPath)
	proc.SetInitTask(t)
	sched.Enqueue(t)
}
