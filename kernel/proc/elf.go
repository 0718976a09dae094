package proc

import (
	"bytes"
	"debug/elf"
	"io"

	"rv64kernel/kernel"
	"rv64kernel/kernel/mem/vmm"
	"rv64kernel/kernel/riscv"
)

var (
	errBadELF    = &kernel.Error{Module: "proc", Message: "malformed ELF image"}
	errWrongArch = &kernel.Error{Module: "proc", Message: "ELF image is not riscv64"}
)

// LoadELF maps every PT_LOAD segment of image into t's address space,
// appending a Section (and matching permission set) per segment, and sets
// t.TrapFrame.Epc to the entry point. A PT_GNU_STACK segment whose flags
// include PF_X marks the user stack executable, matching the original
// loader's handling of that header (used by languages that need
// trampolines on the stack; unused by anything this kernel ships, but the
// bit is honored for fidelity).
//
// On any failure, every section mapped so far is unwound via FreeMemory
// before returning.
func LoadELF(t *Task, image []byte, allocator vmm.FrameAllocator) (stackExecutable bool, err *kernel.Error) {
	f, ferr := elf.NewFile(bytes.NewReader(image))
	if ferr != nil {
		return false, errBadELF
	}
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV {
		return false, errWrongArch
	}

	unwindAll := func() {
		for i, sec := range t.Sections {
			vmm.FreeMemory(t.Pagetable, sec.Start, sec.Size, allocator)
			_ = i
		}
		t.Sections = nil
		t.Perms = nil
	}

	for _, p := range f.Progs {
		switch p.Type {
		case elf.PT_GNU_STACK:
			if p.Flags&elf.PF_X != 0 {
				stackExecutable = true
			}
		case elf.PT_LOAD:
			perm := permFromFlags(p.Flags)
			data := make([]byte, p.Filesz)
			if p.Filesz > 0 {
				if _, rerr := io.ReadFull(p.Open(), data); rerr != nil {
					unwindAll()
					return false, errBadELF
				}
			}

			sec, merr := vmm.MapSectionForUser(t.Pagetable, p.Vaddr, data, p.Memsz, perm, allocator)
			if merr != nil {
				unwindAll()
				return false, merr
			}
			t.Sections = append(t.Sections, sec)
			t.Perms = append(t.Perms, perm)
			t.Sz += sec.Size
		}
	}

	t.TrapFrame.Epc = f.Entry
	return stackExecutable, nil
}

func permFromFlags(flags elf.ProgFlag) riscv.PTEFlag {
	perm := riscv.PteU
	if flags&elf.PF_R != 0 {
		perm |= riscv.PteR
	}
	if flags&elf.PF_W != 0 {
		perm |= riscv.PteW
	}
	if flags&elf.PF_X != 0 {
		perm |= riscv.PteX
	}
	return perm
}
