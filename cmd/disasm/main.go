// Command disasm dumps a raw riscv64 kernel image as assembly, a quick
// way to sanity-check what a build actually produced before booting it
// under QEMU.
package main

import (
	"fmt"
	"log"
	"os"

	"golang.org/x/arch/riscv64asm"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Printf("%s <image>\n", os.Args[0])
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}

	for addr := 0; addr+4 <= len(data); {
		inst, derr := riscv64asm.Decode(data[addr:])
		if derr != nil {
			fmt.Printf("%8x:\t%08x\t(decode error: %v)\n", addr, le32(data[addr:]), derr)
			addr += 4
			continue
		}
		fmt.Printf("%8x:\t%08x\t%s\n", addr, le32(data[addr:]), inst.String())
		addr += 4 // this kernel targets the base integer ISA only, no compressed instructions
	}
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
