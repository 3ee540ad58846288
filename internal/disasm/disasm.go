// Package disasm decodes the first instructions at code addresses such as
// vtable slots, for AArch64, ARM (A32) and x86 images.
package disasm

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// Arch selects the instruction decoder.
type Arch int

const (
	ArchUnknown Arch = iota
	ArchARM64
	ArchARM   // A32
	ArchThumb // not decoded by x/arch; reported as raw words
	ArchX86
	ArchX86_64
)

func (a Arch) String() string {
	switch a {
	case ArchARM64:
		return "arm64"
	case ArchARM:
		return "arm"
	case ArchThumb:
		return "thumb"
	case ArchX86:
		return "x86"
	case ArchX86_64:
		return "x86_64"
	}
	return "unknown"
}

// ArchFor maps an ELF machine to a decoder. thumb selects Thumb state for
// 32-bit ARM images whose code pointers carry the interworking bit.
func ArchFor(m elf.Machine, thumb bool) Arch {
	switch m {
	case elf.EM_AARCH64:
		return ArchARM64
	case elf.EM_ARM:
		if thumb {
			return ArchThumb
		}
		return ArchARM
	case elf.EM_386:
		return ArchX86
	case elf.EM_X86_64:
		return ArchX86_64
	}
	return ArchUnknown
}

// Inst is a decoded instruction with address and raw bytes.
type Inst struct {
	Addr uint64
	Raw  []byte
	Size int
	Text string // full disassembly, or ".word 0x..." when undecodable
}

// SymbolLookup resolves an address to a symbolic name. Returns ("", false) if unknown.
type SymbolLookup func(addr uint64) (name string, ok bool)

// Options controls disassembly behavior.
type Options struct {
	Arch     Arch
	BaseAddr uint64 // VA of the first byte in data
	MaxSteps int    // maximum instructions to decode; 0 = 16
}

const defaultMaxSteps = 16

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// DecodeOne decodes a single instruction at the start of data.
// ok is false when the architecture is unsupported or the bytes do not decode.
func DecodeOne(arch Arch, data []byte, addr uint64) (Inst, bool) {
	switch arch {
	case ArchARM64:
		if len(data) < 4 {
			return Inst{}, false
		}
		in, err := arm64asm.Decode(data[:4])
		if err != nil {
			return Inst{}, false
		}
		return Inst{Addr: addr, Raw: data[:4], Size: 4, Text: in.String()}, true
	case ArchARM:
		in, err := armasm.Decode(data, armasm.ModeARM)
		if err != nil || in.Len == 0 {
			return Inst{}, false
		}
		return Inst{Addr: addr, Raw: data[:in.Len], Size: in.Len, Text: in.String()}, true
	case ArchX86, ArchX86_64:
		mode := 32
		if arch == ArchX86_64 {
			mode = 64
		}
		in, err := x86asm.Decode(data, mode)
		if err != nil || in.Len == 0 {
			return Inst{}, false
		}
		return Inst{Addr: addr, Raw: data[:in.Len], Size: in.Len, Text: in.String()}, true
	}
	return Inst{}, false
}

// Disassemble decodes up to MaxSteps instructions from data. Undecodable
// 4-byte units (or 2-byte units for Thumb) are emitted as .word/.short.
func Disassemble(data []byte, opts Options) []Inst {
	maxSteps := opts.effectiveMax()
	var result []Inst
	off := 0
	for len(result) < maxSteps && off < len(data) {
		addr := opts.BaseAddr + uint64(off)
		if in, ok := DecodeOne(opts.Arch, data[off:], addr); ok {
			result = append(result, in)
			off += in.Size
			continue
		}
		unit := 4
		if opts.Arch == ArchThumb {
			unit = 2
		}
		if off+unit > len(data) {
			break
		}
		raw := data[off : off+unit]
		var text string
		if unit == 2 {
			text = fmt.Sprintf(".short 0x%04x", binary.LittleEndian.Uint16(raw))
		} else {
			text = fmt.Sprintf(".word 0x%08x", binary.LittleEndian.Uint32(raw))
		}
		result = append(result, Inst{Addr: addr, Raw: raw, Size: unit, Text: text})
		off += unit
	}
	return result
}

// Format renders a slice of instructions as stable text output.
// Each line: <addr>  <hex bytes>  <disasm>  ; <symbol>
func Format(insts []Inst, lookup SymbolLookup) string {
	var b strings.Builder
	for _, inst := range insts {
		fmt.Fprintf(&b, "0x%08x  ", inst.Addr)
		for i, c := range inst.Raw {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%02x", c)
		}
		b.WriteString("  ")
		b.WriteString(inst.Text)
		if lookup != nil {
			if name, ok := lookup(inst.Addr); ok {
				fmt.Fprintf(&b, "  ; <%s>", name)
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
