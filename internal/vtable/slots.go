package vtable

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"cxxrecon/internal/abi"
	"cxxrecon/internal/disasm"
	"cxxrecon/internal/symtab"
)

// probe is how many bytes are fetched per slot and instruction.
const probe = 16

// SymbolIndex maps masked code addresses to every symbol defined there.
type SymbolIndex struct {
	mask  abi.Mask
	names map[uint64][]string
}

// NewSymbolIndex indexes recs by masked address. Names at one address keep
// listing order.
func NewSymbolIndex(recs []symtab.Record, mask abi.Mask) *SymbolIndex {
	idx := &SymbolIndex{mask: mask, names: make(map[uint64][]string)}
	for _, r := range recs {
		a := mask.Apply(r.Addr)
		idx.names[a] = append(idx.names[a], r.Demangled)
	}
	return idx
}

// Names returns the symbols at addr after masking.
func (s *SymbolIndex) Names(addr uint64) []string {
	return s.names[s.mask.Apply(addr)]
}

// Lookup adapts the index to disasm.SymbolLookup, reporting the first name.
func (s *SymbolIndex) Lookup(addr uint64) (string, bool) {
	n := s.Names(addr)
	if len(n) == 0 {
		return "", false
	}
	return n[0], true
}

// Slot is one annotated vtable entry.
type Slot struct {
	Index   int
	Addr    uint64
	Symbols []string
	Inst    string // first decoded instruction, empty if unreadable
	Tail    uint64 // jump destination when the entry is a trampoline
	HasTail bool
	Body    []disasm.Inst // instructions listed below the entry when Insns > 1
}

// Lister annotates vtable slots with symbols and their first instruction.
type Lister struct {
	Mem     abi.Memory
	Arch    disasm.Arch
	Insns   int // instructions decoded per slot; 0 means 1
	Symbols *SymbolIndex
}

// List annotates every slot of v in order.
func (l *Lister) List(v VTable) []Slot {
	n := max(l.Insns, 1)
	out := make([]Slot, 0, len(v.Slots))
	for i, a := range v.Slots {
		s := Slot{Index: i, Addr: a, Symbols: l.Symbols.Names(a)}
		if data, err := l.Mem.ReadBytesAtVA(a, n*probe); err == nil && len(data) > 0 {
			insts := disasm.Disassemble(data, disasm.Options{Arch: l.Arch, BaseAddr: a, MaxSteps: n})
			if len(insts) > 0 {
				s.Inst = insts[0].Text
			}
			if n > 1 {
				s.Body = insts
			}
			s.Tail, s.HasTail = disasm.TailTarget(l.Arch, data, a)
		}
		out = append(out, s)
	}
	return out
}

// WriteSlots renders the listing:
//
//	# vtable for Derived @ 0x2400
//	[0] 0x00001234  Derived::f()  push {r4, lr}
//	[1] 0x00001240  ?  b #0x1300  -> Base::g()
//
// A slot with a Body is followed by its instructions, indented.
func WriteSlots(w io.Writer, v VTable, slots []Slot, syms *SymbolIndex) error {
	var lookup disasm.SymbolLookup
	if syms != nil {
		lookup = syms.Lookup
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# vtable for %s @ 0x%x\n", v.Class, v.Addr)
	for _, s := range slots {
		name := "?"
		if len(s.Symbols) > 0 {
			names := append([]string(nil), s.Symbols...)
			sort.Strings(names)
			name = strings.Join(names, ", ")
		}
		fmt.Fprintf(&b, "[%d] 0x%08x  %s", s.Index, s.Addr, name)
		if s.Inst != "" {
			b.WriteString("  ")
			b.WriteString(s.Inst)
		}
		if s.HasTail {
			target := fmt.Sprintf("0x%x", s.Tail)
			if syms != nil {
				if n, ok := syms.Lookup(s.Tail); ok {
					target = n
				}
			}
			b.WriteString("  -> ")
			b.WriteString(target)
		}
		b.WriteByte('\n')
		if len(s.Body) > 0 {
			for _, line := range strings.SplitAfter(disasm.Format(s.Body, lookup), "\n") {
				if line != "" {
					b.WriteString("    ")
					b.WriteString(line)
				}
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
