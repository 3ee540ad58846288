package vtable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cxxrecon/internal/abi"
	"cxxrecon/internal/disasm"
	"cxxrecon/internal/symtab"
)

const (
	codeStart = 0x1000
	codeEnd   = 0x2000
	vtAddr    = 0x3000
	memEnd    = 0x4000
)

type flat struct {
	data []byte
}

func newFlat() *flat { return &flat{data: make([]byte, memEnd-codeStart)} }

func (m *flat) ReadBytesAtVA(va uint64, n int) ([]byte, error) {
	if va < codeStart || va >= memEnd {
		return nil, errors.New("unmapped")
	}
	off := va - codeStart
	end := off + uint64(n)
	if end > uint64(len(m.data)) {
		end = uint64(len(m.data))
	}
	return m.data[off:end], nil
}

func (m *flat) put32(va uint64, v uint32) {
	binary.LittleEndian.PutUint32(m.data[va-codeStart:], v)
}

// vtable32 writes offset-to-top, typeinfo and the given slots at addr.
func (m *flat) vtable32(addr uint64, slots ...uint32) {
	m.put32(addr, 0)
	m.put32(addr+4, 0x3800)
	for i, s := range slots {
		m.put32(addr+8+uint64(i)*4, s)
	}
}

func extractor(m *flat, mask abi.Mask) *Extractor {
	return &Extractor{
		R:    abi.NewReader(m, abi.Layout{PointerSize: 4, Mask: mask}),
		Code: abi.Range{Start: codeStart, End: codeEnd},
	}
}

func TestSlotsStopAtOutOfRange(t *testing.T) {
	for k := 0; k <= 12; k++ {
		m := newFlat()
		var slots []uint32
		var want []uint64
		for i := 0; i < k; i++ {
			a := uint32(codeStart + 0x10*i)
			slots = append(slots, a)
			want = append(want, uint64(a))
		}
		slots = append(slots, codeEnd, codeStart+0x20)
		m.vtable32(vtAddr, slots...)
		got := extractor(m, abi.MaskNone).Slots(vtAddr)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("k=%d (-want +got):\n%s", k, diff)
		}
	}
}

func TestSlotsTruncated(t *testing.T) {
	m := newFlat()
	e := extractor(m, abi.MaskNone)
	last := uint64(memEnd - 12)
	m.put32(last+8, codeStart+4)
	if diff := cmp.Diff([]uint64{codeStart + 4}, e.Slots(last)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if got := e.Slots(0x9000); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestSlotsMasked(t *testing.T) {
	m := newFlat()
	m.vtable32(vtAddr, codeStart+0x11, codeStart+0x20)
	got := extractor(m, abi.MaskThumb).Slots(vtAddr | 1)
	if diff := cmp.Diff([]uint64{codeStart + 0x10, codeStart + 0x20}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestSlotsMaxSlots(t *testing.T) {
	m := newFlat()
	m.vtable32(vtAddr, codeStart, codeStart+4, codeStart+8, codeStart+12)
	e := extractor(m, abi.MaskNone)
	e.MaxSlots = 2
	if got := e.Slots(vtAddr); len(got) != 2 {
		t.Errorf("got %d slots, want 2", len(got))
	}
}

func TestExtract(t *testing.T) {
	m := newFlat()
	m.vtable32(vtAddr, codeStart+0x40)
	recs := []symtab.Record{
		{Demangled: "Derived::f()", Addr: codeStart + 0x40},
		{Demangled: "vtable for Derived", Addr: vtAddr},
	}
	got := extractor(m, abi.MaskNone).Extract(recs)
	want := []VTable{{Class: "Derived", Addr: vtAddr, Slots: []uint64{codeStart + 0x40}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestSetAndIndex(t *testing.T) {
	v := VTable{Slots: []uint64{0x10, 0x20, 0x10}}
	s := v.Set()
	if s.Cardinality() != 2 || !s.Contains(uint64(0x20)) || s.Contains(uint64(0x30)) {
		t.Errorf("set = %v", s)
	}
	if v.Index(0x10) != 0 || v.Index(0x20) != 1 || v.Index(0x30) != -1 {
		t.Errorf("unexpected indexes")
	}
}

func TestWriteRead(t *testing.T) {
	slots := []uint64{0x1000, 0xdeadbeef, 0x7fff00001234}
	var buf bytes.Buffer
	if err := Write(&buf, slots); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "0x1000\n0xdeadbeef\n0x7fff00001234\n" {
		t.Errorf("got %q", buf.String())
	}
	got, err := Read(strings.NewReader(buf.String() + "\n"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(slots, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if _, err := Read(strings.NewReader("0x10\nzz\n")); !errors.Is(err, ErrBadEntry) {
		t.Errorf("got %v, want ErrBadEntry", err)
	}
}

func TestListAndWriteSlots(t *testing.T) {
	m := newFlat()
	// slot 0: nop; ret   slot 1: jmp -> slot 0
	copy(m.data[0x10:], []byte{0x90, 0xc3})
	copy(m.data[0x20:], []byte{0xeb, 0xee})
	recs := []symtab.Record{
		{Demangled: "Derived::f()", Addr: codeStart + 0x10},
		{Demangled: "Base::f()", Addr: codeStart + 0x10},
	}
	syms := NewSymbolIndex(recs, abi.MaskNone)
	l := &Lister{Mem: m, Arch: disasm.ArchX86, Symbols: syms}
	v := VTable{Class: "Derived", Addr: vtAddr, Slots: []uint64{codeStart + 0x10, codeStart + 0x20}}
	got := l.List(v)
	if len(got) != 2 {
		t.Fatalf("got %d slots, want 2", len(got))
	}
	if got[0].HasTail || !got[1].HasTail || got[1].Tail != codeStart+0x10 {
		t.Errorf("tails: %+v", got)
	}

	var buf bytes.Buffer
	if err := WriteSlots(&buf, v, got, syms); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if lines[0] != "# vtable for Derived @ 0x3000" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "[0] 0x00001010  Base::f(), Derived::f()  ") {
		t.Errorf("slot 0 = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "[1] 0x00001020  ?  ") || !strings.HasSuffix(lines[2], "-> Derived::f()") {
		t.Errorf("slot 1 = %q", lines[2])
	}
}

func TestWriteSlotsWithBody(t *testing.T) {
	m := newFlat()
	copy(m.data[0x10:], []byte{0x90, 0xc3})
	copy(m.data[0x20:], []byte{0xeb, 0xee})
	syms := NewSymbolIndex([]symtab.Record{{Demangled: "Derived::f()", Addr: codeStart + 0x10}}, abi.MaskNone)
	l := &Lister{Mem: m, Arch: disasm.ArchX86, Insns: 2, Symbols: syms}
	v := VTable{Class: "Derived", Addr: vtAddr, Slots: []uint64{codeStart + 0x10, codeStart + 0x20}}
	got := l.List(v)
	if len(got[0].Body) != 2 || len(got[1].Body) != 2 {
		t.Fatalf("bodies: %+v", got)
	}
	if !got[1].HasTail || got[1].Tail != codeStart+0x10 {
		t.Errorf("slot 1 tail = %+v", got[1])
	}

	var buf bytes.Buffer
	if err := WriteSlots(&buf, v, got, syms); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 7 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[2], "    0x00001010  90  ") || !strings.HasSuffix(lines[2], "; <Derived::f()>") {
		t.Errorf("body line = %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "    0x00001011  c3  ") || strings.Contains(lines[3], ";") {
		t.Errorf("body line = %q", lines[3])
	}
	if !strings.HasPrefix(lines[4], "[1] 0x00001020  ?  ") || !strings.HasPrefix(lines[5], "    0x00001020  eb ee  ") {
		t.Errorf("slot 1:\n%s\n%s", lines[4], lines[5])
	}
}
