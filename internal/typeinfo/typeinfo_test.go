package typeinfo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cxxrecon/internal/abi"
	"cxxrecon/internal/symtab"
)

// image is a flat little piece of address space for building typeinfo objects.
type image struct {
	base  uint64
	data  []byte
	ps    int
	order binary.ByteOrder
}

func newImage(base uint64, size, ps int, order binary.ByteOrder) *image {
	return &image{base: base, data: make([]byte, size), ps: ps, order: order}
}

func (m *image) ReadBytesAtVA(va uint64, n int) ([]byte, error) {
	if va < m.base || va >= m.base+uint64(len(m.data)) {
		return nil, errors.New("unmapped")
	}
	off := va - m.base
	end := off + uint64(n)
	if end > uint64(len(m.data)) {
		end = uint64(len(m.data))
	}
	return m.data[off:end], nil
}

func (m *image) word(va, v uint64) {
	off := va - m.base
	if m.ps == 8 {
		m.order.PutUint64(m.data[off:], v)
		return
	}
	m.order.PutUint32(m.data[off:], uint32(v))
}

func (m *image) u32(va uint64, v uint32) {
	m.order.PutUint32(m.data[va-m.base:], v)
}

// vmi writes a flags/count/pairs typeinfo at addr.
func (m *image) vmi(addr uint64, count uint32, ptrs ...uint64) {
	ps := uint64(m.ps)
	m.word(addr, 0xabc0)
	m.word(addr+ps, 0xabc4)
	m.u32(addr+2*ps, 0)
	m.u32(addr+2*ps+4, count)
	cur := addr + 2*ps + 8
	for _, p := range ptrs {
		m.word(cur, p)
		m.word(cur+ps, 0x2)
		cur += 2 * ps
	}
}

// si writes a pointer chain typeinfo at addr.
func (m *image) si(addr uint64, ptrs ...uint64) {
	ps := uint64(m.ps)
	m.word(addr, 0xabc0)
	m.word(addr+ps, 0xabc4)
	for i, p := range ptrs {
		m.word(addr+2*ps+uint64(i)*ps, p)
	}
}

const (
	dataStart = 0x1000
	dataEnd   = 0x3000
	outside   = 0xdead0000
)

// fixture places 128 base typeinfos B0..B127 at 0x1000 + 16*i.
func fixture(ps int, order binary.ByteOrder, mask abi.Mask) (*image, []symtab.Record, *Extractor) {
	m := newImage(dataStart, dataEnd-dataStart, ps, order)
	var recs []symtab.Record
	for i := 0; i < MaxBases; i++ {
		recs = append(recs, symtab.Record{
			Demangled: fmt.Sprintf("typeinfo for B%d", i),
			Addr:      baseAddr(i),
		})
	}
	r := abi.NewReader(m, abi.Layout{PointerSize: ps, Order: order, Mask: mask})
	e := &Extractor{
		R:     r,
		Data:  abi.Range{Start: dataStart, End: dataEnd},
		Names: NewNameTable(recs, mask),
	}
	return m, recs, e
}

func baseAddr(i int) uint64 { return dataStart + uint64(i)*16 }

func baseNames(n int) []string {
	var out []string
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("B%d", i))
	}
	return out
}

func TestMultiBaseRecoversAllCounts(t *testing.T) {
	for _, ps := range []int{4, 8} {
		for n := 0; n < MaxBases; n++ {
			m, _, e := fixture(ps, binary.LittleEndian, abi.MaskNone)
			var ptrs []uint64
			for i := 0; i < n; i++ {
				ptrs = append(ptrs, baseAddr(i))
			}
			m.vmi(0x2000, uint32(n), ptrs...)
			got := e.Bases(0x2000)
			if diff := cmp.Diff(baseNames(n), got); diff != "" {
				t.Fatalf("ps=%d n=%d (-want +got):\n%s", ps, n, diff)
			}
		}
	}
}

func TestMultiBaseImplausibleCount(t *testing.T) {
	for _, count := range []uint32{MaxBases, 200, 0xffffffff} {
		m, _, e := fixture(4, binary.LittleEndian, abi.MaskNone)
		m.vmi(0x2000, count, baseAddr(0), baseAddr(1))
		if got := e.Bases(0x2000); len(got) != 0 {
			t.Errorf("count %d: got %v, want no bases", count, got)
		}
	}
}

func TestMultiBaseStopsOnFirstBadPointer(t *testing.T) {
	tests := []struct {
		name string
		bad  uint64
	}{
		{"out of range", outside},
		{"in range but unknown", dataStart + 8},
		{"end is exclusive", dataEnd},
	}
	for _, tt := range tests {
		m, _, e := fixture(4, binary.LittleEndian, abi.MaskNone)
		m.vmi(0x2000, 3, baseAddr(0), tt.bad, baseAddr(2))
		if diff := cmp.Diff([]string{"B0"}, e.Bases(0x2000)); diff != "" {
			t.Errorf("%s (-want +got):\n%s", tt.name, diff)
		}
	}
}

func TestChainDepth(t *testing.T) {
	for _, ps := range []int{4, 8} {
		for d := 0; d <= 20; d++ {
			m, _, e := fixture(ps, binary.LittleEndian, abi.MaskNone)
			var ptrs []uint64
			for i := 0; i < d; i++ {
				ptrs = append(ptrs, baseAddr(i))
			}
			ptrs = append(ptrs, outside, baseAddr(40))
			m.si(0x2800, ptrs...)
			got := e.Bases(0x2800)
			if diff := cmp.Diff(baseNames(d), got); diff != "" {
				t.Fatalf("ps=%d depth=%d (-want +got):\n%s", ps, d, diff)
			}
		}
	}
}

func TestChainDeeperThanBaseCountLimit(t *testing.T) {
	for _, ps := range []int{4, 8} {
		m, _, e := fixture(ps, binary.LittleEndian, abi.MaskNone)
		var want []string
		var addrs []uint64
		for i := 0; i < 200; i++ {
			addrs = append(addrs, baseAddr(i%MaxBases))
			want = append(want, fmt.Sprintf("B%d", i%MaxBases))
		}
		m.si(0x2000, append(addrs, outside)...)
		if diff := cmp.Diff(want, e.Bases(0x2000)); diff != "" {
			t.Errorf("ps=%d (-want +got):\n%s", ps, diff)
		}
	}
}

func TestChainBigEndian64LowAddress(t *testing.T) {
	m, _, e := fixture(8, binary.BigEndian, abi.MaskNone)
	m.si(0x2800, baseAddr(5), outside)
	if diff := cmp.Diff([]string{"B5"}, e.Bases(0x2800)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	m.vmi(0x2000, 2, baseAddr(1), baseAddr(2))
	if diff := cmp.Diff([]string{"B1", "B2"}, e.Bases(0x2000)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestThumbMaskedPointersResolve(t *testing.T) {
	m, _, e := fixture(4, binary.LittleEndian, abi.MaskThumb)
	m.vmi(0x2000, 2, baseAddr(3)|1, baseAddr(4))
	if diff := cmp.Diff([]string{"B3", "B4"}, e.Bases(0x2000)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	a, okA := e.Names.Lookup(baseAddr(7) | 1)
	b, okB := e.Names.Lookup(baseAddr(7))
	if !okA || !okB || a != b {
		t.Errorf("masked lookups differ: %q/%v vs %q/%v", a, okA, b, okB)
	}
}

func TestTruncatedObject(t *testing.T) {
	_, _, e := fixture(4, binary.LittleEndian, abi.MaskNone)
	if got := e.Bases(dataEnd - 4); got != nil {
		t.Errorf("got %v, want nil", got)
	}
	if got := e.Bases(outside); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestDerivedExample(t *testing.T) {
	m := newImage(dataStart, dataEnd-dataStart, 4, binary.LittleEndian)
	recs := []symtab.Record{
		{Demangled: "typeinfo for Base1", Addr: 0x1000},
		{Demangled: "typeinfo for Base2", Addr: 0x1500},
		{Demangled: "typeinfo for Derived", Addr: 0x2000},
		{Demangled: "vtable for Derived", Addr: 0x2400},
	}
	m.si(0x1000, 0)
	m.si(0x1500, 0)
	m.vmi(0x2000, 2, 0x1000, 0x1500)
	e := &Extractor{
		R:     abi.NewReader(m, abi.Layout{PointerSize: 4}),
		Data:  abi.Range{Start: dataStart, End: dataEnd},
		Names: NewNameTable(recs, abi.MaskNone),
	}
	var lines []string
	for _, n := range e.Extract(recs) {
		lines = append(lines, n.Line())
	}
	want := []string{"Base1", "Base2", "Derived|Base1|Base2"}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestNameTableFirstWins(t *testing.T) {
	nt := NewNameTable([]symtab.Record{
		{Demangled: "typeinfo for A", Addr: 0x10},
		{Demangled: "typeinfo for B", Addr: 0x10},
		{Demangled: "typeinfo name for C", Addr: 0x20},
	}, abi.MaskNone)
	if nt.Len() != 1 {
		t.Fatalf("got %d entries, want 1", nt.Len())
	}
	if name, _ := nt.Lookup(0x10); name != "A" {
		t.Errorf("got %q, want A", name)
	}
}

func TestParseLine(t *testing.T) {
	n, err := ParseLine("ns::D|ns::B1|B2")
	if err != nil {
		t.Fatal(err)
	}
	if n.Name != "ns::D" || !cmp.Equal(n.Bases, []string{"ns::B1", "B2"}) {
		t.Errorf("got %+v", n)
	}
	if n.Line() != "ns::D|ns::B1|B2" {
		t.Errorf("Line = %q", n.Line())
	}
	n, err = ParseLine("Leaf")
	if err != nil || n.Name != "Leaf" || n.Bases != nil {
		t.Errorf("got %+v, %v", n, err)
	}
	if _, err := ParseLine("|B"); !errors.Is(err, ErrBadLine) {
		t.Errorf("got %v, want ErrBadLine", err)
	}
}

func FuzzBases(f *testing.F) {
	f.Add(make([]byte, 64), uint16(0))
	seed := newImage(dataStart, 64, 4, binary.LittleEndian)
	seed.vmi(dataStart, 2, dataStart, dataStart)
	f.Add(seed.data, uint16(0))

	f.Fuzz(func(t *testing.T, data []byte, off uint16) {
		m := &image{base: dataStart, data: data, ps: 4, order: binary.LittleEndian}
		recs := []symtab.Record{{Demangled: "typeinfo for T", Addr: dataStart}}
		e := &Extractor{
			R:     abi.NewReader(m, abi.Layout{PointerSize: 4, Mask: abi.MaskThumb}),
			Data:  abi.Range{Start: dataStart, End: dataStart + uint64(len(data))},
			Names: NewNameTable(recs, abi.MaskThumb),
		}
		got := e.Bases(dataStart + uint64(off))
		if len(got) > len(data)/4 {
			t.Fatalf("walked %d bases from %d bytes", len(got), len(data))
		}
	})
}
