package abi

import (
	"encoding/binary"
	"errors"
	"testing"
)

type sliceMem struct {
	base uint64
	data []byte
}

func (m sliceMem) ReadBytesAtVA(va uint64, n int) ([]byte, error) {
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

func TestMaskIdempotent(t *testing.T) {
	for _, m := range []Mask{MaskNone, MaskThumb} {
		for _, v := range []uint64{0, 1, 0x1001, 0xfffffffe, 0xffffffffffffffff} {
			once := m.Apply(v)
			if twice := m.Apply(once); twice != once {
				t.Errorf("%s: Apply(Apply(0x%x)) = 0x%x, want 0x%x", m, v, twice, once)
			}
		}
	}
}

func TestMaskThumbClearsLowBit(t *testing.T) {
	if got := MaskThumb.Apply(0x1235); got != 0x1234 {
		t.Errorf("got 0x%x, want 0x1234", got)
	}
	if got := MaskThumb.Apply(0x1234); got != 0x1234 {
		t.Errorf("got 0x%x, want 0x1234", got)
	}
	if got := MaskNone.Apply(0x1235); got != 0x1235 {
		t.Errorf("got 0x%x, want 0x1235", got)
	}
}

func TestMaskModeResolve(t *testing.T) {
	tests := []struct {
		in    string
		thumb bool
		want  Mask
	}{
		{"auto", true, MaskThumb},
		{"auto", false, MaskNone},
		{"", true, MaskThumb},
		{"on", false, MaskThumb},
		{"true", false, MaskThumb},
		{"off", true, MaskNone},
		{"0", true, MaskNone},
	}
	for _, tt := range tests {
		mode, err := ParseMaskMode(tt.in)
		if err != nil {
			t.Fatalf("ParseMaskMode(%q): %v", tt.in, err)
		}
		if got := mode.Resolve(tt.thumb); got != tt.want {
			t.Errorf("%q thumb=%v: got %s, want %s", tt.in, tt.thumb, got, tt.want)
		}
	}
	if _, err := ParseMaskMode("sometimes"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestRangeContainsHalfOpen(t *testing.T) {
	r := Range{Start: 0x1000, End: 0x2000}
	if !r.Contains(0x1000) {
		t.Error("start should be inside")
	}
	if r.Contains(0x2000) {
		t.Error("end should be outside")
	}
	if r.Contains(0xfff) {
		t.Error("below start should be outside")
	}
	if r.Size() != 0x1000 {
		t.Errorf("size = 0x%x", r.Size())
	}
}

func TestReaderWords32(t *testing.T) {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], 0x1001)
	binary.LittleEndian.PutUint32(data[4:], 0xdeadbeef)
	binary.LittleEndian.PutUint32(data[8:], 7)
	r := NewReader(sliceMem{base: 0x400, data: data}, Layout{PointerSize: 4, Mask: MaskThumb})

	if p, ok := r.Pointer(0x400); !ok || p != 0x1000 {
		t.Errorf("Pointer = 0x%x,%v, want 0x1000,true", p, ok)
	}
	if w, ok := r.Word(0x400); !ok || w != 0x1001 {
		t.Errorf("Word = 0x%x,%v, want 0x1001,true", w, ok)
	}
	if v, ok := r.Uint32(0x408); !ok || v != 7 {
		t.Errorf("Uint32 = %d,%v, want 7,true", v, ok)
	}
}

func TestReaderWords64BigEndian(t *testing.T) {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, 0x0000_7fff_0000_1000)
	r := NewReader(sliceMem{base: 0, data: data}, Layout{PointerSize: 8, Order: binary.BigEndian})
	if w, ok := r.Word(0); !ok || w != 0x7fff00001000 {
		t.Errorf("Word = 0x%x,%v", w, ok)
	}
}

func TestReaderShortReadEndsStructure(t *testing.T) {
	r := NewReader(sliceMem{base: 0x100, data: make([]byte, 6)}, Layout{PointerSize: 4})
	if _, ok := r.Word(0x100); !ok {
		t.Error("full word should decode")
	}
	if _, ok := r.Word(0x104); ok {
		t.Error("truncated word should not decode")
	}
	if _, ok := r.Word(0x200); ok {
		t.Error("unmapped word should not decode")
	}
	if _, ok := r.Word(^uint64(0) - 1); ok {
		t.Error("wrapping read should not decode")
	}
}
