// Package abi decodes fixed-width Itanium C++ ABI words out of a mapped image.
//
// Every pointer handed out by a Reader has already been passed through the
// image's Mask; callers compare masked values only.
package abi

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Mask clears architecture tag bits from a pointer value.
// On 32-bit ARM bit 0 of a code pointer selects Thumb state.
type Mask uint64

const (
	// MaskNone leaves values untouched.
	MaskNone Mask = ^Mask(0)
	// MaskThumb clears the interworking bit.
	MaskThumb Mask = ^Mask(1)
)

// Apply returns v with the tag bits cleared. Apply is idempotent.
func (m Mask) Apply(v uint64) uint64 { return v & uint64(m) }

func (m Mask) String() string {
	if m == MaskThumb {
		return "thumb"
	}
	if m == MaskNone {
		return "none"
	}
	return fmt.Sprintf("0x%x", uint64(m))
}

// MaskMode selects how the Mask is chosen for an image.
type MaskMode string

const (
	MaskAuto MaskMode = "auto" // decided by the image machine
	MaskOn   MaskMode = "on"
	MaskOff  MaskMode = "off"
)

// ParseMaskMode accepts auto/on/off plus the usual boolean spellings.
func ParseMaskMode(s string) (MaskMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return MaskAuto, nil
	case "on", "true", "1", "thumb":
		return MaskOn, nil
	case "off", "false", "0", "none":
		return MaskOff, nil
	}
	return "", fmt.Errorf("abi: unknown mask mode %q", s)
}

// Resolve turns a mode into a Mask. thumb reports whether the image targets
// an interworking architecture and is only consulted in auto mode.
func (m MaskMode) Resolve(thumb bool) Mask {
	switch m {
	case MaskOn:
		return MaskThumb
	case MaskOff:
		return MaskNone
	}
	if thumb {
		return MaskThumb
	}
	return MaskNone
}

// Range is a half-open virtual address interval [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

// Contains reports whether addr lies in [Start, End).
func (r Range) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

// Size returns the length of the range.
func (r Range) Size() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[0x%x, 0x%x)", r.Start, r.End)
}

// Memory reads bytes by absolute virtual address. Implementations may return
// fewer than n bytes near the end of a mapping.
type Memory interface {
	ReadBytesAtVA(va uint64, n int) ([]byte, error)
}

// Layout describes how words are encoded in an image.
type Layout struct {
	PointerSize int // 4 or 8
	Order       binary.ByteOrder
	Mask        Mask
}

// Reader decodes fixed-width unsigned words. A failed or short read reports
// ok == false, which callers treat as the end of the structure being walked.
type Reader struct {
	mem    Memory
	layout Layout
}

// NewReader wraps mem with the given layout. A nil Order means little endian.
func NewReader(mem Memory, layout Layout) *Reader {
	if layout.Order == nil {
		layout.Order = binary.LittleEndian
	}
	if layout.PointerSize != 8 {
		layout.PointerSize = 4
	}
	if layout.Mask == 0 {
		layout.Mask = MaskNone
	}
	return &Reader{mem: mem, layout: layout}
}

// PointerSize returns the word width in bytes.
func (r *Reader) PointerSize() int { return r.layout.PointerSize }

// Mask returns the pointer mask applied by Pointer.
func (r *Reader) Mask() Mask { return r.layout.Mask }

// Uint32 reads a 32-bit field at va.
func (r *Reader) Uint32(va uint64) (uint32, bool) {
	buf, ok := r.read(va, 4)
	if !ok {
		return 0, false
	}
	return r.layout.Order.Uint32(buf), true
}

// Word reads a pointer-width value at va without masking.
func (r *Reader) Word(va uint64) (uint64, bool) {
	buf, ok := r.read(va, r.layout.PointerSize)
	if !ok {
		return 0, false
	}
	if r.layout.PointerSize == 8 {
		return r.layout.Order.Uint64(buf), true
	}
	return uint64(r.layout.Order.Uint32(buf)), true
}

// Pointer reads a pointer-width value at va and masks it.
func (r *Reader) Pointer(va uint64) (uint64, bool) {
	w, ok := r.Word(va)
	if !ok {
		return 0, false
	}
	return r.layout.Mask.Apply(w), true
}

func (r *Reader) read(va uint64, n int) ([]byte, bool) {
	if va+uint64(n) < va {
		return nil, false
	}
	buf, err := r.mem.ReadBytesAtVA(va, n)
	if err != nil || len(buf) < n {
		return nil, false
	}
	return buf, true
}
