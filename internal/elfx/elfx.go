// Package elfx provides ELF loading helpers for C++ ABI metadata recovery.
package elfx

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"cxxrecon/internal/abi"
)

var (
	ErrNotELF    = errors.New("elfx: not an ELF file")
	ErrBadClass  = errors.New("elfx: unsupported ELF class")
	ErrNoSymbols = errors.New("elfx: no symbol table")
	ErrNoSection = errors.New("elfx: section not found")
	ErrNoSegment = errors.New("elfx: no mapping covers address")
)

// File wraps a debug/elf.File with virtual-address reads.
type File struct {
	ELF  *elf.File
	raw  io.ReaderAt
	size int64
	c    io.Closer
}

// Symbol is a named symbol-table entry.
type Symbol struct {
	Name string
	Addr uint64
}

// Open opens an ELF file. Both 32-bit and 64-bit images are accepted.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elfx: stat: %w", err)
	}

	ef, err := NewFile(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	ef.c = f
	return ef, nil
}

// NewFile reads an ELF image from r, which must hold size bytes.
func NewFile(r io.ReaderAt, size int64) (*File, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	if ef.Class != elf.ELFCLASS32 && ef.Class != elf.ELFCLASS64 {
		ef.Close()
		return nil, fmt.Errorf("%w: %v", ErrBadClass, ef.Class)
	}
	return &File{ELF: ef, raw: r, size: size}, nil
}

// Close releases resources.
func (f *File) Close() error {
	err := f.ELF.Close()
	if f.c != nil {
		if cerr := f.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ByteOrder returns the ELF byte order.
func (f *File) ByteOrder() binary.ByteOrder {
	return f.ELF.ByteOrder
}

// PointerSize returns 4 for ELFCLASS32 and 8 for ELFCLASS64.
func (f *File) PointerSize() int {
	if f.ELF.Class == elf.ELFCLASS64 {
		return 8
	}
	return 4
}

// Machine returns the ELF machine.
func (f *File) Machine() elf.Machine { return f.ELF.Machine }

// Interworking reports whether code pointers may carry a Thumb bit.
func (f *File) Interworking() bool {
	return f.ELF.Machine == elf.EM_ARM
}

// Layout returns the word layout for this image under the given mask mode.
func (f *File) Layout(mode abi.MaskMode) abi.Layout {
	return abi.Layout{
		PointerSize: f.PointerSize(),
		Order:       f.ByteOrder(),
		Mask:        mode.Resolve(f.Interworking()),
	}
}

// Symbols returns every named entry of .symtab followed by .dynsym, in table
// order. Entries repeated verbatim in both tables are reported once.
func (f *File) Symbols() ([]Symbol, error) {
	type key struct {
		name string
		addr uint64
	}
	seen := make(map[key]bool)
	var out []Symbol
	found := false

	for _, load := range []func() ([]elf.Symbol, error){f.ELF.Symbols, f.ELF.DynamicSymbols} {
		syms, err := load()
		if err != nil {
			if errors.Is(err, elf.ErrNoSymbols) {
				continue
			}
			return nil, fmt.Errorf("elfx: symbols: %w", err)
		}
		found = true
		for _, s := range syms {
			if s.Name == "" {
				continue
			}
			k := key{s.Name, s.Value}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, Symbol{Name: s.Name, Addr: s.Value})
		}
	}
	if !found {
		return nil, ErrNoSymbols
	}
	return out, nil
}

// Section returns the address range of the named section.
func (f *File) Section(name string) (abi.Range, error) {
	s := f.ELF.Section(name)
	if s == nil {
		return abi.Range{}, fmt.Errorf("%w: %s", ErrNoSection, name)
	}
	return abi.Range{Start: s.Addr, End: s.Addr + s.Size}, nil
}

// VAToFileOffset converts a virtual address to a file offset using PT_LOAD
// segments, falling back to allocated section headers for images without
// program headers.
func (f *File) VAToFileOffset(va uint64) (uint64, error) {
	off, _, err := f.mapVA(va)
	return off, err
}

// mapVA returns the file offset of va and how many file-backed bytes remain
// in the segment or section holding it.
func (f *File) mapVA(va uint64) (off, avail uint64, err error) {
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if va >= p.Vaddr && va < p.Vaddr+p.Filesz {
			return f.checkOffset(va, va-p.Vaddr+p.Off, p.Vaddr+p.Filesz-va)
		}
	}
	for _, s := range f.ELF.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Type == elf.SHT_NOBITS {
			continue
		}
		if va >= s.Addr && va < s.Addr+s.Size {
			return f.checkOffset(va, va-s.Addr+s.Offset, s.Addr+s.Size-va)
		}
	}
	return 0, 0, fmt.Errorf("%w: VA 0x%x", ErrNoSegment, va)
}

func (f *File) checkOffset(va, off, avail uint64) (uint64, uint64, error) {
	if off >= uint64(f.size) {
		return 0, 0, fmt.Errorf("elfx: VA 0x%x maps to offset 0x%x beyond file size 0x%x", va, off, f.size)
	}
	return off, min(avail, uint64(f.size)-off), nil
}

// ReadBytesAtVA reads n bytes starting at the given virtual address. The
// result is clamped to the end of the segment or section holding va.
func (f *File) ReadBytesAtVA(va uint64, n int) ([]byte, error) {
	off, avail, err := f.mapVA(va)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		n = 0
	}
	if uint64(n) > avail {
		n = int(avail)
	}
	buf := make([]byte, n)
	got, err := f.raw.ReadAt(buf, int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("elfx: read at 0x%x: %w", off, err)
	}
	return buf[:got], nil
}
