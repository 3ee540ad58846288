// Package elftest builds small little-endian ELF32 images for tests.
//
// The image carries no program headers; .text and .data.rel.ro are reachable
// through their allocated section headers.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
)

// Section is an allocated section placed at Addr.
type Section struct {
	Addr uint32
	Data []byte
}

// Sym is a symbol table entry.
type Sym struct {
	Name  string
	Value uint32
}

// Image describes the ELF to build.
type Image struct {
	Machine elf.Machine // defaults to EM_ARM
	Text    Section
	Data    Section
	Syms    []Sym
}

const (
	ehdrSize = 52
	shdrSize = 40
	symSize  = 16
)

type shdr struct {
	name, typ, flags, addr, off, size, link, info, align, entsize uint32
}

// Bytes renders the image.
func (img *Image) Bytes() []byte {
	le := binary.LittleEndian
	machine := img.Machine
	if machine == elf.EM_NONE {
		machine = elf.EM_ARM
	}

	var shstr bytes.Buffer
	shstr.WriteByte(0)
	addName := func(b *bytes.Buffer, s string) uint32 {
		off := uint32(b.Len())
		b.WriteString(s)
		b.WriteByte(0)
		return off
	}

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	symtab := make([]byte, symSize) // null symbol
	for _, s := range img.Syms {
		ent := make([]byte, symSize)
		le.PutUint32(ent[0:], addName(&strtab, s.Name))
		le.PutUint32(ent[4:], s.Value)
		le.PutUint32(ent[8:], 4)
		ent[12] = byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_OBJECT)
		ent[13] = 0
		le.PutUint16(ent[14:], img.shndx(s.Value))
		symtab = append(symtab, ent...)
	}

	var body bytes.Buffer
	body.Write(make([]byte, ehdrSize))
	place := func(data []byte) uint32 {
		for body.Len()%4 != 0 {
			body.WriteByte(0)
		}
		off := uint32(body.Len())
		body.Write(data)
		return off
	}

	textOff := place(img.Text.Data)
	dataOff := place(img.Data.Data)
	symOff := place(symtab)
	strOff := place(strtab.Bytes())

	headers := []shdr{
		{},
		{
			name: addName(&shstr, ".text"), typ: uint32(elf.SHT_PROGBITS),
			flags: uint32(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			addr:  img.Text.Addr, off: textOff, size: uint32(len(img.Text.Data)), align: 4,
		},
		{
			name: addName(&shstr, ".data.rel.ro"), typ: uint32(elf.SHT_PROGBITS),
			flags: uint32(elf.SHF_ALLOC | elf.SHF_WRITE),
			addr:  img.Data.Addr, off: dataOff, size: uint32(len(img.Data.Data)), align: 4,
		},
		{
			name: addName(&shstr, ".symtab"), typ: uint32(elf.SHT_SYMTAB),
			off: symOff, size: uint32(len(symtab)), link: 4, info: 1, align: 4, entsize: symSize,
		},
		{
			name: addName(&shstr, ".strtab"), typ: uint32(elf.SHT_STRTAB),
			off: strOff, size: uint32(strtab.Len()), align: 1,
		},
	}
	shstrHdr := shdr{name: addName(&shstr, ".shstrtab"), typ: uint32(elf.SHT_STRTAB), align: 1}
	shstrHdr.off = place(shstr.Bytes())
	shstrHdr.size = uint32(shstr.Len())
	headers = append(headers, shstrHdr)

	for body.Len()%4 != 0 {
		body.WriteByte(0)
	}
	shoff := uint32(body.Len())
	for _, h := range headers {
		var ent [shdrSize]byte
		for i, v := range []uint32{h.name, h.typ, h.flags, h.addr, h.off, h.size, h.link, h.info, h.align, h.entsize} {
			le.PutUint32(ent[i*4:], v)
		}
		body.Write(ent[:])
	}

	out := body.Bytes()
	copy(out[0:], []byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS32), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)})
	le.PutUint16(out[16:], uint16(elf.ET_DYN))
	le.PutUint16(out[18:], uint16(machine))
	le.PutUint32(out[20:], uint32(elf.EV_CURRENT))
	le.PutUint32(out[24:], 0) // entry
	le.PutUint32(out[28:], 0) // phoff
	le.PutUint32(out[32:], shoff)
	le.PutUint32(out[36:], 0) // flags
	le.PutUint16(out[40:], ehdrSize)
	le.PutUint16(out[42:], 0) // phentsize
	le.PutUint16(out[44:], 0) // phnum
	le.PutUint16(out[46:], shdrSize)
	le.PutUint16(out[48:], uint16(len(headers)))
	le.PutUint16(out[50:], uint16(len(headers)-1))
	return out
}

// WriteFile renders the image to path.
func (img *Image) WriteFile(path string) error {
	return os.WriteFile(path, img.Bytes(), 0644)
}

func (img *Image) shndx(v uint32) uint16 {
	in := func(s Section) bool { return v >= s.Addr && v < s.Addr+uint32(len(s.Data)) }
	switch {
	case in(img.Text):
		return 1
	case in(img.Data):
		return 2
	}
	return uint16(elf.SHN_ABS)
}

// Words encodes little-endian 32-bit words.
func Words(ws ...uint32) []byte {
	out := make([]byte, 4*len(ws))
	for i, w := range ws {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}
