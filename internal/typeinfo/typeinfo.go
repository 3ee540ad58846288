// Package typeinfo recovers base-class lists from Itanium typeinfo objects.
//
// Layout after the two ABI-reserved words (vtable pointer, name pointer):
//
//	__si_class_type_info   base pointer
//	__vmi_class_type_info  uint32 flags, uint32 base count,
//	                       then (base pointer, offset/flags word) pairs
//
// Only pointers that land inside the data range and name a known typeinfo
// are accepted; the first pointer that does not ends the walk.
package typeinfo

import (
	"errors"
	"fmt"
	"strings"

	"cxxrecon/internal/abi"
	"cxxrecon/internal/symtab"
)

// MaxBases bounds the base count of the multi-base encoding. Larger counts
// are taken as corruption and yield no bases.
const MaxBases = 128

var ErrBadLine = errors.New("typeinfo: malformed typeinfo line")

// Node is one type and its direct bases in discovery order.
type Node struct {
	Name  string
	Addr  uint64
	Bases []string
}

// Line renders "Name|Base1|Base2".
func (n Node) Line() string {
	if len(n.Bases) == 0 {
		return n.Name
	}
	return n.Name + "|" + strings.Join(n.Bases, "|")
}

// ParseLine reads a Line back. The address is not part of the listing.
func ParseLine(line string) (Node, error) {
	parts := strings.Split(line, "|")
	if parts[0] == "" {
		return Node{}, fmt.Errorf("%w: %q", ErrBadLine, line)
	}
	n := Node{Name: parts[0]}
	if len(parts) > 1 {
		n.Bases = parts[1:]
	}
	return n, nil
}

// NameTable maps masked typeinfo addresses to type names.
type NameTable struct {
	mask  abi.Mask
	names map[uint64]string
}

// NewNameTable indexes every "typeinfo for X" record. When two records share
// an address the first one in listing order wins.
func NewNameTable(recs []symtab.Record, mask abi.Mask) *NameTable {
	t := &NameTable{mask: mask, names: make(map[uint64]string)}
	for _, r := range symtab.WithPrefix(recs, symtab.TypeinfoPrefix) {
		addr := mask.Apply(r.Addr)
		if _, dup := t.names[addr]; dup {
			continue
		}
		t.names[addr] = r.Subject(symtab.TypeinfoPrefix)
	}
	return t
}

// Lookup resolves ptr after masking it.
func (t *NameTable) Lookup(ptr uint64) (string, bool) {
	name, ok := t.names[t.mask.Apply(ptr)]
	return name, ok
}

// Len returns the number of indexed typeinfos.
func (t *NameTable) Len() int { return len(t.names) }

// Extractor decodes typeinfo objects.
type Extractor struct {
	R     *abi.Reader
	Data  abi.Range
	Names *NameTable
}

// Extract decodes every "typeinfo for" record, in record order.
func (e *Extractor) Extract(recs []symtab.Record) []Node {
	tis := symtab.WithPrefix(recs, symtab.TypeinfoPrefix)
	nodes := make([]Node, 0, len(tis))
	for _, r := range tis {
		nodes = append(nodes, Node{
			Name:  r.Subject(symtab.TypeinfoPrefix),
			Addr:  r.Addr,
			Bases: e.Bases(r.Addr),
		})
	}
	return nodes
}

// Bases decodes the base list of the typeinfo object at addr.
func (e *Extractor) Bases(addr uint64) []string {
	ps := uint64(e.R.PointerSize())
	at := e.R.Mask().Apply(addr) + 2*ps

	flags, ok := e.R.Uint32(at)
	if !ok {
		return nil
	}
	// On 32-bit images the flags field is the whole word. On 64-bit images a
	// base pointer whose first four bytes are zero (big endian, low VA)
	// still resolves and is decoded as a chain.
	if e.R.Mask().Apply(uint64(flags)) == 0 {
		if _, ok := e.resolve(at); !ok {
			return e.multi(at)
		}
	}
	return e.chain(at)
}

// multi decodes the flags/count/pairs encoding starting at the flags field.
func (e *Extractor) multi(at uint64) []string {
	ps := uint64(e.R.PointerSize())
	count, ok := e.R.Uint32(at + 4)
	if !ok || count >= MaxBases {
		return nil
	}
	var bases []string
	cur := at + 8
	for i := uint32(0); i < count; i++ {
		name, ok := e.resolve(cur)
		if !ok {
			break
		}
		bases = append(bases, name)
		cur += 2 * ps
	}
	return bases
}

// chain reads consecutive base pointers until one fails to resolve. For the
// canonical single-base record this yields the one base plus whatever
// resolvable pointers happen to follow it. The walk is bounded only by the
// readable image.
func (e *Extractor) chain(at uint64) []string {
	ps := uint64(e.R.PointerSize())
	var bases []string
	for cur := at; ; cur += ps {
		name, ok := e.resolve(cur)
		if !ok {
			break
		}
		bases = append(bases, name)
	}
	return bases
}

func (e *Extractor) resolve(va uint64) (string, bool) {
	ptr, ok := e.R.Pointer(va)
	if !ok || !e.Data.Contains(ptr) {
		return "", false
	}
	return e.Names.Lookup(ptr)
}
