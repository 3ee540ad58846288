// Package vtable walks Itanium vtables and reads/writes the per-class slot
// listing.
package vtable

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set"

	"cxxrecon/internal/abi"
	"cxxrecon/internal/symtab"
)

// DefaultMaxSlots caps a single vtable walk.
const DefaultMaxSlots = 4096

var ErrBadEntry = errors.New("vtable: malformed entry")

// VTable is the primary virtual-function array of one class.
type VTable struct {
	Class string
	Addr  uint64
	Slots []uint64
}

// Extractor walks vtables inside the code range.
type Extractor struct {
	R        *abi.Reader
	Code     abi.Range
	MaxSlots int // 0 = DefaultMaxSlots
}

func (e *Extractor) maxSlots() int {
	if e.MaxSlots > 0 {
		return e.MaxSlots
	}
	return DefaultMaxSlots
}

// Extract walks every "vtable for" record, in record order.
func (e *Extractor) Extract(recs []symtab.Record) []VTable {
	vts := symtab.WithPrefix(recs, symtab.VtablePrefix)
	out := make([]VTable, 0, len(vts))
	for _, r := range vts {
		out = append(out, VTable{
			Class: r.Subject(symtab.VtablePrefix),
			Addr:  r.Addr,
			Slots: e.Slots(r.Addr),
		})
	}
	return out
}

// Slots reads the function pointers of the vtable at addr, skipping the
// offset-to-top and typeinfo words. The walk stops at the first entry outside
// the code range or at a short read.
func (e *Extractor) Slots(addr uint64) []uint64 {
	ps := uint64(e.R.PointerSize())
	limit := e.maxSlots()
	var slots []uint64
	for cur := e.R.Mask().Apply(addr) + 2*ps; len(slots) < limit; cur += ps {
		p, ok := e.R.Pointer(cur)
		if !ok || !e.Code.Contains(p) {
			break
		}
		slots = append(slots, p)
	}
	return slots
}

// Set returns the slot addresses as a set for membership tests.
func (v VTable) Set() mapset.Set {
	s := mapset.NewThreadUnsafeSet()
	for _, a := range v.Slots {
		s.Add(a)
	}
	return s
}

// Index returns the first slot holding addr, or -1.
func (v VTable) Index(addr uint64) int {
	for i, a := range v.Slots {
		if a == addr {
			return i
		}
	}
	return -1
}

// Write renders one "0x<hex>" line per slot.
func Write(w io.Writer, slots []uint64) error {
	bw := bufio.NewWriter(w)
	for _, s := range slots {
		bw.WriteString("0x")
		bw.WriteString(strconv.FormatUint(s, 16))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Read parses the output of Write. Blank lines are ignored.
func Read(r io.Reader) ([]uint64, error) {
	var slots []uint64
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(text, "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %q", ErrBadEntry, line, text)
		}
		slots = append(slots, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}
