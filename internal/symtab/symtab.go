// Package symtab correlates mangled symbols with their demangled text and
// address, and renders them in the canonical sorted symbols listing.
package symtab

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"cxxrecon/internal/demangle"
)

// Prefixes the demangler puts in front of ABI special names.
const (
	TypeinfoPrefix = "typeinfo for "
	VtablePrefix   = "vtable for "
)

var ErrBadLine = errors.New("symtab: malformed symbol line")

// DtorKind is the Itanium destructor variant of a symbol.
type DtorKind int

const (
	DtorNone DtorKind = iota
	DtorDeleting
	DtorComplete
	DtorBase
)

var dtorComments = [...]string{
	DtorDeleting: "/* Deleting Dtor */ ",
	DtorComplete: "/* Complete Dtor */ ",
	DtorBase:     "/* Base Dtor */ ",
}

// Comment returns the annotation written in front of a destructor, or "".
func (k DtorKind) Comment() string {
	if k <= DtorNone || int(k) >= len(dtorComments) {
		return ""
	}
	return dtorComments[k]
}

func (k DtorKind) String() string {
	switch k {
	case DtorDeleting:
		return "deleting"
	case DtorComplete:
		return "complete"
	case DtorBase:
		return "base"
	}
	return "none"
}

// Raw is a symbol-table entry before demangling.
type Raw struct {
	Name string
	Addr uint64
}

// Record is one demangled symbol.
type Record struct {
	Mangled   string
	Demangled string
	Addr      uint64
	Dtor      DtorKind
}

// String renders the canonical listing line.
func (r Record) String() string {
	return r.Dtor.Comment() + r.Demangled + " = 0x" + strconv.FormatUint(r.Addr, 16)
}

// DtorVariant classifies a destructor by the variant code in its mangled
// name. Only names whose demangled form contains '~' are tagged.
func DtorVariant(mangled, demangled string) DtorKind {
	if !strings.Contains(demangled, "~") {
		return DtorNone
	}
	// <ctor-dtor-name> is the last component of the nested name, so the
	// variant code sits right before the closing 'E'.
	for _, v := range []struct {
		code string
		kind DtorKind
	}{{"D0E", DtorDeleting}, {"D1E", DtorComplete}, {"D2E", DtorBase}} {
		if strings.Contains(mangled, v.code) {
			return v.kind
		}
	}
	return DtorNone
}

// Load demangles raw in batches of batchSize and returns the records in
// canonical order. Entries with empty names are ignored.
func Load(ctx context.Context, raw []Raw, d demangle.Demangler, batchSize int) ([]Record, error) {
	named := make([]Raw, 0, len(raw))
	names := make([]string, 0, len(raw))
	for _, r := range raw {
		if r.Name == "" {
			continue
		}
		named = append(named, r)
		names = append(names, r.Name)
	}

	demangled, err := demangle.Batches(ctx, d, names, batchSize)
	if err != nil {
		return nil, err
	}

	recs := make([]Record, len(named))
	for i, r := range named {
		recs[i] = Record{
			Mangled:   r.Name,
			Demangled: demangled[i],
			Addr:      r.Addr,
			Dtor:      DtorVariant(r.Name, demangled[i]),
		}
	}
	Sort(recs)
	return recs, nil
}

// Sort orders records by their rendered line.
func Sort(recs []Record) {
	keys := make([]string, len(recs))
	for i := range recs {
		keys[i] = recs[i].String()
	}
	sort.Sort(byLine{recs, keys})
}

type byLine struct {
	recs []Record
	keys []string
}

func (b byLine) Len() int { return len(b.recs) }

func (b byLine) Less(i, j int) bool {
	if b.keys[i] != b.keys[j] {
		return b.keys[i] < b.keys[j]
	}
	return b.recs[i].Mangled < b.recs[j].Mangled
}

func (b byLine) Swap(i, j int) {
	b.recs[i], b.recs[j] = b.recs[j], b.recs[i]
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
}

// ParseLine reads a canonical listing line back into a Record. The mangled
// name is not part of the listing and stays empty.
func ParseLine(line string) (Record, error) {
	var rec Record
	for k := DtorDeleting; k <= DtorBase; k++ {
		if c := k.Comment(); strings.HasPrefix(line, c) {
			rec.Dtor = k
			line = line[len(c):]
			break
		}
	}
	i := strings.LastIndex(line, " = 0x")
	if i < 0 {
		return Record{}, fmt.Errorf("%w: %q", ErrBadLine, line)
	}
	addr, err := strconv.ParseUint(line[i+len(" = 0x"):], 16, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %q: %v", ErrBadLine, line, err)
	}
	rec.Demangled = line[:i]
	rec.Addr = addr
	return rec, nil
}

// WithPrefix returns the records whose demangled text starts with prefix.
func WithPrefix(recs []Record, prefix string) []Record {
	var out []Record
	for _, r := range recs {
		if strings.HasPrefix(r.Demangled, prefix) {
			out = append(out, r)
		}
	}
	return out
}

// Subject strips prefix from the demangled text, e.g. "vtable for Foo" -> "Foo".
func (r Record) Subject(prefix string) string {
	return strings.TrimPrefix(r.Demangled, prefix)
}
