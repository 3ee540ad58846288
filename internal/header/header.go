// Package header merges symbols, typeinfo bases and vtable slots into
// approximate C++ class declarations.
package header

import (
	"io"
	"sort"
	"strings"

	"cxxrecon/internal/abi"
	"cxxrecon/internal/cxxname"
	"cxxrecon/internal/symtab"
	"cxxrecon/internal/typeinfo"
	"cxxrecon/internal/vtable"
)

const (
	returnPlaceholder = "/* unknown return type */ void"
	dataPlaceholder   = "/* unknown type */ void*"
	virtualBanner     = "/* Virtual methods */"
)

// Member is one recovered method or static data member of a class.
type Member struct {
	Sig     string
	Addr    uint64 // masked
	Virtual bool
	Slot    int // first vtable slot holding Addr, -1 when non-virtual
	Dtor    symtab.DtorKind
}

// IsDtor reports whether the member is a destructor. operator~ is not.
func (m Member) IsDtor() bool {
	return m.Dtor != symtab.DtorNone || strings.HasPrefix(m.Sig, "~")
}

// IsData reports whether the member has no parameter list.
func (m Member) IsData() bool {
	return !strings.Contains(m.Sig, "(")
}

// ClassDecl is a reconstructed class.
type ClassDecl struct {
	Name      cxxname.QualifiedName
	Bases     []cxxname.QualifiedName
	Members   []Member
	HasVTable bool
}

// Virtuals returns the virtual members in slot order.
func (c ClassDecl) Virtuals() []Member {
	var out []Member
	for _, m := range c.Members {
		if m.Virtual {
			out = append(out, m)
		}
	}
	return out
}

// NonVirtuals returns the non-virtual members in emit order.
func (c ClassDecl) NonVirtuals() []Member {
	var out []Member
	for _, m := range c.Members {
		if !m.Virtual {
			out = append(out, m)
		}
	}
	return out
}

// MemberIndex groups candidate members by the flattened owner name.
type MemberIndex struct {
	byOwner map[string][]Member
}

// IndexMembers collects every scoped, non-special record as a member of its
// owner. Addresses are masked.
func IndexMembers(recs []symtab.Record, mask abi.Mask) *MemberIndex {
	ix := &MemberIndex{byOwner: make(map[string][]Member)}
	for _, r := range recs {
		owner, sig, ok := cxxname.SplitMember(r.Demangled)
		if !ok {
			continue
		}
		key := owner.Flat()
		ix.byOwner[key] = append(ix.byOwner[key], Member{
			Sig:  sig,
			Addr: mask.Apply(r.Addr),
			Slot: -1,
			Dtor: r.Dtor,
		})
	}
	return ix
}

// Owners returns the number of distinct owners.
func (ix *MemberIndex) Owners() int { return len(ix.byOwner) }

// For returns a copy of the candidates owned by the flattened name.
func (ix *MemberIndex) For(flat string) []Member {
	return append([]Member(nil), ix.byOwner[flat]...)
}

// Build reconstructs one class. Every candidate lands in exactly one of the
// two partitions: virtual when its address is a slot of vt, else non-virtual.
func Build(node typeinfo.Node, vt vtable.VTable, ix *MemberIndex) ClassDecl {
	decl := ClassDecl{Name: cxxname.Parse(node.Name), HasVTable: len(vt.Slots) > 0}
	for _, b := range node.Bases {
		decl.Bases = append(decl.Bases, cxxname.Parse(b))
	}

	cands := ix.For(decl.Name.Flat())
	slots := vt.Set()

	var nonVirtual, virtual []Member
	for _, m := range cands {
		if slots.Contains(m.Addr) {
			m.Virtual = true
			m.Slot = vt.Index(m.Addr)
			virtual = append(virtual, m)
			continue
		}
		nonVirtual = append(nonVirtual, m)
	}
	sort.SliceStable(nonVirtual, func(i, j int) bool {
		if nonVirtual[i].Addr != nonVirtual[j].Addr {
			return nonVirtual[i].Addr > nonVirtual[j].Addr
		}
		return nonVirtual[i].Sig < nonVirtual[j].Sig
	})

	sort.SliceStable(virtual, func(i, j int) bool { return virtual[i].Slot < virtual[j].Slot })

	decl.Members = append(nonVirtual, virtual...)
	return decl
}

// Head renders "class Name : public Base1, public Base2".
func (c ClassDecl) Head() string {
	var b strings.Builder
	b.WriteString("class ")
	b.WriteString(c.Name.Display())
	for i, base := range c.Bases {
		if i == 0 {
			b.WriteString(" : public ")
		} else {
			b.WriteString(", public ")
		}
		b.WriteString(base.Display())
	}
	return b.String()
}

func (m Member) line() string {
	switch {
	case m.IsDtor():
		return m.Dtor.Comment() + m.Sig + ";"
	case m.IsData():
		return "static " + dataPlaceholder + " " + m.Sig + ";"
	case m.Virtual:
		return "virtual " + returnPlaceholder + " " + m.Sig + ";"
	}
	return returnPlaceholder + " " + m.Sig + ";"
}

// Render writes the declaration.
func (c ClassDecl) Render(w io.Writer) error {
	var b strings.Builder
	b.WriteString(c.Head())
	b.WriteString("\n{\n")
	for _, m := range c.NonVirtuals() {
		b.WriteString("    ")
		b.WriteString(m.line())
		b.WriteByte('\n')
	}
	if c.HasVTable {
		b.WriteString("\n    " + virtualBanner + "\n\n")
		for _, m := range c.Virtuals() {
			b.WriteString("    ")
			b.WriteString(m.line())
			b.WriteByte('\n')
		}
	}
	b.WriteString("};\n")
	_, err := io.WriteString(w, b.String())
	return err
}
