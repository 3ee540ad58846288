// Package cxxname splits demangled C++ names into scopes and renders them
// either as join-safe identifiers or as commented qualified names.
package cxxname

import "strings"

// FlatSep replaces "::" in flattened identifiers.
const FlatSep = "__"

// QualifiedName is a leaf name and its enclosing scopes, outermost first.
type QualifiedName struct {
	Scopes []string
	Leaf   string
}

// Parse splits s on top-level "::". Separators nested in template arguments,
// parameter lists or brackets are ignored, and an operator name ends the scan.
func Parse(s string) QualifiedName {
	segs := splitTop(strings.TrimSpace(s))
	if len(segs) == 0 {
		return QualifiedName{}
	}
	return QualifiedName{Scopes: segs[:len(segs)-1], Leaf: segs[len(segs)-1]}
}

// String returns the fully qualified form, "a::b::Leaf".
func (q QualifiedName) String() string {
	if len(q.Scopes) == 0 {
		return q.Leaf
	}
	return strings.Join(q.Scopes, "::") + "::" + q.Leaf
}

// Flat returns the scopes and leaf joined by FlatSep.
func (q QualifiedName) Flat() string {
	if len(q.Scopes) == 0 {
		return q.Leaf
	}
	return strings.Join(q.Scopes, FlatSep) + FlatSep + q.Leaf
}

// Display returns the leaf with the stripped qualifier kept as a comment,
// "/* a::b:: */ Leaf".
func (q QualifiedName) Display() string {
	if len(q.Scopes) == 0 {
		return q.Leaf
	}
	return "/* " + strings.Join(q.Scopes, "::") + ":: */ " + q.Leaf
}

// FileName returns Flat with characters that are not portable in file names
// replaced by '_'.
func (q QualifiedName) FileName() string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, q.Flat())
}

var specialPrefixes = []string{
	"vtable for ",
	"typeinfo for ",
	"typeinfo name for ",
	"VTT for ",
	"construction vtable for ",
	"non-virtual thunk to ",
	"virtual thunk to ",
	"covariant return thunk to ",
	"guard variable for ",
	"reference temporary ",
	"TLS init function for ",
	"TLS wrapper function for ",
	"transaction clone for ",
	"hidden alias for ",
}

// IsSpecial reports whether s is an ABI special name rather than a
// declaration, e.g. "vtable for Foo" or "non-virtual thunk to Foo::f()".
func IsSpecial(s string) bool {
	for _, p := range specialPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// SplitMember splits a demangled member symbol into its owner and the member
// signature, e.g. "ns::Foo::run(int) const" -> (ns::Foo, "run(int) const").
// A leading return type, as printed for template functions, is dropped even
// when it is itself scoped ("ns::Ptr ns::Foo::get<int>()" -> ns::Foo).
// ok is false for special names and unscoped symbols.
func SplitMember(demangled string) (owner QualifiedName, sig string, ok bool) {
	if IsSpecial(demangled) {
		return QualifiedName{}, "", false
	}
	segs := splitTop(strings.TrimSpace(demangled))
	if len(segs) < 2 {
		return QualifiedName{}, "", false
	}
	// The last scope segment holding a top-level space carries the end of
	// the return type; everything before that space belongs to it.
	for i := len(segs) - 2; i >= 0; i-- {
		if cut := topLevelSpace(segs[i]); cut >= 0 {
			segs = append([]string{segs[i][cut+1:]}, segs[i+1:]...)
			break
		}
	}
	if segs[0] == "" {
		return QualifiedName{}, "", false
	}
	n := len(segs)
	return QualifiedName{Scopes: segs[:n-2], Leaf: segs[n-2]}, segs[n-1], true
}

// topLevelSpace returns the index of the last space outside brackets, or -1.
func topLevelSpace(seg string) int {
	depth := 0
	cut := -1
	for i := 0; i < len(seg); i++ {
		switch seg[i] {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			if depth > 0 {
				depth--
			}
		case ' ':
			if depth == 0 {
				cut = i
			}
		}
	}
	return cut
}

func splitTop(s string) []string {
	if s == "" {
		return nil
	}
	var segs []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		if depth == 0 && i == start && strings.HasPrefix(s[i:], "operator") {
			break
		}
		switch s[i] {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			if depth > 0 {
				depth--
			}
		case ':':
			if depth == 0 && i+1 < len(s) && s[i+1] == ':' {
				segs = append(segs, s[start:i])
				start = i + 2
				i++
			}
		}
	}
	return append(segs, s[start:])
}
