// Package diag records non-fatal issues raised while reconstructing classes.
package diag

import "fmt"

// Kind classifies a diagnostic.
type Kind string

const (
	KindVTableWrite Kind = "vtable_write"
	KindVTableRead  Kind = "vtable_read"
	KindHeaderWrite Kind = "header_write"
	KindSlotsWrite  Kind = "slots_write"
	KindGraphWrite  Kind = "graph_write"
	KindDuplicate   Kind = "duplicate"
)

// Diag is one non-fatal issue tied to a subject, usually a class name.
type Diag struct {
	Kind    Kind   `json:"kind"`
	Subject string `json:"subject"`
	Msg     string `json:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("[%s] %s: %s", d.Kind, d.Subject, d.Msg)
}

// Diags accumulates diagnostics in the order they were raised.
type Diags struct {
	items []Diag
}

func (d *Diags) Add(kind Kind, subject, msg string) {
	d.items = append(d.items, Diag{Kind: kind, Subject: subject, Msg: msg})
}

func (d *Diags) Addf(kind Kind, subject, format string, args ...any) {
	d.items = append(d.items, Diag{Kind: kind, Subject: subject, Msg: fmt.Sprintf(format, args...)})
}

func (d *Diags) Items() []Diag { return d.items }
func (d *Diags) Len() int      { return len(d.items) }

// Count returns how many items have the given kind.
func (d *Diags) Count(kind Kind) int {
	n := 0
	for _, it := range d.items {
		if it.Kind == kind {
			n++
		}
	}
	return n
}
