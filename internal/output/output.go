// Package output reads and writes the artifacts under the run root.
//
// Every operation returns a Result whose Kind tells the caller how to react:
// a missing staged vtable is skipped silently, a failed per-class write is a
// warning, and anything touching the shared listings is fatal.
package output

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cxxrecon/internal/cxxname"
	"cxxrecon/internal/header"
	"cxxrecon/internal/symtab"
	"cxxrecon/internal/typeinfo"
	"cxxrecon/internal/vtable"
)

// Kind classifies the outcome of an artifact operation.
type Kind int

const (
	KindWritten Kind = iota
	KindRead
	KindNotFound
	KindWriteFailed
	KindReadFailed
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindWritten:
		return "written"
	case KindRead:
		return "read"
	case KindNotFound:
		return "not found"
	case KindWriteFailed:
		return "write failed"
	case KindReadFailed:
		return "read failed"
	case KindFatal:
		return "fatal"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Result is the outcome of one artifact operation.
type Result struct {
	Kind Kind
	Path string
	Err  error
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Kind == KindWritten || r.Kind == KindRead }

// Warning reports whether the failure is per-item and the run may go on.
func (r Result) Warning() bool { return r.Kind == KindWriteFailed || r.Kind == KindReadFailed }

// Paths names the artifacts under a root directory.
type Paths struct {
	Root      string
	VTableDir string // relative to Root
	HeaderDir string // relative to Root
}

func (p Paths) Symbols() string   { return filepath.Join(p.Root, "symbols.txt") }
func (p Paths) Typeinfos() string { return filepath.Join(p.Root, "typeinfos.txt") }
func (p Paths) DOT() string       { return filepath.Join(p.Root, "hierarchy.dot") }
func (p Paths) Report() string    { return filepath.Join(p.Root, "report.json") }

func (p Paths) VTable(q cxxname.QualifiedName) string {
	return filepath.Join(p.Root, p.VTableDir, q.FileName()+".vt")
}

func (p Paths) Slots(q cxxname.QualifiedName) string {
	return filepath.Join(p.Root, p.VTableDir, q.FileName()+".slots")
}

func (p Paths) Header(q cxxname.QualifiedName) string {
	return filepath.Join(p.Root, p.HeaderDir, q.FileName()+".h")
}

// WriteSymbols writes the canonical symbol listing. Failure is fatal.
func WriteSymbols(path string, recs []symtab.Record) Result {
	return write(path, KindFatal, func(w io.Writer) error {
		for _, r := range recs {
			if _, err := io.WriteString(w, r.String()+"\n"); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadSymbols reads a listing written by WriteSymbols.
func ReadSymbols(path string) ([]symtab.Record, Result) {
	var recs []symtab.Record
	res := read(path, KindFatal, KindFatal, func(line string) error {
		r, err := symtab.ParseLine(line)
		if err != nil {
			return err
		}
		recs = append(recs, r)
		return nil
	})
	if !res.OK() {
		return nil, res
	}
	return recs, res
}

// WriteTypeinfos writes one "Type|Base1|Base2" line per node. Failure is fatal.
func WriteTypeinfos(path string, nodes []typeinfo.Node) Result {
	return write(path, KindFatal, func(w io.Writer) error {
		for _, n := range nodes {
			if _, err := io.WriteString(w, n.Line()+"\n"); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadTypeinfos reads a listing written by WriteTypeinfos.
func ReadTypeinfos(path string) ([]typeinfo.Node, Result) {
	var nodes []typeinfo.Node
	res := read(path, KindFatal, KindFatal, func(line string) error {
		n, err := typeinfo.ParseLine(line)
		if err != nil {
			return err
		}
		nodes = append(nodes, n)
		return nil
	})
	if !res.OK() {
		return nil, res
	}
	return nodes, res
}

// WriteVTable writes one class's slot addresses.
func WriteVTable(path string, slots []uint64) Result {
	return write(path, KindWriteFailed, func(w io.Writer) error {
		return vtable.Write(w, slots)
	})
}

// ReadVTable reads one class's slot addresses. A missing file yields
// KindNotFound and no slots.
func ReadVTable(path string) ([]uint64, Result) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Result{Kind: KindNotFound, Path: path}
	}
	if err != nil {
		return nil, Result{Kind: KindReadFailed, Path: path, Err: fmt.Errorf("output: open %s: %w", path, err)}
	}
	defer f.Close()
	slots, err := vtable.Read(f)
	if err != nil {
		return nil, Result{Kind: KindReadFailed, Path: path, Err: fmt.Errorf("output: read %s: %w", path, err)}
	}
	return slots, Result{Kind: KindRead, Path: path}
}

// WriteHeader writes one class declaration.
func WriteHeader(path string, decl header.ClassDecl) Result {
	return write(path, KindWriteFailed, decl.Render)
}

// WriteSlots writes the annotated slot listing of one vtable.
func WriteSlots(path string, v vtable.VTable, slots []vtable.Slot, syms *vtable.SymbolIndex) Result {
	return write(path, KindWriteFailed, func(w io.Writer) error {
		return vtable.WriteSlots(w, v, slots, syms)
	})
}

// WriteDOT writes a rendered graph.
func WriteDOT(path, dot string) Result {
	return write(path, KindWriteFailed, func(w io.Writer) error {
		_, err := io.WriteString(w, dot)
		return err
	})
}

// WriteReportJSON writes v as indented JSON.
func WriteReportJSON(path string, v any) Result {
	return write(path, KindWriteFailed, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// write creates path and its parent directory, then fills it through fn.
// Any failure is reported with the given kind.
func write(path string, fail Kind, fn func(io.Writer) error) Result {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Result{Kind: fail, Path: path, Err: fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)}
	}
	f, err := os.Create(path)
	if err != nil {
		return Result{Kind: fail, Path: path, Err: fmt.Errorf("output: create %s: %w", path, err)}
	}
	bw := bufio.NewWriter(f)
	err = fn(bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Result{Kind: fail, Path: path, Err: fmt.Errorf("output: write %s: %w", path, err)}
	}
	return Result{Kind: KindWritten, Path: path}
}

// read feeds every non-blank line of path to fn.
func read(path string, openFail, parseFail Kind, fn func(line string) error) Result {
	f, err := os.Open(path)
	if err != nil {
		return Result{Kind: openFail, Path: path, Err: fmt.Errorf("output: open %s: %w", path, err)}
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return Result{Kind: parseFail, Path: path, Err: fmt.Errorf("output: %s:%d: %w", path, n, err)}
		}
	}
	if err := sc.Err(); err != nil {
		return Result{Kind: openFail, Path: path, Err: fmt.Errorf("output: read %s: %w", path, err)}
	}
	return Result{Kind: KindRead, Path: path}
}
