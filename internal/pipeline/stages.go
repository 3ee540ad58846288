package pipeline

import (
	"path/filepath"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	"cxxrecon/internal/cxxname"
	"cxxrecon/internal/diag"
	"cxxrecon/internal/header"
	"cxxrecon/internal/hierarchy"
	"cxxrecon/internal/output"
	"cxxrecon/internal/symtab"
	"cxxrecon/internal/typeinfo"
	"cxxrecon/internal/vtable"
)

// Symbols demangles the symbol tables of the binary and writes symbols.txt.
type Symbols struct{}

func (Symbols) String() string { return "symbols" }

func (Symbols) Run(ctx *Context) error {
	img, err := ctx.Image()
	if err != nil {
		return err
	}
	syms, err := img.File.Symbols()
	if err != nil {
		return err
	}
	raw := make([]symtab.Raw, len(syms))
	for i, s := range syms {
		raw[i] = symtab.Raw{Name: s.Name, Addr: s.Addr}
	}
	recs, err := symtab.Load(ctx, raw, ctx.Demangler, ctx.Config.BatchSize)
	if err != nil {
		return err
	}
	if res := output.WriteSymbols(ctx.Paths().Symbols(), recs); !res.OK() {
		return res.Err
	}
	ctx.Records = recs
	ctx.Report.Symbols = len(recs)
	ctx.Log.WithField("file", ctx.Paths().Symbols()).Infof("wrote %d symbols", len(recs))
	return nil
}

// Typeinfos decodes the base list of every typeinfo and writes typeinfos.txt.
type Typeinfos struct{}

func (Typeinfos) String() string { return "typeinfos" }

func (Typeinfos) Run(ctx *Context) error {
	recs, err := ctx.records()
	if err != nil {
		return err
	}
	img, err := ctx.Image()
	if err != nil {
		return err
	}
	if ctx.Names == nil {
		ctx.Names = typeinfo.NewNameTable(recs, img.R.Mask())
	}
	ex := &typeinfo.Extractor{R: img.R, Data: img.Data, Names: ctx.Names}
	nodes := ex.Extract(recs)
	if res := output.WriteTypeinfos(ctx.Paths().Typeinfos(), nodes); !res.OK() {
		return res.Err
	}
	ctx.Nodes = nodes
	ctx.Report.Types = len(nodes)
	ctx.Log.WithFields(log.Fields{
		"file":  ctx.Paths().Typeinfos(),
		"names": ctx.Names.Len(),
	}).Infof("wrote %d typeinfos", len(nodes))
	return nil
}

// VTables walks every vtable and writes one .vt file per class, plus the
// annotated .slots listing when enabled. A class whose .vt cannot be written
// continues with an empty vtable.
type VTables struct{}

func (VTables) String() string { return "vtables" }

func (VTables) Run(ctx *Context) error {
	recs, err := ctx.records()
	if err != nil {
		return err
	}
	img, err := ctx.Image()
	if err != nil {
		return err
	}
	ex := &vtable.Extractor{R: img.R, Code: img.Code, MaxSlots: ctx.Config.MaxSlots}
	vts := ex.Extract(recs)

	var lister *vtable.Lister
	if ctx.Config.Slots {
		lister = &vtable.Lister{
			Mem:     img.File,
			Arch:    img.Arch,
			Insns:   ctx.Config.SlotInsns,
			Symbols: vtable.NewSymbolIndex(recs, img.R.Mask()),
		}
	}

	paths := ctx.Paths()
	ctx.VTables = make(map[string][]uint64, len(vts))
	written := 0
	for _, vt := range vts {
		q := cxxname.Parse(vt.Class)
		key := q.Flat()
		if _, dup := ctx.VTables[key]; dup {
			ctx.Report.Diags.Addf(diag.KindDuplicate, vt.Class, "second vtable at 0x%x ignored", vt.Addr)
			continue
		}
		if res := output.WriteVTable(paths.VTable(q), vt.Slots); !res.OK() {
			ctx.warn(diag.KindVTableWrite, vt.Class, res.Err)
			ctx.VTables[key] = nil
			continue
		}
		ctx.VTables[key] = vt.Slots
		written++
		if lister != nil {
			res := output.WriteSlots(paths.Slots(q), vt, lister.List(vt), lister.Symbols)
			if !res.OK() {
				ctx.warn(diag.KindSlotsWrite, vt.Class, res.Err)
			}
		}
	}
	ctx.Report.VTables = len(vts)
	ctx.Log.WithField("dir", filepath.Join(paths.Root, paths.VTableDir)).Infof("wrote %d of %d vtables", written, len(vts))
	return nil
}

// Headers synthesizes one declaration per typeinfo. With jobs > 1 classes
// are built and written concurrently; warnings are still reported in
// typeinfo order.
type Headers struct{}

func (Headers) String() string { return "headers" }

func (Headers) Run(ctx *Context) error {
	recs, err := ctx.records()
	if err != nil {
		return err
	}
	nodes, err := ctx.nodes()
	if err != nil {
		return err
	}
	mask, err := ctx.Mask()
	if err != nil {
		return err
	}
	ix := header.IndexMembers(recs, mask)
	ctx.Log.Debugf("indexed members of %d owners", ix.Owners())
	paths := ctx.Paths()

	var classes []typeinfo.Node
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		key := cxxname.Parse(n.Name).Flat()
		if seen[key] {
			ctx.Report.Diags.Add(diag.KindDuplicate, n.Name, "second typeinfo ignored")
			continue
		}
		seen[key] = true
		classes = append(classes, n)
	}

	slots := make([][]uint64, len(classes))
	for i, n := range classes {
		slots[i] = ctx.slotsFor(n.Name)
	}

	results := make([]output.Result, len(classes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ctx.Config.Jobs)
	for i := range classes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n := classes[i]
			decl := header.Build(n, vtable.VTable{Class: n.Name, Slots: slots[i]}, ix)
			results[i] = output.WriteHeader(paths.Header(decl.Name), decl)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ctx.Report.Attempted += len(classes)
	for i, res := range results {
		switch {
		case res.OK():
			ctx.Report.Emitted++
		case res.Warning():
			ctx.warn(diag.KindHeaderWrite, classes[i].Name, res.Err)
		default:
			return res.Err
		}
	}
	ctx.Log.WithField("dir", filepath.Join(paths.Root, paths.HeaderDir)).Infof("wrote %d of %d headers", ctx.Report.Emitted, ctx.Report.Attempted)
	return nil
}

// slotsFor returns the vtable of class from this run, or from its .vt file
// when the vtable stage did not run. A missing file means no vtable.
func (c *Context) slotsFor(class string) []uint64 {
	q := cxxname.Parse(class)
	if c.VTables != nil {
		return c.VTables[q.Flat()]
	}
	slots, res := output.ReadVTable(c.Paths().VTable(q))
	switch {
	case res.Kind == output.KindNotFound:
		c.Log.WithField("class", class).Debug("no vtable")
	case !res.OK():
		c.warn(diag.KindVTableRead, class, res.Err)
	}
	return slots
}

// Graph writes hierarchy.dot.
type Graph struct{}

func (Graph) String() string { return "graph" }

func (Graph) Skip(ctx *Context) bool { return !ctx.Config.Graph }

func (Graph) Run(ctx *Context) error {
	nodes, err := ctx.nodes()
	if err != nil {
		return err
	}
	g := hierarchy.Build(nodes)
	res := output.WriteDOT(ctx.Paths().DOT(), hierarchy.DOT(g, "class hierarchy"))
	if !res.OK() {
		ctx.warn(diag.KindGraphWrite, "hierarchy", res.Err)
		return nil
	}
	ctx.Log.WithField("file", res.Path).Infof("wrote %d types, %d edges", len(g.Nodes), len(g.Edges))
	return nil
}

// Summary writes report.json.
type Summary struct{}

func (Summary) String() string { return "report" }

func (Summary) Run(ctx *Context) error {
	ctx.Report.Warnings = ctx.Report.Diags.Items()
	if res := output.WriteReportJSON(ctx.Paths().Report(), ctx.Report); !res.OK() {
		ctx.Log.WithError(res.Err).Warn("report")
	}
	return nil
}
