// Package pipeline runs the recovery stages over one binary and its artifact
// root.
//
// Stages share a Context so each can reuse what earlier stages produced. A
// stage run on its own reads the artifacts of earlier stages back from the
// root instead.
package pipeline

import (
	"context"
	"fmt"

	"github.com/apex/log"

	"cxxrecon/internal/abi"
	"cxxrecon/internal/config"
	"cxxrecon/internal/demangle"
	"cxxrecon/internal/diag"
	"cxxrecon/internal/disasm"
	"cxxrecon/internal/elfx"
	"cxxrecon/internal/output"
	"cxxrecon/internal/symtab"
	"cxxrecon/internal/typeinfo"
)

// Context carries configuration and intermediate results through the stages.
type Context struct {
	context.Context
	Config    *config.Config
	Demangler demangle.Demangler
	Log       log.Interface

	Records []symtab.Record
	Nodes   []typeinfo.Node
	// VTables holds slot lists by flattened class name once the vtable stage
	// has run in this context; nil means they come from the root.
	VTables map[string][]uint64
	Names   *typeinfo.NameTable
	Report  *Report

	img *Image
}

// New returns a Context for cfg with the configured demangler and the
// package-level logger.
func New(ctx context.Context, cfg *config.Config) *Context {
	return &Context{
		Context:   ctx,
		Config:    cfg,
		Demangler: cfg.NewDemangler(),
		Log:       log.Log,
		Report:    &Report{},
	}
}

// Paths returns the artifact layout.
func (c *Context) Paths() output.Paths { return c.Config.Paths() }

// Image opens the configured binary on first use.
func (c *Context) Image() (*Image, error) {
	if c.img != nil {
		return c.img, nil
	}
	img, err := OpenImage(c.Config)
	if err != nil {
		return nil, err
	}
	c.Log.WithFields(log.Fields{
		"binary":  c.Config.Binary,
		"machine": img.File.Machine(),
		"ptr":     img.R.PointerSize(),
		"mask":    img.R.Mask(),
		"code":    img.Code,
		"data":    img.Data,
	}).Debug("opened image")
	c.img = img
	return img, nil
}

// Mask returns the pointer mask. The binary is only opened when the mode
// depends on its machine.
func (c *Context) Mask() (abi.Mask, error) {
	switch c.Config.Mask {
	case abi.MaskOn, abi.MaskOff:
		return c.Config.Mask.Resolve(false), nil
	}
	img, err := c.Image()
	if err != nil {
		return 0, err
	}
	return img.R.Mask(), nil
}

// Close releases the binary if it was opened.
func (c *Context) Close() error {
	if c.img == nil {
		return nil
	}
	err := c.img.File.Close()
	c.img = nil
	return err
}

// records returns the symbol records, reading symbols.txt when no earlier
// stage produced them.
func (c *Context) records() ([]symtab.Record, error) {
	if c.Records != nil {
		return c.Records, nil
	}
	recs, res := output.ReadSymbols(c.Paths().Symbols())
	if !res.OK() {
		return nil, res.Err
	}
	c.Log.WithField("file", res.Path).Debugf("read %d symbols", len(recs))
	c.Records = recs
	c.Report.Symbols = len(recs)
	return recs, nil
}

// nodes returns the typeinfo nodes, reading typeinfos.txt when no earlier
// stage produced them.
func (c *Context) nodes() ([]typeinfo.Node, error) {
	if c.Nodes != nil {
		return c.Nodes, nil
	}
	nodes, res := output.ReadTypeinfos(c.Paths().Typeinfos())
	if !res.OK() {
		return nil, res.Err
	}
	c.Log.WithField("file", res.Path).Debugf("read %d typeinfos", len(nodes))
	c.Nodes = nodes
	c.Report.Types = len(nodes)
	return nodes, nil
}

// warn records a per-item failure and logs it.
func (c *Context) warn(kind diag.Kind, subject string, err error) {
	c.Report.Diags.Add(kind, subject, err.Error())
	c.Log.WithError(err).WithField("class", subject).Warn(string(kind))
}

// Image is an opened binary with the ranges the extractors need.
type Image struct {
	File *elfx.File
	R    *abi.Reader
	Code abi.Range
	Data abi.Range
	Arch disasm.Arch
}

// OpenImage opens cfg.Binary and resolves the code and data sections.
func OpenImage(cfg *config.Config) (*Image, error) {
	f, err := elfx.Open(cfg.Binary)
	if err != nil {
		return nil, err
	}
	code, err := f.Section(cfg.CodeSection)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("code section: %w", err)
	}
	data, err := f.Section(cfg.DataSection)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("data section: %w", err)
	}
	layout := f.Layout(cfg.Mask)
	return &Image{
		File: f,
		R:    abi.NewReader(f, layout),
		Code: code,
		Data: data,
		Arch: disasm.ArchFor(f.Machine(), layout.Mask == abi.MaskThumb),
	}, nil
}
