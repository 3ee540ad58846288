package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cxxrecon/internal/config"
	"cxxrecon/internal/pipeline"
)

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "Demangle the symbol tables and write symbols.txt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipes(cmd.Context(), pipeline.Symbols{})
	},
}

var typeinfosCmd = &cobra.Command{
	Use:   "typeinfos",
	Short: "Decode typeinfo base lists from symbols.txt and write typeinfos.txt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipes(cmd.Context(), pipeline.Typeinfos{})
	},
}

var vtablesCmd = &cobra.Command{
	Use:   "vtables",
	Short: "Walk the vtables listed in symbols.txt and write one .vt per class",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipes(cmd.Context(), pipeline.VTables{})
	},
}

var headersCmd = &cobra.Command{
	Use:   "headers",
	Short: "Synthesize one header per class from symbols.txt, typeinfos.txt and the .vt files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipes(cmd.Context(), pipeline.Headers{})
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Render the inheritance graph of typeinfos.txt as hierarchy.dot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		viper.Set(config.KeyGraph, true)
		return runPipes(cmd.Context(), pipeline.Graph{})
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every stage in memory and write all artifacts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipes(cmd.Context(), pipeline.Full...)
	},
}

func runPipes(ctx context.Context, pipes ...pipeline.Pipe) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	pctx := pipeline.New(ctx, cfg)
	defer pctx.Close()

	if err := pipeline.Execute(pctx, pipes...); err != nil {
		return err
	}
	printSummary(os.Stderr, pctx.Report)
	return nil
}

func printSummary(w io.Writer, r *pipeline.Report) {
	if r.Attempted == 0 && r.Diags.Len() == 0 {
		return
	}
	label := color.New(color.FgHiBlack, color.Bold).SprintFunc()
	good := color.New(color.FgGreen, color.Bold).SprintFunc()
	bad := color.New(color.FgYellow, color.Bold).SprintFunc()

	emitted := good(r.Emitted)
	if r.Failed() > 0 {
		emitted = bad(r.Emitted)
	}
	warnings := good(r.Diags.Len())
	if r.Diags.Len() > 0 {
		warnings = bad(r.Diags.Len())
	}
	fmt.Fprintf(w, "%s %d  %s %s  %s %s\n",
		label("attempted:"), r.Attempted,
		label("emitted:"), emitted,
		label("warnings:"), warnings)
}
