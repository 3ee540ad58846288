package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	clihandler "github.com/apex/log/handlers/cli"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cxxrecon/internal/config"
	"cxxrecon/internal/demangle"
	"cxxrecon/internal/vtable"
)

var (
	cfgFile string
	// Verbose enables debug logging
	Verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "cxxrecon",
	Short: "Reconstruct C++ class declarations from Itanium ABI metadata",
	Long: `cxxrecon mines the symbol table, typeinfo objects and vtables of an ELF
binary and writes approximate C++ class declarations.

Stages can run one at a time (symbols, typeinfos, vtables, headers), each
reading the previous stage's artifacts from --root, or all at once with run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if Verbose {
			log.SetLevel(log.DebugLevel)
		}
		color.NoColor = color.NoColor || viper.GetBool("no-color")
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	log.SetHandler(clihandler.Default)

	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/cxxrecon/config.yaml)")
	pf.BoolVarP(&Verbose, "verbose", "V", false, "verbose output")
	pf.Bool("no-color", false, "disable colorized output")
	pf.StringP("root", "r", ".", "artifact root directory")
	pf.StringP("binary", "b", "", "ELF binary to analyze (default is <root>/binary.so)")
	pf.String("mask", "auto", "pointer mask: auto, on or off")
	pf.Int("batch-size", demangle.DefaultBatchSize, "names per demangler call")
	pf.String("demangler", "llvm-cxxfilt", "demangler program, or 'native' for the built-in decoder")
	pf.Duration("demangler-timeout", demangle.DefaultTimeout, "time limit per demangler call")
	pf.String("code-section", ".text", "section bounding vtable entries")
	pf.String("data-section", ".data.rel.ro", "section bounding typeinfo pointers")
	pf.Int("max-slots", vtable.DefaultMaxSlots, "maximum entries read per vtable")
	pf.IntP("jobs", "j", 1, "classes synthesized concurrently")
	pf.Bool("slots", false, "also write annotated vtable slot listings")
	pf.Int("slot-insns", 1, "instructions disassembled per slot in the listings")
	pf.Bool("graph", false, "also write hierarchy.dot")
	pf.String("vtable-dir", "vtables", "vtable directory under root")
	pf.String("header-dir", "headers", "header directory under root")

	for key, flag := range map[string]string{
		"no-color":                 "no-color",
		config.KeyRoot:             "root",
		config.KeyBinary:           "binary",
		config.KeyMask:             "mask",
		config.KeyBatchSize:        "batch-size",
		config.KeyDemangler:        "demangler",
		config.KeyDemanglerTimeout: "demangler-timeout",
		config.KeyCodeSection:      "code-section",
		config.KeyDataSection:      "data-section",
		config.KeyMaxSlots:         "max-slots",
		config.KeyJobs:             "jobs",
		config.KeySlots:            "slots",
		config.KeySlotInsns:        "slot-insns",
		config.KeyGraph:            "graph",
		config.KeyVTableDir:        "vtable-dir",
		config.KeyHeaderDir:        "header-dir",
	} {
		viper.BindPFlag(key, pf.Lookup(flag))
	}
	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(symbolsCmd, typeinfosCmd, vtablesCmd, headersCmd, runCmd, graphCmd)
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(filepath.Join(home, ".config", "cxxrecon"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
