// Package config resolves run settings from viper (flags, CXXRECON_* env and
// the optional config file).
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"cxxrecon/internal/abi"
	"cxxrecon/internal/demangle"
	"cxxrecon/internal/output"
	"cxxrecon/internal/vtable"
)

// EnvPrefix is the environment variable prefix, e.g. CXXRECON_BATCH_SIZE.
const EnvPrefix = "cxxrecon"

// Keys.
const (
	KeyRoot             = "root"
	KeyBinary           = "binary"
	KeyMask             = "mask"
	KeyBatchSize        = "batch-size"
	KeyDemangler        = "demangler"
	KeyDemanglerTimeout = "demangler-timeout"
	KeyCodeSection      = "sections.code"
	KeyDataSection      = "sections.data"
	KeyMaxSlots         = "max-slots"
	KeyJobs             = "jobs"
	KeySlots            = "slots"
	KeySlotInsns        = "slot-insns"
	KeyGraph            = "graph"
	KeyVTableDir        = "vtable-dir"
	KeyHeaderDir        = "header-dir"
)

var ErrInvalid = errors.New("config: invalid value")

// Config is the resolved run configuration.
type Config struct {
	Root             string
	Binary           string
	Mask             abi.MaskMode
	BatchSize        int
	Demangler        string
	DemanglerTimeout time.Duration
	CodeSection      string
	DataSection      string
	MaxSlots         int
	Jobs             int
	Slots            bool
	SlotInsns        int
	Graph            bool
	VTableDir        string
	HeaderDir        string
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyRoot, ".")
	v.SetDefault(KeyBinary, "")
	v.SetDefault(KeyMask, string(abi.MaskAuto))
	v.SetDefault(KeyBatchSize, demangle.DefaultBatchSize)
	v.SetDefault(KeyDemangler, "llvm-cxxfilt")
	v.SetDefault(KeyDemanglerTimeout, demangle.DefaultTimeout)
	v.SetDefault(KeyCodeSection, ".text")
	v.SetDefault(KeyDataSection, ".data.rel.ro")
	v.SetDefault(KeyMaxSlots, vtable.DefaultMaxSlots)
	v.SetDefault(KeyJobs, 1)
	v.SetDefault(KeySlots, false)
	v.SetDefault(KeySlotInsns, 1)
	v.SetDefault(KeyGraph, false)
	v.SetDefault(KeyVTableDir, "vtables")
	v.SetDefault(KeyHeaderDir, "headers")
}

// Load reads and verifies the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		Root:             v.GetString(KeyRoot),
		Binary:           v.GetString(KeyBinary),
		BatchSize:        v.GetInt(KeyBatchSize),
		Demangler:        v.GetString(KeyDemangler),
		DemanglerTimeout: v.GetDuration(KeyDemanglerTimeout),
		CodeSection:      v.GetString(KeyCodeSection),
		DataSection:      v.GetString(KeyDataSection),
		MaxSlots:         v.GetInt(KeyMaxSlots),
		Jobs:             v.GetInt(KeyJobs),
		Slots:            v.GetBool(KeySlots),
		SlotInsns:        v.GetInt(KeySlotInsns),
		Graph:            v.GetBool(KeyGraph),
		VTableDir:        v.GetString(KeyVTableDir),
		HeaderDir:        v.GetString(KeyHeaderDir),
	}
	mode, err := abi.ParseMaskMode(v.GetString(KeyMask))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, KeyMask, err)
	}
	c.Mask = mode
	if c.Root == "" {
		c.Root = "."
	}
	if c.Binary == "" {
		c.Binary = filepath.Join(c.Root, "binary.so")
	}
	if err := c.verify(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) verify() error {
	switch {
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, KeyBatchSize, c.BatchSize)
	case c.Jobs <= 0:
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, KeyJobs, c.Jobs)
	case c.MaxSlots <= 0:
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, KeyMaxSlots, c.MaxSlots)
	case c.SlotInsns <= 0:
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, KeySlotInsns, c.SlotInsns)
	case c.DemanglerTimeout <= 0:
		return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, KeyDemanglerTimeout, c.DemanglerTimeout)
	case c.CodeSection == "" || c.DataSection == "":
		return fmt.Errorf("%w: section names must not be empty", ErrInvalid)
	}
	return nil
}

// Paths returns the artifact layout under Root.
func (c *Config) Paths() output.Paths {
	return output.Paths{Root: c.Root, VTableDir: c.VTableDir, HeaderDir: c.HeaderDir}
}

// NewDemangler builds the configured demangler backend.
func (c *Config) NewDemangler() demangle.Demangler {
	return demangle.New(c.Demangler, c.DemanglerTimeout)
}
