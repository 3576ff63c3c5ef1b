// Package config holds the whole simulator configuration in one JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"

	"github.com/sarchlab/tomasim/emu"
	"github.com/sarchlab/tomasim/timing/cache"
	"github.com/sarchlab/tomasim/timing/latency"
	"github.com/sarchlab/tomasim/timing/pipeline"
)

// Config is the complete simulator configuration.
type Config struct {
	// Registers sets the register count and initial values.
	Registers pipeline.RegFileConfig `json:"registers"`

	// MemorySize is the number of memory cells. Default: 1024.
	MemorySize int `json:"memory_size"`

	// Memory holds initial memory values keyed by address.
	Memory map[int]float64 `json:"memory,omitempty"`

	// Cache is the data cache geometry and eviction policy.
	Cache cache.Config `json:"cache"`

	// Pools sets the number of units per pool.
	Pools pipeline.PoolSizes `json:"pools"`

	// Timing holds the per-opcode latencies and the cache miss penalty.
	Timing *latency.TimingConfig `json:"timing"`

	// MaxCycles bounds a run. Default: 10000.
	MaxCycles uint64 `json:"max_cycles"`
}

// DefaultConfig returns the configuration of the classic Tomasulo setup.
func DefaultConfig() *Config {
	return &Config{
		Registers:  pipeline.DefaultRegFileConfig(),
		MemorySize: emu.DefaultMemorySize,
		Cache:      cache.DefaultConfig(),
		Pools:      pipeline.DefaultPoolSizes(),
		Timing:     latency.DefaultTimingConfig(),
		MaxCycles:  pipeline.DefaultMaxCycles,
	}
}

// LoadConfig loads a Config from a JSON file. Fields missing from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a Config to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks every section of the configuration.
func (c *Config) Validate() error {
	if err := c.Registers.Validate(); err != nil {
		return fmt.Errorf("registers: %w", err)
	}
	if c.MemorySize <= 0 {
		return fmt.Errorf("memory_size must be > 0")
	}
	for addr := range c.Memory {
		if addr < 0 || addr >= c.MemorySize {
			return fmt.Errorf("memory: %w: %d", emu.ErrInvalidAddress, addr)
		}
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Pools.Validate(); err != nil {
		return fmt.Errorf("pools: %w", err)
	}
	if c.Timing == nil {
		return fmt.Errorf("timing section missing")
	}
	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("timing: %w", err)
	}
	if c.MaxCycles == 0 {
		return fmt.Errorf("max_cycles must be > 0")
	}
	return nil
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Registers.Initial = maps.Clone(c.Registers.Initial)
	clone.Memory = maps.Clone(c.Memory)
	if c.Timing != nil {
		clone.Timing = c.Timing.Clone()
	}
	return &clone
}

// NewMemory creates a memory of the configured size holding the initial
// values.
func (c *Config) NewMemory() (*emu.Memory, error) {
	memory := emu.NewMemory(c.MemorySize)
	if err := memory.Load(c.Memory); err != nil {
		return nil, err
	}
	return memory, nil
}

// NewRegFile creates the configured register file.
func (c *Config) NewRegFile() (*pipeline.RegFile, error) {
	return pipeline.NewRegFile(c.Registers)
}

// PipelineOptions returns the pipeline options for this configuration.
func (c *Config) PipelineOptions() []pipeline.PipelineOption {
	return []pipeline.PipelineOption{
		pipeline.WithLatencyTable(latency.NewTableWithConfig(c.Timing)),
		pipeline.WithCacheConfig(c.Cache),
		pipeline.WithPoolSizes(c.Pools),
		pipeline.WithMaxCycles(c.MaxCycles),
	}
}
