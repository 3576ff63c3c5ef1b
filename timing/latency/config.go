package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds latency values for different instruction types.
type TimingConfig struct {
	// AddSubLatency is the execution latency for ADD and SUB in both
	// precisions. Default: 1 cycle.
	AddSubLatency uint64 `json:"add_sub_latency"`

	// MultiplyLatency is the execution latency for MUL.D and MUL.S.
	// Default: 2 cycles.
	MultiplyLatency uint64 `json:"multiply_latency"`

	// DivideLatency is the execution latency for DIV.D and DIV.S.
	// Default: 4 cycles.
	DivideLatency uint64 `json:"divide_latency"`

	// IntegerLatency is the execution latency for DADDI and DSUBI.
	// Default: 1 cycle.
	IntegerLatency uint64 `json:"integer_latency"`

	// BranchLatency is the latency of the BEQ/BNE compare.
	// Default: 1 cycle.
	BranchLatency uint64 `json:"branch_latency"`

	// LoadLatency is the load buffer latency when the probe hits the cache.
	// Default: 1 cycle.
	LoadLatency uint64 `json:"load_latency"`

	// CacheMissPenalty replaces LoadLatency when the probe misses and the
	// block has to be filled from memory. Default: 2 cycles.
	CacheMissPenalty uint64 `json:"cache_miss_penalty"`
}

// DefaultTimingConfig returns a TimingConfig with the default latencies.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		AddSubLatency:    1,
		MultiplyLatency:  2,
		DivideLatency:    4,
		IntegerLatency:   1,
		BranchLatency:    1,
		LoadLatency:      1,
		CacheMissPenalty: 2,
	}
}

// LoadConfig loads a TimingConfig from a JSON file. Fields missing from the
// file keep their default values.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that all latency values are valid (> 0).
func (c *TimingConfig) Validate() error {
	if c.AddSubLatency == 0 {
		return fmt.Errorf("add_sub_latency must be > 0")
	}
	if c.MultiplyLatency == 0 {
		return fmt.Errorf("multiply_latency must be > 0")
	}
	if c.DivideLatency == 0 {
		return fmt.Errorf("divide_latency must be > 0")
	}
	if c.IntegerLatency == 0 {
		return fmt.Errorf("integer_latency must be > 0")
	}
	if c.BranchLatency == 0 {
		return fmt.Errorf("branch_latency must be > 0")
	}
	if c.LoadLatency == 0 {
		return fmt.Errorf("load_latency must be > 0")
	}
	if c.CacheMissPenalty < c.LoadLatency {
		return fmt.Errorf("cache_miss_penalty must be >= load_latency")
	}
	return nil
}

// Clone returns a deep copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	return &clone
}
