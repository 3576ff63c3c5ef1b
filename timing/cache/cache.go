// Package cache provides the block cache that sits in front of memory,
// using Akita cache components for tag and victim bookkeeping.
package cache

import (
	"errors"
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/tomasim/emu"
)

// ErrBlockNotResident is returned when reading a block that is not cached.
var ErrBlockNotResident = errors.New("block not resident in cache")

// Policy selects which resident block is evicted when the cache is full.
type Policy string

// Eviction policies.
const (
	// PolicyFIFO evicts the block that was filled earliest. Hits do not
	// change the eviction order.
	PolicyFIFO Policy = "fifo"
	// PolicyLRU evicts the block that was least recently filled or hit.
	PolicyLRU Policy = "lru"
)

// Config holds cache configuration parameters. Sizes are in memory cells,
// not bytes.
type Config struct {
	// Size is the capacity in cells.
	Size int `json:"size"`
	// BlockSize is the number of cells per block.
	BlockSize int `json:"block_size"`
	// Policy is the eviction policy. Empty means FIFO.
	Policy Policy `json:"policy"`
}

// DefaultConfig returns the default cache: four blocks of four cells,
// FIFO eviction.
func DefaultConfig() Config {
	return Config{
		Size:      16,
		BlockSize: 4,
		Policy:    PolicyFIFO,
	}
}

// NumBlocks returns how many blocks fit in the cache.
func (c Config) NumBlocks() int {
	if c.BlockSize <= 0 {
		return 0
	}
	return c.Size / c.BlockSize
}

// Validate checks that the configuration describes at least one block.
func (c Config) Validate() error {
	if c.BlockSize <= 0 {
		return fmt.Errorf("block_size must be > 0")
	}
	if c.Size < c.BlockSize {
		return fmt.Errorf("size must be >= block_size")
	}
	if c.Size%c.BlockSize != 0 {
		return fmt.Errorf("size must be a multiple of block_size")
	}
	switch c.Policy {
	case "", PolicyFIFO, PolicyLRU:
	default:
		return fmt.Errorf("unknown eviction policy %q", c.Policy)
	}
	return nil
}

// Statistics holds cache statistics.
type Statistics struct {
	Reads     uint64 `json:"reads"`
	Writes    uint64 `json:"writes"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Fills     uint64 `json:"fills"`
	Evictions uint64 `json:"evictions"`
}

// HitRate returns hits over probes, or 0 before the first probe.
func (s Statistics) HitRate() float64 {
	probes := s.Hits + s.Misses
	if probes == 0 {
		return 0
	}
	return float64(s.Hits) / float64(probes)
}

// BackingStore is the next level in the memory hierarchy.
type BackingStore interface {
	// Read fetches one cell.
	Read(addr int) (float64, error)
	// Write stores one cell.
	Write(addr int, v float64) error
}

// Cache is a fully associative, write-through block cache.
//
// Probe is the only operation that counts hits and misses. Stores do not
// allocate: Write on a missing block does nothing, and the caller is
// expected to write the backing store as well.
type Cache struct {
	config Config

	// Akita directory with a single set; ways are the cache blocks.
	directory *akitacache.DirectoryImpl

	// Data storage, indexed by way.
	dataStore [][]float64

	stats Statistics

	backing BackingStore
}

// New creates a new cache with the given configuration.
func New(config Config, backing BackingStore) *Cache {
	if config.Policy == "" {
		config.Policy = PolicyFIFO
	}

	numBlocks := config.NumBlocks()

	dataStore := make([][]float64, numBlocks)
	for i := range dataStore {
		dataStore[i] = make([]float64, config.BlockSize)
	}

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			1,
			numBlocks,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		dataStore: dataStore,
		backing:   backing,
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}

// BlockNumber returns the number of the block that holds addr.
func (c *Cache) BlockNumber(addr int) int {
	return addr / c.config.BlockSize
}

func (c *Cache) blockAddr(addr int) uint64 {
	return uint64(c.BlockNumber(addr) * c.config.BlockSize)
}

func (c *Cache) lookup(addr int) *akitacache.Block {
	if addr < 0 {
		return nil
	}

	block := c.directory.Lookup(0, c.blockAddr(addr))
	if block == nil || !block.IsValid {
		return nil
	}
	return block
}

// Resident reports whether the block holding addr is cached, without
// touching statistics.
func (c *Cache) Resident(addr int) bool {
	return c.lookup(addr) != nil
}

// Probe checks whether the block holding addr is cached. Every probe counts
// as exactly one hit or one miss.
func (c *Cache) Probe(addr int) bool {
	block := c.lookup(addr)
	if block == nil {
		c.stats.Misses++
		return false
	}

	c.stats.Hits++
	if c.config.Policy == PolicyLRU {
		c.directory.Visit(block)
	}
	return true
}

// Read returns the cached value at addr. The block must be resident.
func (c *Cache) Read(addr int) (float64, error) {
	block := c.lookup(addr)
	if block == nil {
		return 0, fmt.Errorf("%w: address %d", ErrBlockNotResident, addr)
	}

	c.stats.Reads++
	offset := addr % c.config.BlockSize
	return c.dataStore[block.WayID][offset], nil
}

// Write updates the cached value at addr if its block is resident, and
// reports whether it did.
func (c *Cache) Write(addr int, v float64) bool {
	block := c.lookup(addr)
	if block == nil {
		return false
	}

	c.stats.Writes++
	offset := addr % c.config.BlockSize
	c.dataStore[block.WayID][offset] = v
	return true
}

// Fill loads the whole block holding addr from the backing store. When the
// cache is full, one resident block is evicted according to the policy.
// Filling a resident block does nothing. Nothing changes if the backing
// store cannot supply the cell at addr; cells past the end of memory read
// as zero.
func (c *Cache) Fill(addr int) error {
	if c.Resident(addr) {
		return nil
	}
	if addr < 0 {
		return fmt.Errorf("cannot fill block for address %d", addr)
	}

	start := c.BlockNumber(addr) * c.config.BlockSize
	data := make([]float64, c.config.BlockSize)
	for i := range data {
		v, err := c.backing.Read(start + i)
		if err != nil {
			// The last block of a memory whose size is not a multiple of
			// the block size is padded with zeros.
			if start+i > addr && errors.Is(err, emu.ErrInvalidAddress) {
				break
			}
			return fmt.Errorf("fill block %d: %w", c.BlockNumber(addr), err)
		}
		data[i] = v
	}

	victim := c.directory.FindVictim(c.blockAddr(addr))
	if victim == nil {
		return fmt.Errorf("fill block %d: no victim available", c.BlockNumber(addr))
	}

	if victim.IsValid {
		c.stats.Evictions++
	}

	copy(c.dataStore[victim.WayID], data)
	victim.Tag = c.blockAddr(addr)
	victim.IsValid = true
	victim.IsDirty = false

	c.directory.Visit(victim)
	c.stats.Fills++

	return nil
}

// ResidentBlocks returns the resident block numbers, next victim first.
func (c *Cache) ResidentBlocks() []int {
	var blocks []int
	for _, set := range c.directory.GetSets() {
		for _, block := range set.LRUQueue {
			if block.IsValid {
				blocks = append(blocks, int(block.Tag)/c.config.BlockSize)
			}
		}
	}
	return blocks
}

// Invalidate drops the block holding addr, if cached.
func (c *Cache) Invalidate(addr int) {
	if block := c.lookup(addr); block != nil {
		block.IsValid = false
		block.IsDirty = false
	}
}

// Reset invalidates all blocks and clears statistics.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.stats = Statistics{}
	for _, data := range c.dataStore {
		clear(data)
	}
}
