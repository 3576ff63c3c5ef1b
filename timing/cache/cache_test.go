package cache_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/tomasim/emu"
	"github.com/sarchlab/tomasim/timing/cache"
)

var _ = Describe("Cache", func() {
	var (
		c       *cache.Cache
		memory  *emu.Memory
		backing *cache.MemoryBacking
	)

	BeforeEach(func() {
		memory = emu.NewMemory(64)
		backing = cache.NewMemoryBacking(memory)
		c = cache.New(cache.DefaultConfig(), backing)
	})

	Describe("Probe", func() {
		It("should miss on cold cache", func() {
			Expect(c.Probe(0)).To(BeFalse())

			stats := c.Stats()
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Hits).To(Equal(uint64(0)))
		})

		It("should hit after the block is filled", func() {
			Expect(c.Probe(0)).To(BeFalse())
			Expect(c.Fill(0)).To(Succeed())
			Expect(c.Probe(0)).To(BeTrue())

			stats := c.Stats()
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Hits).To(Equal(uint64(1)))
			Expect(stats.HitRate()).To(Equal(0.5))
		})

		It("should hit on other addresses of the same block", func() {
			Expect(c.Fill(1)).To(Succeed())
			Expect(c.Probe(3)).To(BeTrue())
			Expect(c.Probe(4)).To(BeFalse())
		})

		It("should count a miss for a negative address", func() {
			Expect(c.Probe(-1)).To(BeFalse())
			Expect(c.Stats().Misses).To(Equal(uint64(1)))
		})
	})

	Describe("Read", func() {
		It("should return the filled value", func() {
			Expect(memory.Write(5, 2.5)).To(Succeed())
			Expect(c.Fill(5)).To(Succeed())

			v, err := c.Read(5)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(2.5))
		})

		It("should fail when the block is not resident", func() {
			_, err := c.Read(8)
			Expect(err).To(MatchError(cache.ErrBlockNotResident))
		})

		It("should not change hit or miss counters", func() {
			Expect(c.Fill(0)).To(Succeed())
			_, _ = c.Read(0)

			stats := c.Stats()
			Expect(stats.Reads).To(Equal(uint64(1)))
			Expect(stats.Hits + stats.Misses).To(BeZero())
		})
	})

	Describe("Write", func() {
		It("should update a resident block", func() {
			Expect(c.Fill(0)).To(Succeed())
			Expect(c.Write(2, 7.0)).To(BeTrue())

			v, err := c.Read(2)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(7.0))
		})

		It("should not allocate on a miss", func() {
			Expect(c.Write(2, 7.0)).To(BeFalse())
			Expect(c.Resident(2)).To(BeFalse())
			Expect(c.Stats().Writes).To(BeZero())
		})

		It("should not write through to memory", func() {
			Expect(c.Fill(0)).To(Succeed())
			c.Write(0, 3.0)

			v, err := memory.Read(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(0.0))
		})
	})

	Describe("Fill", func() {
		It("should load the whole block", func() {
			Expect(memory.Load(map[int]float64{4: 1, 5: 2, 6: 3, 7: 4})).To(Succeed())
			Expect(c.Fill(6)).To(Succeed())

			for addr, want := range map[int]float64{4: 1, 5: 2, 6: 3, 7: 4} {
				v, err := c.Read(addr)
				Expect(err).NotTo(HaveOccurred())
				Expect(v).To(Equal(want))
			}
		})

		It("should do nothing for a resident block", func() {
			Expect(c.Fill(0)).To(Succeed())
			Expect(c.Write(0, 9.0)).To(BeTrue())
			Expect(c.Fill(0)).To(Succeed())

			v, _ := c.Read(0)
			Expect(v).To(Equal(9.0))
			Expect(c.Stats().Fills).To(Equal(uint64(1)))
		})

		It("should fail for a block outside memory", func() {
			err := c.Fill(64)
			Expect(err).To(MatchError(emu.ErrInvalidAddress))
			Expect(c.Resident(64)).To(BeFalse())
		})

		It("should pad the last partial block of memory with zeros", func() {
			short := emu.NewMemory(62)
			Expect(short.Write(61, 7.0)).To(Succeed())
			c = cache.New(cache.DefaultConfig(), cache.NewMemoryBacking(short))

			Expect(c.Fill(61)).To(Succeed())

			v, err := c.Read(61)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(7.0))
			Expect(c.Resident(60)).To(BeTrue())
		})

		It("should evict when full", func() {
			for _, addr := range []int{0, 4, 8, 12, 16} {
				Expect(c.Fill(addr)).To(Succeed())
			}

			stats := c.Stats()
			Expect(stats.Fills).To(Equal(uint64(5)))
			Expect(stats.Evictions).To(Equal(uint64(1)))
			Expect(c.ResidentBlocks()).To(HaveLen(4))
		})
	})

	Describe("Eviction policy", func() {
		newTwoBlockCache := func(policy cache.Policy) *cache.Cache {
			return cache.New(cache.Config{
				Size:      8,
				BlockSize: 4,
				Policy:    policy,
			}, backing)
		}

		It("should evict the earliest filled block under FIFO", func() {
			fifo := newTwoBlockCache(cache.PolicyFIFO)
			Expect(fifo.Fill(0)).To(Succeed())
			Expect(fifo.Fill(4)).To(Succeed())
			Expect(fifo.Probe(0)).To(BeTrue())

			Expect(fifo.Fill(8)).To(Succeed())

			Expect(fifo.Resident(0)).To(BeFalse())
			Expect(fifo.Resident(4)).To(BeTrue())
			Expect(fifo.ResidentBlocks()).To(Equal([]int{1, 2}))
		})

		It("should evict the least recently used block under LRU", func() {
			lru := newTwoBlockCache(cache.PolicyLRU)
			Expect(lru.Fill(0)).To(Succeed())
			Expect(lru.Fill(4)).To(Succeed())
			Expect(lru.Probe(0)).To(BeTrue())

			Expect(lru.Fill(8)).To(Succeed())

			Expect(lru.Resident(0)).To(BeTrue())
			Expect(lru.Resident(4)).To(BeFalse())
		})

		It("should default to FIFO", func() {
			Expect(newTwoBlockCache("").Config().Policy).To(Equal(cache.PolicyFIFO))
		})
	})

	Describe("Invalidate and Reset", func() {
		It("should drop a single block", func() {
			Expect(c.Fill(0)).To(Succeed())
			Expect(c.Fill(4)).To(Succeed())
			c.Invalidate(1)

			Expect(c.Resident(0)).To(BeFalse())
			Expect(c.Resident(4)).To(BeTrue())
		})

		It("should clear blocks and statistics", func() {
			Expect(c.Fill(0)).To(Succeed())
			c.Probe(0)
			c.Reset()

			Expect(c.Resident(0)).To(BeFalse())
			Expect(c.Stats()).To(Equal(cache.Statistics{}))
		})
	})
})

var _ = Describe("Cache with mocked backing store", func() {
	var (
		mockCtrl *gomock.Controller
		store    *MockBackingStore
		c        *cache.Cache
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		store = NewMockBackingStore(mockCtrl)
		c = cache.New(cache.DefaultConfig(), store)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should read every cell of the block on fill", func() {
		for addr := 8; addr < 12; addr++ {
			store.EXPECT().Read(addr).Return(float64(addr), nil)
		}

		Expect(c.Fill(10)).To(Succeed())

		v, err := c.Read(11)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(11.0))
	})

	It("should leave the cache unchanged when the backing store fails", func() {
		backingErr := errors.New("bus error")
		store.EXPECT().Read(0).Return(1.0, nil)
		store.EXPECT().Read(1).Return(0.0, backingErr)

		err := c.Fill(0)
		Expect(err).To(MatchError(backingErr))
		Expect(c.Resident(0)).To(BeFalse())
		Expect(c.Stats().Fills).To(BeZero())
	})

	It("should never touch the backing store on a write", func() {
		store.EXPECT().Write(gomock.Any(), gomock.Any()).Times(0)
		store.EXPECT().Read(gomock.Any()).Return(0.0, nil).Times(4)

		Expect(c.Fill(0)).To(Succeed())
		Expect(c.Write(0, 1.0)).To(BeTrue())
		Expect(c.Write(100, 1.0)).To(BeFalse())
	})
})

var _ = Describe("Config", func() {
	It("should accept the default config", func() {
		Expect(cache.DefaultConfig().Validate()).To(Succeed())
		Expect(cache.DefaultConfig().NumBlocks()).To(Equal(4))
	})

	DescribeTable("invalid configs",
		func(config cache.Config) {
			Expect(config.Validate()).To(HaveOccurred())
		},
		Entry("zero block size", cache.Config{Size: 16, BlockSize: 0}),
		Entry("size below block size", cache.Config{Size: 2, BlockSize: 4}),
		Entry("size not a multiple", cache.Config{Size: 10, BlockSize: 4}),
		Entry("unknown policy", cache.Config{Size: 16, BlockSize: 4, Policy: "random"}),
	)
})
