package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tomasim/emu"
	"github.com/sarchlab/tomasim/insts"
	"github.com/sarchlab/tomasim/timing/cache"
	"github.com/sarchlab/tomasim/timing/latency"
	"github.com/sarchlab/tomasim/timing/pipeline"
)

var _ = Describe("StationPool", func() {
	var (
		pool  *pipeline.StationPool
		table *latency.Table
		alu   *emu.ALU
	)

	BeforeEach(func() {
		pool = pipeline.NewStationPool(insts.ClassMulDiv, "Mult", 2, 10)
		table = latency.NewTable()
		alu = emu.NewALU()
	})

	It("should name and tag stations in order", func() {
		stations := pool.Stations()
		Expect(stations[0].Name).To(Equal("Mult1"))
		Expect(stations[1].Name).To(Equal("Mult2"))
		Expect(stations[0].Tag).To(Equal(pipeline.Tag(10)))
		Expect(stations[1].Tag).To(Equal(pipeline.Tag(11)))
	})

	It("should allocate the first free station", func() {
		rs1, err := pool.Allocate(insts.OpMULD,
			pipeline.ValueSource(1), pipeline.ValueSource(2))
		Expect(err).NotTo(HaveOccurred())
		Expect(rs1.Name).To(Equal("Mult1"))

		rs2, err := pool.Allocate(insts.OpMULD,
			pipeline.ValueSource(1), pipeline.ValueSource(2))
		Expect(err).NotTo(HaveOccurred())
		Expect(rs2.Name).To(Equal("Mult2"))

		pool.Free(rs1)
		rs3, err := pool.Allocate(insts.OpDIVD,
			pipeline.ValueSource(1), pipeline.ValueSource(2))
		Expect(err).NotTo(HaveOccurred())
		Expect(rs3.Name).To(Equal("Mult1"))
		Expect(rs3.Op).To(Equal(insts.OpDIVD))
	})

	It("should report a structural hazard when full", func() {
		for i := 0; i < 2; i++ {
			_, err := pool.Allocate(insts.OpMULD,
				pipeline.ValueSource(1), pipeline.ValueSource(2))
			Expect(err).NotTo(HaveOccurred())
		}

		_, err := pool.Allocate(insts.OpMULD,
			pipeline.ValueSource(1), pipeline.ValueSource(2))
		Expect(err).To(MatchError(pipeline.ErrNoFreeUnit))
		Expect(err.Error()).To(ContainSubstring("mul/div"))
		Expect(pool.Busy()).To(Equal(2))
	})

	It("should compute after the latency countdown", func() {
		rs, _ := pool.Allocate(insts.OpMULD,
			pipeline.ValueSource(3), pipeline.ValueSource(4))

		pool.Advance(table, alu)
		Expect(rs.Executing).To(BeTrue())
		Expect(rs.Remaining).To(Equal(uint64(1)))

		pool.Advance(table, alu)
		Expect(rs.Remaining).To(BeZero())
		Expect(rs.Completed()).To(BeFalse())

		pool.Advance(table, alu)
		Expect(rs.Completed()).To(BeTrue())
		Expect(rs.Executing).To(BeFalse())
		Expect(rs.Result).To(Equal(12.0))
		Expect(pool.Completed()).To(ConsistOf(rs))
	})

	It("should wait for pending operands", func() {
		rs, _ := pool.Allocate(insts.OpDIVD,
			pipeline.TagSource(1), pipeline.ValueSource(4))

		pool.Advance(table, alu)
		Expect(rs.Executing).To(BeFalse())

		Expect(pool.Resolve(1, 8)).To(Equal(1))
		Expect(rs.Ready()).To(BeTrue())
		Expect(rs.Vj).To(Equal(8.0))

		pool.Advance(table, alu)
		Expect(rs.Executing).To(BeTrue())
	})

	It("should resolve both operands waiting on the same tag", func() {
		rs, _ := pool.Allocate(insts.OpMULD,
			pipeline.TagSource(2), pipeline.TagSource(2))

		Expect(pool.Resolve(2, 3)).To(Equal(1))
		Expect(rs.Vj).To(Equal(3.0))
		Expect(rs.Vk).To(Equal(3.0))
	})

	It("should flag division by zero without faulting", func() {
		rs, _ := pool.Allocate(insts.OpDIVD,
			pipeline.ValueSource(5), pipeline.ValueSource(0))

		for i := 0; i < 5; i++ {
			pool.Advance(table, alu)
		}

		Expect(rs.Completed()).To(BeTrue())
		Expect(rs.Result).To(BeZero())
		Expect(rs.Err).To(MatchError(emu.ErrDivisionByZero))
		Expect(rs.Faulted).To(BeFalse())
	})

	It("should fault on an opcode the ALU does not know", func() {
		rs, _ := pool.Allocate(insts.OpLD,
			pipeline.ValueSource(1), pipeline.ValueSource(2))

		pool.Advance(table, alu)
		pool.Advance(table, alu)

		Expect(rs.Completed()).To(BeTrue())
		Expect(rs.Faulted).To(BeTrue())
		Expect(rs.Err).To(MatchError(emu.ErrUnknownOpcode))
	})
})

var _ = Describe("LoadBufferPool", func() {
	var (
		pool   *pipeline.LoadBufferPool
		memory *emu.Memory
		c      *cache.Cache
		table  *latency.Table
	)

	BeforeEach(func() {
		pool = pipeline.NewLoadBufferPool(3, 1)
		memory = emu.NewMemory(64)
		c = cache.New(cache.DefaultConfig(), cache.NewMemoryBacking(memory))
		table = latency.NewTable()
		Expect(memory.Write(4, 2.5)).To(Succeed())
	})

	It("should take the miss penalty on a cold cache", func() {
		lb, err := pool.Allocate(4)
		Expect(err).NotTo(HaveOccurred())
		Expect(lb.Name).To(Equal("Load1"))

		pool.Advance(c, memory, table)
		Expect(lb.Hit).To(BeFalse())
		Expect(lb.Value).To(Equal(2.5))
		Expect(lb.Remaining).To(Equal(uint64(2)))
		Expect(c.Resident(4)).To(BeTrue())

		pool.Advance(c, memory, table)
		Expect(lb.Completed()).To(BeFalse())

		pool.Advance(c, memory, table)
		Expect(lb.Completed()).To(BeTrue())
		Expect(c.Stats().Misses).To(Equal(uint64(1)))
	})

	It("should take the hit latency on a resident block", func() {
		Expect(c.Fill(4)).To(Succeed())
		lb, _ := pool.Allocate(5)

		pool.Advance(c, memory, table)
		Expect(lb.Hit).To(BeTrue())
		Expect(lb.Remaining).To(Equal(uint64(1)))

		pool.Advance(c, memory, table)
		Expect(lb.Completed()).To(BeTrue())
		Expect(c.Stats().Hits).To(Equal(uint64(1)))
	})

	It("should fault on an address outside memory", func() {
		lb, _ := pool.Allocate(100)

		pool.Advance(c, memory, table)
		Expect(lb.Completed()).To(BeTrue())
		Expect(lb.Faulted).To(BeTrue())
		Expect(lb.Err).To(MatchError(emu.ErrInvalidAddress))
	})

	It("should report a structural hazard when full", func() {
		for i := 0; i < 3; i++ {
			_, err := pool.Allocate(i)
			Expect(err).NotTo(HaveOccurred())
		}
		_, err := pool.Allocate(3)
		Expect(err).To(MatchError(pipeline.ErrNoFreeUnit))
	})
})

var _ = Describe("StoreBufferPool", func() {
	var (
		pool   *pipeline.StoreBufferPool
		memory *emu.Memory
		c      *cache.Cache
	)

	BeforeEach(func() {
		pool = pipeline.NewStoreBufferPool(3, 4)
		memory = emu.NewMemory(64)
		c = cache.New(cache.DefaultConfig(), cache.NewMemoryBacking(memory))
	})

	It("should write memory once the value is ready", func() {
		sb, err := pool.Allocate(8, pipeline.ValueSource(3))
		Expect(err).NotTo(HaveOccurred())
		Expect(sb.Name).To(Equal("Store1"))

		pool.Advance(c, memory)

		Expect(sb.Completed()).To(BeTrue())
		v, _ := memory.Read(8)
		Expect(v).To(Equal(3.0))
		Expect(c.Resident(8)).To(BeFalse())
	})

	It("should update a resident cache block", func() {
		Expect(c.Fill(8)).To(Succeed())
		pool.Allocate(9, pipeline.ValueSource(6))

		pool.Advance(c, memory)

		v, err := c.Read(9)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(6.0))
	})

	It("should wait for a pending value", func() {
		sb, _ := pool.Allocate(8, pipeline.TagSource(2))

		pool.Advance(c, memory)
		Expect(sb.Completed()).To(BeFalse())

		Expect(pool.Resolve(2, 4)).To(Equal(1))
		pool.Advance(c, memory)

		Expect(sb.Completed()).To(BeTrue())
		v, _ := memory.Read(8)
		Expect(v).To(Equal(4.0))
	})
})

var _ = Describe("CommonDataBus", func() {
	var (
		rf     *pipeline.RegFile
		addSub *pipeline.StationPool
		stores *pipeline.StoreBufferPool
		bus    *pipeline.CommonDataBus
	)

	BeforeEach(func() {
		var err error
		rf, err = pipeline.NewRegFile(pipeline.RegFileConfig{
			Initial: map[string]float64{"F0": 7},
		})
		Expect(err).NotTo(HaveOccurred())

		addSub = pipeline.NewStationPool(insts.ClassAddSub, "Add", 3, 1)
		stores = pipeline.NewStoreBufferPool(3, 4)
		bus = pipeline.NewCommonDataBus(rf, stores, addSub)
	})

	It("should deliver a result to registers, stations and stores", func() {
		Expect(rf.SetTag("F0", 9)).To(Succeed())
		rs, _ := addSub.Allocate(insts.OpADDD,
			pipeline.TagSource(9), pipeline.ValueSource(1))
		sb, _ := stores.Allocate(0, pipeline.TagSource(9))

		msg := bus.Send("Mult1", 9, 2, false)

		Expect(msg.Registers).To(Equal(1))
		Expect(msg.Operands).To(Equal(2))
		v, _ := rf.Value("F0")
		Expect(v).To(Equal(2.0))
		Expect(rs.Vj).To(Equal(2.0))
		Expect(sb.Value).To(Equal(2.0))
	})

	It("should release consumers of a poisoned result", func() {
		Expect(rf.SetTag("F0", 9)).To(Succeed())
		rs, _ := addSub.Allocate(insts.OpADDD,
			pipeline.ValueSource(1), pipeline.TagSource(9))

		msg := bus.Send("Mult1", 9, 5, true)

		Expect(msg.Poisoned).To(BeTrue())
		v, _ := rf.Value("F0")
		Expect(v).To(Equal(7.0))
		ready, _ := rf.Ready("F0")
		Expect(ready).To(BeTrue())
		Expect(rs.Ready()).To(BeTrue())
		Expect(rs.Vk).To(BeZero())
	})
})
