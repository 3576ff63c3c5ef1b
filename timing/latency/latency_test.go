package latency_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tomasim/insts"
	"github.com/sarchlab/tomasim/timing/latency"
)

var _ = Describe("Latency", func() {
	var table *latency.Table

	BeforeEach(func() {
		table = latency.NewTable()
	})

	Describe("Default Timing Values", func() {
		It("should have correct add/sub latency", func() {
			Expect(table.Config().AddSubLatency).To(Equal(uint64(1)))
		})

		It("should have correct multiply and divide latency", func() {
			Expect(table.Config().MultiplyLatency).To(Equal(uint64(2)))
			Expect(table.Config().DivideLatency).To(Equal(uint64(4)))
		})

		It("should have correct cache miss penalty", func() {
			Expect(table.Config().CacheMissPenalty).To(Equal(uint64(2)))
		})
	})

	DescribeTable("Opcode Latencies",
		func(op insts.Op, expected uint64) {
			Expect(table.GetLatency(op)).To(Equal(expected))
		},
		Entry("ADD.D", insts.OpADDD, uint64(1)),
		Entry("SUB.D", insts.OpSUBD, uint64(1)),
		Entry("ADD.S", insts.OpADDS, uint64(1)),
		Entry("MUL.D", insts.OpMULD, uint64(2)),
		Entry("MUL.S", insts.OpMULS, uint64(2)),
		Entry("DIV.D", insts.OpDIVD, uint64(4)),
		Entry("DIV.S", insts.OpDIVS, uint64(4)),
		Entry("DADDI", insts.OpDADDI, uint64(1)),
		Entry("DSUBI", insts.OpDSUBI, uint64(1)),
		Entry("BEQ", insts.OpBEQ, uint64(1)),
		Entry("BNE", insts.OpBNE, uint64(1)),
		Entry("L.D hit", insts.OpLD, uint64(1)),
		Entry("S.D", insts.OpSD, uint64(0)),
		Entry("unknown", insts.Op(99), uint64(1)),
	)

	Describe("Load Latency", func() {
		It("should use the hit latency on a hit", func() {
			Expect(table.LoadLatency(true)).To(Equal(uint64(1)))
		})

		It("should use the miss penalty on a miss", func() {
			Expect(table.LoadLatency(false)).To(Equal(uint64(2)))
		})
	})

	Describe("Instruction Type Detection", func() {
		It("should detect memory operations", func() {
			Expect(table.IsMemoryOp(insts.OpLD)).To(BeTrue())
			Expect(table.IsMemoryOp(insts.OpSD)).To(BeTrue())
			Expect(table.IsMemoryOp(insts.OpADDD)).To(BeFalse())
		})

		It("should detect branch operations", func() {
			Expect(table.IsBranchOp(insts.OpBEQ)).To(BeTrue())
			Expect(table.IsBranchOp(insts.OpBNE)).To(BeTrue())
			Expect(table.IsBranchOp(insts.OpDADDI)).To(BeFalse())
		})
	})

	Describe("Custom Configuration", func() {
		It("should use custom config values", func() {
			config := latency.DefaultTimingConfig()
			config.MultiplyLatency = 10
			config.DivideLatency = 40
			config.CacheMissPenalty = 12

			customTable := latency.NewTableWithConfig(config)

			Expect(customTable.GetLatency(insts.OpMULD)).To(Equal(uint64(10)))
			Expect(customTable.GetLatency(insts.OpDIVD)).To(Equal(uint64(40)))
			Expect(customTable.LoadLatency(false)).To(Equal(uint64(12)))
		})
	})
})

var _ = Describe("TimingConfig", func() {
	Describe("Default Config", func() {
		It("should create valid default config", func() {
			config := latency.DefaultTimingConfig()
			Expect(config.Validate()).To(Succeed())
		})
	})

	Describe("Validation", func() {
		It("should reject zero add/sub latency", func() {
			config := latency.DefaultTimingConfig()
			config.AddSubLatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject zero divide latency", func() {
			config := latency.DefaultTimingConfig()
			config.DivideLatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject zero load latency", func() {
			config := latency.DefaultTimingConfig()
			config.LoadLatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject a miss penalty below the hit latency", func() {
			config := latency.DefaultTimingConfig()
			config.LoadLatency = 3
			config.CacheMissPenalty = 2
			Expect(config.Validate()).To(HaveOccurred())
		})
	})

	Describe("Clone", func() {
		It("should create independent copy", func() {
			original := latency.DefaultTimingConfig()
			clone := original.Clone()

			clone.AddSubLatency = 100

			Expect(original.AddSubLatency).To(Equal(uint64(1)))
			Expect(clone.AddSubLatency).To(Equal(uint64(100)))
		})
	})

	Describe("File Operations", func() {
		var tempDir string

		BeforeEach(func() {
			var err error
			tempDir, err = os.MkdirTemp("", "latency-test")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			_ = os.RemoveAll(tempDir)
		})

		It("should save and load config", func() {
			original := latency.DefaultTimingConfig()
			original.MultiplyLatency = 5
			original.CacheMissPenalty = 10

			path := filepath.Join(tempDir, "timing.json")
			Expect(original.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.MultiplyLatency).To(Equal(uint64(5)))
			Expect(loaded.CacheMissPenalty).To(Equal(uint64(10)))
		})

		It("should keep defaults for fields missing from the file", func() {
			path := filepath.Join(tempDir, "partial.json")
			err := os.WriteFile(path, []byte(`{"divide_latency": 40}`), 0644)
			Expect(err).NotTo(HaveOccurred())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.DivideLatency).To(Equal(uint64(40)))
			Expect(loaded.MultiplyLatency).To(Equal(uint64(2)))
		})

		It("should return error for non-existent file", func() {
			_, err := latency.LoadConfig("/nonexistent/path/timing.json")
			Expect(err).To(HaveOccurred())
		})

		It("should return error for invalid JSON", func() {
			path := filepath.Join(tempDir, "invalid.json")
			err := os.WriteFile(path, []byte("not valid json"), 0644)
			Expect(err).NotTo(HaveOccurred())

			_, err = latency.LoadConfig(path)
			Expect(err).To(HaveOccurred())
		})
	})
})
