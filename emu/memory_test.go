package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tomasim/emu"
)

var _ = Describe("Memory", func() {
	var memory *emu.Memory

	BeforeEach(func() {
		memory = emu.NewMemory(0)
	})

	It("should default to 1024 cells", func() {
		Expect(memory.Size()).To(Equal(emu.DefaultMemorySize))
		Expect(emu.NewMemory(16).Size()).To(Equal(16))
	})

	It("should start zeroed", func() {
		v, err := memory.Read(100)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(0.0))
	})

	It("should read back what was written at every boundary", func() {
		for _, addr := range []int{0, 1, 511, 1023} {
			Expect(memory.Write(addr, float64(addr)+0.5)).To(Succeed())
			v, err := memory.Read(addr)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(float64(addr) + 0.5))
		}
	})

	It("should reject out-of-range reads", func() {
		_, err := memory.Read(1024)
		Expect(err).To(MatchError(emu.ErrInvalidAddress))

		_, err = memory.Read(-1)
		Expect(err).To(MatchError(emu.ErrInvalidAddress))
	})

	It("should not mutate on out-of-range writes", func() {
		Expect(memory.Write(1024, 7)).To(MatchError(emu.ErrInvalidAddress))
		Expect(memory.Write(-5, 7)).To(MatchError(emu.ErrInvalidAddress))

		for addr := 0; addr < memory.Size(); addr++ {
			v, _ := memory.Read(addr)
			Expect(v).To(BeZero())
		}
	})

	Describe("Load", func() {
		It("should write all pairs", func() {
			Expect(memory.Load(map[int]float64{0: 2.0, 4: 2.0})).To(Succeed())

			v, _ := memory.Read(4)
			Expect(v).To(Equal(2.0))
		})

		It("should write nothing if any address is invalid", func() {
			err := memory.Load(map[int]float64{0: 2.0, 5000: 1.0})
			Expect(err).To(MatchError(emu.ErrInvalidAddress))

			v, _ := memory.Read(0)
			Expect(v).To(BeZero())
		})
	})

	It("should zero every cell on reset", func() {
		Expect(memory.Write(3, 9)).To(Succeed())
		memory.Reset()

		v, _ := memory.Read(3)
		Expect(v).To(BeZero())
	})
})
